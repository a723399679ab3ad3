package orderbook

import (
	"container/heap"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite returns the side a taker on s matches against
func (s Side) Opposite() Side { return -s }

// ParseSide accepts "buy"/"sell" in any case
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "bid":
		return Buy, nil
	case "sell", "ask":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

var ErrDuplicateOrder = errors.New("order already resting")

// Entry is a resting order as seen by the book: only what matching needs.
type Entry struct {
	ID    uint64
	Side  Side
	Price *big.Int
	Qty   *big.Int
}

func (e *Entry) clone() Entry {
	return Entry{ID: e.ID, Side: e.Side, Price: new(big.Int).Set(e.Price), Qty: new(big.Int).Set(e.Qty)}
}

type PriceLevel struct {
	Price  *big.Int
	Qty    *big.Int // total qty at this price level
	Orders int
}

type location struct {
	side Side
	key  string
}

// OrderBook keeps active orders per side: heap-tracked best price and a FIFO queue per price.
// It holds no escrow or ownership data; the ledger owns the order records.
type OrderBook struct {
	mu sync.RWMutex

	// Heap-based best price tracking (O(1) peek)
	bidHeap *MaxPriceHeap
	askHeap *MinPriceHeap

	// Price level queues (FIFO matching at each price), keyed by decimal price
	bids map[string][]*Entry
	asks map[string][]*Entry

	// Order index for O(1) level lookup on cancel/reduce
	orderIndex map[uint64]location
}

func NewOrderBook() *OrderBook {
	bidHeap := &MaxPriceHeap{}
	askHeap := &MinPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &OrderBook{
		bidHeap:    bidHeap,
		askHeap:    askHeap,
		bids:       make(map[string][]*Entry),
		asks:       make(map[string][]*Entry),
		orderIndex: make(map[uint64]location),
	}
}

func (ob *OrderBook) levels(side Side) map[string][]*Entry {
	if side == Buy {
		return ob.bids
	}
	return ob.asks
}

// Add appends an order to the back of its price level.
func (ob *OrderBook) Add(side Side, id uint64, price, qty *big.Int) error {
	if !side.Valid() {
		return fmt.Errorf("invalid side %d", side)
	}
	if price == nil || price.Sign() <= 0 || qty == nil || qty.Sign() <= 0 {
		return fmt.Errorf("order %d: price and qty must be positive", id)
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	if _, ok := ob.orderIndex[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateOrder, id)
	}

	key := price.String()
	lv := ob.levels(side)
	if len(lv[key]) == 0 {
		// New price level - add to heap
		if side == Buy {
			heap.Push(ob.bidHeap, new(big.Int).Set(price))
		} else {
			heap.Push(ob.askHeap, new(big.Int).Set(price))
		}
	}
	lv[key] = append(lv[key], &Entry{
		ID:    id,
		Side:  side,
		Price: new(big.Int).Set(price),
		Qty:   new(big.Int).Set(qty),
	})
	ob.orderIndex[id] = location{side: side, key: key}
	return nil
}

// Remove takes an order out of the book. Returns false if it is not resting.
func (ob *OrderBook) Remove(id uint64) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.removeLocked(id)
}

func (ob *OrderBook) removeLocked(id uint64) bool {
	loc, ok := ob.orderIndex[id]
	if !ok {
		return false
	}
	lv := ob.levels(loc.side)
	arr := lv[loc.key]
	for i, e := range arr {
		if e.ID != id {
			continue
		}
		lv[loc.key] = append(arr[:i], arr[i+1:]...)
		if len(lv[loc.key]) == 0 {
			delete(lv, loc.key)
			ob.removeFromHeap(loc.side, e.Price)
		}
		delete(ob.orderIndex, id)
		return true
	}
	return false
}

// Reduce lowers the resting qty of an order by qty, dropping it when nothing is left.
// Returns the remaining qty.
func (ob *OrderBook) Reduce(id uint64, qty *big.Int) (*big.Int, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	loc, ok := ob.orderIndex[id]
	if !ok {
		return nil, fmt.Errorf("order %d not resting", id)
	}
	for _, e := range ob.levels(loc.side)[loc.key] {
		if e.ID != id {
			continue
		}
		if e.Qty.Cmp(qty) < 0 {
			return nil, fmt.Errorf("order %d: reduce %s exceeds resting %s", id, qty, e.Qty)
		}
		e.Qty.Sub(e.Qty, qty)
		left := new(big.Int).Set(e.Qty)
		if left.Sign() == 0 {
			ob.removeLocked(id)
		}
		return left, nil
	}
	return nil, fmt.Errorf("order %d not resting", id)
}

// removeFromHeap removes a price level from the side's heap (O(N) worst case, but rare)
func (ob *OrderBook) removeFromHeap(side Side, price *big.Int) {
	if side == Buy {
		for i := 0; i < ob.bidHeap.Len(); i++ {
			if (*ob.bidHeap)[i].Cmp(price) == 0 {
				heap.Remove(ob.bidHeap, i)
				return
			}
		}
		return
	}
	for i := 0; i < ob.askHeap.Len(); i++ {
		if (*ob.askHeap)[i].Cmp(price) == 0 {
			heap.Remove(ob.askHeap, i)
			return
		}
	}
}

// Crosses reports whether a taker on side at limit can trade against a resting price.
func Crosses(taker Side, limit, resting *big.Int) bool {
	if taker == Buy {
		return resting.Cmp(limit) <= 0
	}
	return resting.Cmp(limit) >= 0
}

// Crossing returns copies of the resting orders a taker at limit would match, in
// price-time priority: best price first, then arrival order within a level.
func (ob *OrderBook) Crossing(taker Side, limit *big.Int) []Entry {
	var out []Entry
	ob.WalkCrossing(taker, limit, func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// WalkCrossing calls fn with a copy of each resting order a taker at limit would
// match, in the same order as Crossing, until fn returns false. Levels are read off
// the opposite side's heap best-first, so a taker filled by the first maker costs
// one level regardless of book size. fn must not modify the book.
func (ob *OrderBook) WalkCrossing(taker Side, limit *big.Int, fn func(Entry) bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	var prices []*big.Int
	if taker == Buy {
		prices = *ob.askHeap
	} else {
		prices = *ob.bidHeap
	}
	if len(prices) == 0 {
		return
	}

	lv := ob.levels(taker.Opposite())
	next := &levelCursor{prices: prices, buy: taker == Buy, idx: []int{0}}
	for next.Len() > 0 {
		i := heap.Pop(next).(int)
		p := prices[i]
		if !Crosses(taker, limit, p) {
			return
		}
		for _, e := range lv[p.String()] {
			if !fn(e.clone()) {
				return
			}
		}
		for _, c := range [2]int{2*i + 1, 2*i + 2} {
			if c < len(prices) {
				heap.Push(next, c)
			}
		}
	}
}

// BestBid returns the highest bid price, or nil if there are no bids
func (ob *OrderBook) BestBid() *big.Int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	if p := ob.bidHeap.Peek(); p != nil {
		return new(big.Int).Set(p)
	}
	return nil
}

// BestAsk returns the lowest ask price, or nil if there are no asks
func (ob *OrderBook) BestAsk() *big.Int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	if p := ob.askHeap.Peek(); p != nil {
		return new(big.Int).Set(p)
	}
	return nil
}

// Levels returns aggregated price levels for a side, best price first.
// depth <= 0 returns every level.
func (ob *OrderBook) Levels(side Side, depth int) []PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	var levels []PriceLevel
	for _, orders := range ob.levels(side) {
		if len(orders) == 0 {
			continue
		}
		total := new(big.Int)
		for _, o := range orders {
			total.Add(total, o.Qty)
		}
		levels = append(levels, PriceLevel{
			Price:  new(big.Int).Set(orders[0].Price),
			Qty:    total,
			Orders: len(orders),
		})
	}

	sort.Slice(levels, func(i, j int) bool {
		if side == Buy {
			return levels[i].Price.Cmp(levels[j].Price) > 0
		}
		return levels[i].Price.Cmp(levels[j].Price) < 0
	})

	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	return levels
}

func (ob *OrderBook) Contains(id uint64) bool {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	_, ok := ob.orderIndex[id]
	return ok
}

// Len returns the number of resting orders on both sides
func (ob *OrderBook) Len() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.orderIndex)
}
