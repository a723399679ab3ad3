package ledger

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/carbonledger/pkg/app/core/token"
)

// stage collects every effect of one mutating call. Nothing in it is visible to
// readers until commit persists it in one pebble batch and swaps it in.
type stage struct {
	l   *Ledger
	now int64

	base  *token.Tx
	quote *token.Tx

	orders      map[uint64]*Order // existing orders touched by this call
	newOrders   []*Order
	listings    map[uint64]*Listing
	newListings []*Listing
	reps        map[common.Address]Reputation
	trades      []*Trade

	bookOps []func() error
}

func (l *Ledger) begin() *stage {
	return &stage{
		l:        l,
		now:      l.cfg.Clock.Now().UnixMilli(),
		base:     l.base.Begin(),
		quote:    l.quote.Begin(),
		orders:   make(map[uint64]*Order),
		listings: make(map[uint64]*Listing),
		reps:     make(map[common.Address]Reputation),
	}
}

func (s *stage) tx(a Asset) *token.Tx {
	if a == Base {
		return s.base
	}
	return s.quote
}

func (s *stage) nextOrderID() uint64 { return uint64(len(s.l.orders) + len(s.newOrders)) }

// order returns the staged copy of id, staging it on first access.
func (s *stage) order(id uint64) (*Order, error) {
	if o, ok := s.orders[id]; ok {
		return o, nil
	}
	n := uint64(len(s.l.orders))
	if id < n {
		o := s.l.orders[id].Clone()
		s.orders[id] = o
		return o, nil
	}
	if id-n < uint64(len(s.newOrders)) {
		return s.newOrders[id-n], nil
	}
	return nil, fmt.Errorf("%w: order %d", ErrNotFound, id)
}

func (s *stage) addOrder(o *Order) {
	o.ID = s.nextOrderID()
	s.newOrders = append(s.newOrders, o)
}

func (s *stage) listing(id uint64) (*Listing, error) {
	if li, ok := s.listings[id]; ok {
		return li, nil
	}
	n := uint64(len(s.l.listings))
	if id < n {
		li := s.l.listings[id].Clone()
		s.listings[id] = li
		return li, nil
	}
	if id-n < uint64(len(s.newListings)) {
		return s.newListings[id-n], nil
	}
	return nil, fmt.Errorf("%w: listing %d", ErrNotFound, id)
}

func (s *stage) addListing(li *Listing) {
	li.ID = uint64(len(s.l.listings) + len(s.newListings))
	s.newListings = append(s.newListings, li)
}

func (s *stage) reputation(addr common.Address) Reputation {
	if r, ok := s.reps[addr]; ok {
		return r
	}
	return s.l.reputations[addr]
}

// bumpReputation adds one attempt, and one success when ok.
func (s *stage) bumpReputation(addr common.Address, ok bool) {
	r := s.reputation(addr)
	r.Total++
	if ok {
		r.Successful++
	}
	s.reps[addr] = r
}

func (s *stage) recordTrade(t *Trade) {
	t.ID = uuid.NewString()
	t.Seq = s.l.nextTrade + uint64(len(s.trades))
	t.Timestamp = s.now
	s.trades = append(s.trades, t)
}

func (s *stage) onBook(op func() error) { s.bookOps = append(s.bookOps, op) }

// touchedOrders returns staged orders in id order
func (s *stage) touchedOrders() []*Order {
	out := make([]*Order, 0, len(s.orders)+len(s.newOrders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	out = append(out, s.newOrders...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *stage) touchedListings() []*Listing {
	out := make([]*Listing, 0, len(s.listings)+len(s.newListings))
	for _, li := range s.listings {
		out = append(out, li)
	}
	out = append(out, s.newListings...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// commit persists the stage in a single batch, then applies it in memory.
// Caller holds l.mu for writing.
func (l *Ledger) commit(s *stage) error {
	bw := l.store.NewBatch()
	defer bw.Close()

	for _, o := range s.touchedOrders() {
		if err := bw.SaveOrder(o); err != nil {
			return fmt.Errorf("persist order %d: %w", o.ID, err)
		}
	}
	for _, li := range s.touchedListings() {
		if err := bw.SaveListing(li); err != nil {
			return fmt.Errorf("persist listing %d: %w", li.ID, err)
		}
	}
	for addr, r := range s.reps {
		if err := bw.SaveReputation(addr, r); err != nil {
			return fmt.Errorf("persist reputation: %w", err)
		}
	}
	for _, t := range s.trades {
		if err := bw.SaveTrade(t); err != nil {
			return fmt.Errorf("persist trade: %w", err)
		}
	}
	if err := bw.SaveTokenChanges(s.base.Changes()); err != nil {
		return fmt.Errorf("persist %s balances: %w", l.cfg.BaseSymbol, err)
	}
	if err := bw.SaveTokenChanges(s.quote.Changes()); err != nil {
		return fmt.Errorf("persist %s balances: %w", l.cfg.QuoteSymbol, err)
	}
	if len(s.newOrders) > 0 {
		if err := bw.SaveMeta(metaNextOrder, s.nextOrderID()); err != nil {
			return err
		}
	}
	if len(s.newListings) > 0 {
		if err := bw.SaveMeta(metaNextListing, uint64(len(l.listings)+len(s.newListings))); err != nil {
			return err
		}
	}
	if len(s.trades) > 0 {
		if err := bw.SaveMeta(metaNextTrade, l.nextTrade+uint64(len(s.trades))); err != nil {
			return err
		}
	}
	if err := bw.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	// Durable from here on. Token txs cannot conflict: only this ledger writes to
	// its token ledgers, always under l.mu.
	if err := s.base.Commit(); err != nil {
		return fmt.Errorf("apply %s: %w", l.cfg.BaseSymbol, err)
	}
	if err := s.quote.Commit(); err != nil {
		return fmt.Errorf("apply %s: %w", l.cfg.QuoteSymbol, err)
	}
	for id, o := range s.orders {
		l.orders[id] = o
	}
	l.orders = append(l.orders, s.newOrders...)
	for id, li := range s.listings {
		l.listings[id] = li
	}
	l.listings = append(l.listings, s.newListings...)
	for addr, r := range s.reps {
		l.reputations[addr] = r
	}
	l.trades = append(l.trades, s.trades...)
	if over := len(l.trades) - l.cfg.RecentTrades; over > 0 {
		l.trades = append([]*Trade(nil), l.trades[over:]...)
	}
	l.nextTrade += uint64(len(s.trades))

	for _, op := range s.bookOps {
		if err := op(); err != nil {
			// the book is derived from orders; a failure here means the two disagree
			l.log.Errorw("book_update_failed", "err", err)
		}
	}
	return nil
}

// mutate runs fn against a fresh stage under the write lock and commits it.
// Any error from fn discards the stage, leaving the ledger untouched.
func (l *Ledger) mutate(fn func(s *stage) error) (*stage, error) {
	l.mu.Lock()
	s := l.begin()
	if err := fn(s); err != nil {
		s.base.Discard()
		s.quote.Discard()
		l.mu.Unlock()
		return nil, err
	}
	if err := l.commit(s); err != nil {
		l.mu.Unlock()
		l.log.Errorw("ledger_commit_failed", "err", err)
		return nil, err
	}
	hooks := l.hooks
	l.mu.Unlock()

	s.fire(hooks)
	return s, nil
}

func (s *stage) fire(h Hooks) {
	if h.OnOrder != nil {
		for _, o := range s.touchedOrders() {
			h.OnOrder(*o.Clone())
		}
	}
	if h.OnTrade != nil {
		for _, t := range s.trades {
			h.OnTrade(*t)
		}
	}
	if h.OnListing != nil {
		for _, li := range s.touchedListings() {
			h.OnListing(*li.Clone())
		}
	}
}
