package ledger

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/carbonledger/pkg/app/core/orderbook"
	"github.com/uhyunpark/carbonledger/pkg/app/core/token"
	"github.com/uhyunpark/carbonledger/pkg/util"
)

// DefaultEscrowAddress holds every escrowed balance. Traders approve it as spender.
var DefaultEscrowAddress = common.HexToAddress("0x000000000000000000000000000000000000Ca4b")

const defaultRecentTrades = 1000

type Config struct {
	EscrowAddress common.Address
	BaseSymbol    string // traded credits, e.g. "CCT"
	QuoteSymbol   string // payment currency, e.g. "ETH"
	RecentTrades  int    // trades kept in memory for queries
	Clock         util.Clock
	Logger        *zap.SugaredLogger
}

func DefaultConfig() Config {
	return Config{
		EscrowAddress: DefaultEscrowAddress,
		BaseSymbol:    "CCT",
		QuoteSymbol:   "ETH",
		RecentTrades:  defaultRecentTrades,
		Clock:         util.RealClock{},
	}
}

// Hooks are called after a mutation is durable, outside the ledger lock.
type Hooks struct {
	OnTrade   func(Trade)
	OnOrder   func(Order)
	OnListing func(Listing)
}

// Ledger is the order book ledger: orders, escrow, matching, settlement and reputation.
// One RWMutex serializes every mutation; reads share the lock and get copies.
type Ledger struct {
	mu sync.RWMutex

	cfg   Config
	log   *zap.SugaredLogger
	store *Store

	base  *token.Ledger
	quote *token.Ledger
	book  *orderbook.OrderBook

	orders      []*Order // index == id
	listings    []*Listing
	reputations map[common.Address]Reputation
	trades      []*Trade // oldest first, capped at cfg.RecentTrades
	nextTrade   uint64

	hooks Hooks
}

// Open builds a ledger backed by store, replaying whatever state the store holds.
func Open(cfg Config, store *Store) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger: store is required")
	}
	def := DefaultConfig()
	if cfg.EscrowAddress == (common.Address{}) {
		cfg.EscrowAddress = def.EscrowAddress
	}
	if cfg.BaseSymbol == "" {
		cfg.BaseSymbol = def.BaseSymbol
	}
	if cfg.QuoteSymbol == "" {
		cfg.QuoteSymbol = def.QuoteSymbol
	}
	if cfg.BaseSymbol == cfg.QuoteSymbol {
		return nil, fmt.Errorf("ledger: base and quote symbols must differ (%s)", cfg.BaseSymbol)
	}
	if cfg.RecentTrades <= 0 {
		cfg.RecentTrades = def.RecentTrades
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	l := &Ledger{
		cfg:         cfg,
		log:         log,
		store:       store,
		base:        token.NewLedger(cfg.BaseSymbol),
		quote:       token.NewLedger(cfg.QuoteSymbol),
		book:        orderbook.NewOrderBook(),
		reputations: make(map[common.Address]Reputation),
	}
	if err := l.recover(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) recover() error {
	snap, err := l.store.loadSnapshot([]string{l.cfg.BaseSymbol, l.cfg.QuoteSymbol}, l.cfg.RecentTrades)
	if err != nil {
		return fmt.Errorf("ledger: load snapshot: %w", err)
	}

	l.base.Restore(snap.tokens[l.cfg.BaseSymbol])
	l.quote.Restore(snap.tokens[l.cfg.QuoteSymbol])

	l.orders = make([]*Order, snap.nextOrder)
	for _, o := range snap.orders {
		if o.ID >= snap.nextOrder {
			return fmt.Errorf("ledger: order %d beyond next id %d", o.ID, snap.nextOrder)
		}
		l.orders[o.ID] = o
	}
	// ids are dense; FIFO within a level is id order, so replay in id order
	for id, o := range l.orders {
		if o == nil {
			return fmt.Errorf("ledger: order %d missing from store", id)
		}
		if o.Active() {
			if err := l.book.Add(o.Side, o.ID, o.Price, o.Amount); err != nil {
				return fmt.Errorf("ledger: rebuild book: %w", err)
			}
		}
	}

	l.listings = make([]*Listing, snap.nextListing)
	for _, li := range snap.listings {
		if li.ID >= snap.nextListing {
			return fmt.Errorf("ledger: listing %d beyond next id %d", li.ID, snap.nextListing)
		}
		l.listings[li.ID] = li
	}
	for id, li := range l.listings {
		if li == nil {
			return fmt.Errorf("ledger: listing %d missing from store", id)
		}
	}

	l.reputations = snap.reputations
	for i := len(snap.trades) - 1; i >= 0; i-- {
		l.trades = append(l.trades, snap.trades[i])
	}
	l.nextTrade = snap.nextTrade

	if snap.nextOrder > 0 || snap.nextListing > 0 {
		l.log.Infow("ledger_recovered",
			"orders", snap.nextOrder,
			"resting", l.book.Len(),
			"listings", snap.nextListing,
			"trades", snap.nextTrade,
		)
	}
	return nil
}

// SetHooks installs post-commit callbacks
func (l *Ledger) SetHooks(h Hooks) {
	l.mu.Lock()
	l.hooks = h
	l.mu.Unlock()
}

func (l *Ledger) Config() Config { return l.cfg }

func (l *Ledger) EscrowAddress() common.Address { return l.cfg.EscrowAddress }

func (l *Ledger) Symbol(a Asset) string {
	if a == Base {
		return l.cfg.BaseSymbol
	}
	return l.cfg.QuoteSymbol
}

// ---- reads ----

// GetOrderDetails returns a copy of order id
func (l *Ledger) GetOrderDetails(id uint64) (*Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id >= uint64(len(l.orders)) {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	return l.orders[id].Clone(), nil
}

// GetUserReputation never fails; unknown traders have a zero record
func (l *Ledger) GetUserReputation(trader common.Address) Reputation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reputations[trader]
}

// NextOrderID is the id the next order will get. Orders are [0, NextOrderID).
func (l *Ledger) NextOrderID() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.orders))
}

// OrdersByTrader returns every order of trader, oldest first
func (l *Ledger) OrdersByTrader(trader common.Address) []*Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Order
	for _, o := range l.orders {
		if o.Trader == trader {
			out = append(out, o.Clone())
		}
	}
	return out
}

// ActiveOrders returns resting orders of one side in id order
func (l *Ledger) ActiveOrders(side Side) []*Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Order
	for _, o := range l.orders {
		if o.Side == side && o.Active() {
			out = append(out, o.Clone())
		}
	}
	return out
}

// Depth returns aggregated bid and ask levels, best first
func (l *Ledger) Depth(levels int) (bids, asks []orderbook.PriceLevel) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.book.Levels(Buy, levels), l.book.Levels(Sell, levels)
}

// BestPrices returns the best bid and ask, nil when a side is empty
func (l *Ledger) BestPrices() (bid, ask *big.Int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.book.BestBid(), l.book.BestAsk()
}

// RecentTrades returns up to limit trades, newest first
func (l *Ledger) RecentTrades(limit int) []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.trades) {
		limit = len(l.trades)
	}
	out := make([]Trade, 0, limit)
	for i := len(l.trades) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *l.trades[i])
	}
	return out
}

// TradeCount is the number of trades ever executed
func (l *Ledger) TradeCount() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextTrade
}

func (l *Ledger) tokens(a Asset) *token.Ledger {
	if a == Base {
		return l.base
	}
	return l.quote
}

func (l *Ledger) BalanceOf(a Asset, addr common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tokens(a).BalanceOf(addr)
}

func (l *Ledger) Allowance(a Asset, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tokens(a).Allowance(owner, spender)
}

func (l *Ledger) TotalSupply(a Asset) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tokens(a).TotalSupply()
}

// Holders returns addresses with a non-zero balance of a, sorted
func (l *Ledger) Holders(a Asset) []common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tokens(a).Holders()
}

// Reputations returns a copy of every reputation record
func (l *Ledger) Reputations() map[common.Address]Reputation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[common.Address]Reputation, len(l.reputations))
	for a, r := range l.reputations {
		out[a] = r
	}
	return out
}

// Traders returns the addresses with a reputation record in address order
func (l *Ledger) Traders() []common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]common.Address, 0, len(l.reputations))
	for a := range l.reputations {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// LoadNonce and SaveNonce expose signed-tx replay protection storage
func (l *Ledger) LoadNonce(addr common.Address) (uint64, error) { return l.store.LoadNonce(addr) }

func (l *Ledger) SaveNonce(addr common.Address, n uint64) error { return l.store.SaveNonce(addr, n) }
