package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/carbonledger/pkg/app/core/token"
)

// Store provides Pebble-based persistence for orders, listings, reputation, trades and
// token balances. Thread-safe: every write goes through the Ledger's mutex as one batch.
type Store struct {
	db *pebble.DB
}

// NewStore opens a Pebble database at the given path
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		// Performance tuning
		Cache:                       pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:                32 << 20,                  // 32MB memtable
		MaxConcurrentCompactions:    func() int { return 2 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20, // 64MB
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10, // 512KB
		DisableAutomaticCompactions: false,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}

	return &Store{db: db}, nil
}

// NewMemStore opens a Pebble database on an in-memory filesystem
func NewMemStore() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadNonce returns the last accepted signed-tx nonce for addr (0 if none)
func (s *Store) LoadNonce(addr common.Address) (uint64, error) {
	return s.loadUint(nonceKey(addr))
}

// SaveNonce persists the last accepted nonce for addr
func (s *Store) SaveNonce(addr common.Address, nonce uint64) error {
	if err := s.db.Set(nonceKey(addr), []byte(strconv.FormatUint(nonce, 10)), pebble.Sync); err != nil {
		return fmt.Errorf("failed to save nonce: %w", err)
	}
	return nil
}

// LoadRecentTrades loads the most recent N trades, newest first
func (s *Store) LoadRecentTrades(limit int) ([]*Trade, error) {
	prefix := []byte(prefixTrade)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []*Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var trade Trade
		if err := json.Unmarshal(iter.Value(), &trade); err != nil {
			continue // Skip invalid entries
		}
		trades = append(trades, &trade)
	}
	return trades, iter.Error()
}

func (s *Store) loadUint(key []byte) (uint64, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	return strconv.ParseUint(string(data), 10, 64)
}

// scan calls fn for every key/value under prefix in key order.
func (s *Store) scan(prefix []byte, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// snapshot is everything a Ledger needs to resume after restart.
type snapshot struct {
	orders      []*Order
	listings    []*Listing
	reputations map[common.Address]Reputation
	trades      []*Trade // newest first
	nextOrder   uint64
	nextListing uint64
	nextTrade   uint64
	tokens      map[string]token.State
}

func (s *Store) loadSnapshot(symbols []string, recentTrades int) (*snapshot, error) {
	snap := &snapshot{
		reputations: make(map[common.Address]Reputation),
		tokens:      make(map[string]token.State),
	}
	var err error
	if snap.nextOrder, err = s.loadUint(metaKey(metaNextOrder)); err != nil {
		return nil, err
	}
	if snap.nextListing, err = s.loadUint(metaKey(metaNextListing)); err != nil {
		return nil, err
	}
	if snap.nextTrade, err = s.loadUint(metaKey(metaNextTrade)); err != nil {
		return nil, err
	}

	err = s.scan([]byte(prefixOrder), func(_, v []byte) error {
		var o Order
		if err := json.Unmarshal(v, &o); err != nil {
			return fmt.Errorf("failed to unmarshal order: %w", err)
		}
		snap.orders = append(snap.orders, &o)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan([]byte(prefixListing), func(_, v []byte) error {
		var l Listing
		if err := json.Unmarshal(v, &l); err != nil {
			return fmt.Errorf("failed to unmarshal listing: %w", err)
		}
		snap.listings = append(snap.listings, &l)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan([]byte(prefixReputation), func(k, v []byte) error {
		addr, err := addressFromKeySuffix(k)
		if err != nil {
			return err
		}
		var r Reputation
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("failed to unmarshal reputation: %w", err)
		}
		snap.reputations[addr] = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if snap.trades, err = s.LoadRecentTrades(recentTrades); err != nil {
		return nil, err
	}

	for _, sym := range symbols {
		st, err := s.loadTokenState(sym)
		if err != nil {
			return nil, err
		}
		snap.tokens[sym] = st
	}
	return snap, nil
}

func (s *Store) loadTokenState(symbol string) (token.State, error) {
	st := token.State{
		Balances:   make(map[common.Address]*big.Int),
		Allowances: make(map[common.Address]map[common.Address]*big.Int),
		Frozen:     make(map[common.Address]bool),
		Supply:     new(big.Int),
	}

	err := s.scan(balancePrefix(symbol), func(k, v []byte) error {
		addr, err := addressFromKeySuffix(k)
		if err != nil {
			return err
		}
		bal, ok := new(big.Int).SetString(string(v), 10)
		if !ok {
			return fmt.Errorf("bad balance value for %s", k)
		}
		st.Balances[addr] = bal
		return nil
	})
	if err != nil {
		return st, err
	}

	err = s.scan(allowancePrefix(symbol), func(k, v []byte) error {
		// "...:{owner}:{spender}"
		if len(k) < 85 {
			return fmt.Errorf("invalid allowance key: %s", k)
		}
		spender, err := addressFromKeySuffix(k)
		if err != nil {
			return err
		}
		owner, err := addressFromKeySuffix(k[:len(k)-43])
		if err != nil {
			return err
		}
		amt, ok := new(big.Int).SetString(string(v), 10)
		if !ok {
			return fmt.Errorf("bad allowance value for %s", k)
		}
		if st.Allowances[owner] == nil {
			st.Allowances[owner] = make(map[common.Address]*big.Int)
		}
		st.Allowances[owner][spender] = amt
		return nil
	})
	if err != nil {
		return st, err
	}

	err = s.scan(frozenPrefix(symbol), func(k, _ []byte) error {
		addr, err := addressFromKeySuffix(k)
		if err != nil {
			return err
		}
		st.Frozen[addr] = true
		return nil
	})
	if err != nil {
		return st, err
	}

	data, closer, err := s.db.Get(supplyKey(symbol))
	if errors.Is(err, pebble.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	defer closer.Close()
	if _, ok := st.Supply.SetString(string(data), 10); !ok {
		return st, fmt.Errorf("bad supply value for %s", symbol)
	}
	return st, nil
}

// BatchWrite provides atomic batch writes for multiple operations
type BatchWrite struct {
	batch *pebble.Batch
}

// NewBatch creates a new batch writer
func (s *Store) NewBatch() *BatchWrite {
	return &BatchWrite{batch: s.db.NewBatch()}
}

func (bw *BatchWrite) setJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return bw.batch.Set(key, data, nil)
}

func (bw *BatchWrite) SaveOrder(o *Order) error { return bw.setJSON(orderKey(o.ID), o) }

func (bw *BatchWrite) SaveListing(l *Listing) error { return bw.setJSON(listingKey(l.ID), l) }

func (bw *BatchWrite) SaveTrade(t *Trade) error { return bw.setJSON(tradeKey(t.Seq), t) }

func (bw *BatchWrite) SaveReputation(addr common.Address, r Reputation) error {
	return bw.setJSON(reputationKey(addr), r)
}

func (bw *BatchWrite) SaveMeta(name string, v uint64) error {
	return bw.batch.Set(metaKey(name), []byte(strconv.FormatUint(v, 10)), nil)
}

// SaveTokenChanges writes the absolute values staged in a token transaction.
// Zero balances and allowances are deleted rather than stored.
func (bw *BatchWrite) SaveTokenChanges(c token.Changes) error {
	for addr, bal := range c.Balances {
		key := balanceKey(c.Symbol, addr)
		if bal.Sign() == 0 {
			if err := bw.batch.Delete(key, nil); err != nil {
				return err
			}
			continue
		}
		if err := bw.batch.Set(key, []byte(bal.String()), nil); err != nil {
			return err
		}
	}
	for owner, m := range c.Allowances {
		for spender, amt := range m {
			key := allowanceKey(c.Symbol, owner, spender)
			if amt.Sign() == 0 {
				if err := bw.batch.Delete(key, nil); err != nil {
					return err
				}
				continue
			}
			if err := bw.batch.Set(key, []byte(amt.String()), nil); err != nil {
				return err
			}
		}
	}
	for addr, frozen := range c.Frozen {
		key := frozenKey(c.Symbol, addr)
		var err error
		if frozen {
			err = bw.batch.Set(key, []byte{1}, nil)
		} else {
			err = bw.batch.Delete(key, nil)
		}
		if err != nil {
			return err
		}
	}
	if c.Supply != nil {
		return bw.batch.Set(supplyKey(c.Symbol), []byte(c.Supply.String()), nil)
	}
	return nil
}

// Commit writes the batch to Pebble atomically
func (bw *BatchWrite) Commit() error {
	return bw.batch.Commit(pebble.Sync)
}

// Close closes the batch without committing
func (bw *BatchWrite) Close() error {
	return bw.batch.Close()
}
