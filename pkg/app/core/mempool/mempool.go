package mempool

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrFull      = errors.New("mempool full")
	ErrDuplicate = errors.New("transaction already pending")
)

// TxClass orders transactions inside a block.
type TxClass int

const (
	TxCancel TxClass = iota // applied first so cancels beat crossing orders in the same block
	TxOrder
	TxListing
)

// ClassifyRaw reads the "type" field of a signed JSON transaction.
// Anything unreadable is treated as an order and rejected later by the verifier.
func ClassifyRaw(b []byte) TxClass {
	var env struct {
		Type string `json:"type"`
	}
	if len(b) == 0 || b[0] != '{' || json.Unmarshal(b, &env) != nil {
		return TxOrder
	}
	switch env.Type {
	case "cancel":
		return TxCancel
	case "buy_listing":
		return TxListing
	default:
		return TxOrder
	}
}

// Mempool keeps one FIFO queue per class and drains them cancel -> order -> listing.
type Mempool struct {
	mu      sync.Mutex
	limit   int
	queues  [3][][]byte
	pending map[common.Hash]struct{}
}

// NewMempool bounds the pool at limit txs; limit <= 0 means unbounded.
func NewMempool(limit int) *Mempool {
	return &Mempool{limit: limit, pending: make(map[common.Hash]struct{})}
}

// PushRaw classifies and enqueues a copy of b.
func (m *Mempool) PushRaw(b []byte) error {
	cp := append([]byte(nil), b...)
	h := crypto.Keccak256Hash(cp)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[h]; ok {
		return ErrDuplicate
	}
	if m.limit > 0 && len(m.pending) >= m.limit {
		return ErrFull
	}
	c := ClassifyRaw(cp)
	m.queues[c] = append(m.queues[c], cp)
	m.pending[h] = struct{}{}
	return nil
}

// SelectForBlock removes and returns up to maxTxs transactions (0 = no limit)
// totalling at most maxBytes (0 = no limit).
func (m *Mempool) SelectForBlock(maxTxs int, maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		out  [][]byte
		used int64
	)
	for c := range m.queues {
		q := m.queues[c]
		for len(q) > 0 {
			tx := q[0]
			if maxTxs > 0 && len(out) >= maxTxs {
				break
			}
			if maxBytes > 0 && used+int64(len(tx)) > maxBytes {
				break
			}
			out = append(out, tx)
			used += int64(len(tx))
			delete(m.pending, crypto.Keccak256Hash(tx))
			q = q[1:]
		}
		m.queues[c] = q
	}
	return out
}

func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
