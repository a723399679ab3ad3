package token

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrTransferRejected      = errors.New("transfer rejected")
	ErrConflict              = errors.New("ledger changed since transaction began")
)

// Decimals is the fixed-point precision of every asset handled here.
const Decimals = 18

// Unit is one whole token in base units (10^18).
var Unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

type allowanceKey struct {
	Owner   common.Address
	Spender common.Address
}

// Ledger is a fungible-asset ledger with ERC-20 style balances and allowances.
// All writes go through a Tx, so a group of transfers either lands together or not at all.
type Ledger struct {
	mu sync.RWMutex

	symbol     string
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
	frozen     map[common.Address]bool
	supply     *big.Int
	version    uint64
}

func NewLedger(symbol string) *Ledger {
	return &Ledger{
		symbol:     symbol,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		frozen:     make(map[common.Address]bool),
		supply:     new(big.Int),
	}
}

func (l *Ledger) Symbol() string { return l.symbol }

// BalanceOf returns a copy of addr's balance (zero for unknown accounts)
func (l *Ledger) BalanceOf(addr common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyOrZero(l.balances[addr])
}

func (l *Ledger) Allowance(owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyOrZero(l.allowances[allowanceKey{owner, spender}])
}

func (l *Ledger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.supply)
}

func (l *Ledger) IsFrozen(addr common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frozen[addr]
}

// Holders returns every address with a non-zero balance, sorted by address.
func (l *Ledger) Holders() []common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]common.Address, 0, len(l.balances))
	for a, b := range l.balances {
		if b.Sign() > 0 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Transfer, Approve, TransferFrom, Mint and SetFrozen are single-operation
// transactions. Callers that need persistence or grouping use Begin directly.

func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	return l.apply(func(tx *Tx) error { return tx.Transfer(from, to, amount) })
}

func (l *Ledger) Approve(owner, spender common.Address, amount *big.Int) error {
	return l.apply(func(tx *Tx) error { return tx.Approve(owner, spender, amount) })
}

func (l *Ledger) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	return l.apply(func(tx *Tx) error { return tx.TransferFrom(spender, from, to, amount) })
}

func (l *Ledger) Mint(to common.Address, amount *big.Int) error {
	return l.apply(func(tx *Tx) error { return tx.Mint(to, amount) })
}

func (l *Ledger) SetFrozen(addr common.Address, frozen bool) error {
	return l.apply(func(tx *Tx) error { tx.SetFrozen(addr, frozen); return nil })
}

func (l *Ledger) apply(fn func(tx *Tx) error) error {
	tx := l.Begin()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// State is a full dump of the ledger used for persistence and recovery.
type State struct {
	Balances   map[common.Address]*big.Int
	Allowances map[common.Address]map[common.Address]*big.Int
	Frozen     map[common.Address]bool
	Supply     *big.Int
}

// Restore replaces the ledger contents with st.
func (l *Ledger) Restore(st State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances = make(map[common.Address]*big.Int, len(st.Balances))
	for a, b := range st.Balances {
		l.balances[a] = new(big.Int).Set(b)
	}
	l.allowances = make(map[allowanceKey]*big.Int)
	for owner, m := range st.Allowances {
		for spender, v := range m {
			l.allowances[allowanceKey{owner, spender}] = new(big.Int).Set(v)
		}
	}
	l.frozen = make(map[common.Address]bool, len(st.Frozen))
	for a, f := range st.Frozen {
		if f {
			l.frozen[a] = true
		}
	}
	l.supply = copyOrZero(st.Supply)
	l.version++
}

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	return nil
}
