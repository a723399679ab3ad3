package token

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Tx stages balance and allowance changes on top of a Ledger.
// Reads see the staged values. Nothing reaches the ledger until Commit;
// dropping the Tx discards everything. A Tx is not safe for concurrent use.
type Tx struct {
	l       *Ledger
	version uint64

	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
	frozen     map[common.Address]bool
	supply     *big.Int
	done       bool
}

func (l *Ledger) Begin() *Tx {
	l.mu.RLock()
	v := l.version
	l.mu.RUnlock()
	return &Tx{
		l:          l,
		version:    v,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		frozen:     make(map[common.Address]bool),
	}
}

func (tx *Tx) Symbol() string { return tx.l.symbol }

func (tx *Tx) BalanceOf(addr common.Address) *big.Int {
	if b, ok := tx.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return tx.l.BalanceOf(addr)
}

func (tx *Tx) Allowance(owner, spender common.Address) *big.Int {
	if a, ok := tx.allowances[allowanceKey{owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return tx.l.Allowance(owner, spender)
}

func (tx *Tx) IsFrozen(addr common.Address) bool {
	if f, ok := tx.frozen[addr]; ok {
		return f
	}
	return tx.l.IsFrozen(addr)
}

func (tx *Tx) TotalSupply() *big.Int {
	if tx.supply != nil {
		return new(big.Int).Set(tx.supply)
	}
	return tx.l.TotalSupply()
}

func (tx *Tx) Transfer(from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if tx.IsFrozen(from) || tx.IsFrozen(to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrTransferRejected, tx.l.symbol, from.Hex(), to.Hex())
	}
	bal := tx.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s have %s, need %s", ErrInsufficientBalance, tx.l.symbol, bal, amount)
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	tx.balances[from] = bal.Sub(bal, amount)
	dst := tx.BalanceOf(to)
	tx.balances[to] = dst.Add(dst, amount)
	return nil
}

func (tx *Tx) Approve(owner, spender common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	tx.allowances[allowanceKey{owner, spender}] = new(big.Int).Set(amount)
	return nil
}

// TransferFrom moves amount from `from` to `to` on behalf of spender, consuming allowance.
func (tx *Tx) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	allowed := tx.Allowance(from, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allowance %s, need %s", ErrInsufficientAllowance, tx.l.symbol, allowed, amount)
	}
	if err := tx.Transfer(from, to, amount); err != nil {
		return err
	}
	tx.allowances[allowanceKey{from, spender}] = allowed.Sub(allowed, amount)
	return nil
}

func (tx *Tx) Mint(to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return fmt.Errorf("%w: mint amount must be positive", ErrInvalidAmount)
	}
	if tx.IsFrozen(to) {
		return fmt.Errorf("%w: mint to %s", ErrTransferRejected, to.Hex())
	}
	dst := tx.BalanceOf(to)
	tx.balances[to] = dst.Add(dst, amount)
	s := tx.TotalSupply()
	tx.supply = s.Add(s, amount)
	return nil
}

func (tx *Tx) SetFrozen(addr common.Address, frozen bool) {
	tx.frozen[addr] = frozen
}

// Changes describes what a Tx will write. Values are absolute, not deltas.
type Changes struct {
	Symbol     string
	Balances   map[common.Address]*big.Int
	Allowances map[common.Address]map[common.Address]*big.Int
	Frozen     map[common.Address]bool
	Supply     *big.Int // nil when unchanged
}

func (c Changes) Empty() bool {
	return len(c.Balances) == 0 && len(c.Allowances) == 0 && len(c.Frozen) == 0 && c.Supply == nil
}

func (tx *Tx) Changes() Changes {
	c := Changes{
		Symbol:     tx.l.symbol,
		Balances:   make(map[common.Address]*big.Int, len(tx.balances)),
		Allowances: make(map[common.Address]map[common.Address]*big.Int),
		Frozen:     make(map[common.Address]bool, len(tx.frozen)),
	}
	for a, b := range tx.balances {
		c.Balances[a] = new(big.Int).Set(b)
	}
	for k, v := range tx.allowances {
		if c.Allowances[k.Owner] == nil {
			c.Allowances[k.Owner] = make(map[common.Address]*big.Int)
		}
		c.Allowances[k.Owner][k.Spender] = new(big.Int).Set(v)
	}
	for a, f := range tx.frozen {
		c.Frozen[a] = f
	}
	if tx.supply != nil {
		c.Supply = new(big.Int).Set(tx.supply)
	}
	return c
}

// Commit applies the staged changes. It fails with ErrConflict if another Tx committed
// since Begin; in that case nothing is applied.
func (tx *Tx) Commit() error {
	if tx.done {
		return fmt.Errorf("token tx already finished")
	}
	l := tx.l
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.version != tx.version {
		return ErrConflict
	}
	for a, b := range tx.balances {
		if b.Sign() == 0 {
			delete(l.balances, a)
			continue
		}
		l.balances[a] = b
	}
	for k, v := range tx.allowances {
		if v.Sign() == 0 {
			delete(l.allowances, k)
			continue
		}
		l.allowances[k] = v
	}
	for a, f := range tx.frozen {
		if f {
			l.frozen[a] = true
		} else {
			delete(l.frozen, a)
		}
	}
	if tx.supply != nil {
		l.supply = tx.supply
	}
	l.version++
	tx.done = true
	return nil
}

// Discard drops the staged changes. Safe to call after Commit.
func (tx *Tx) Discard() { tx.done = true }
