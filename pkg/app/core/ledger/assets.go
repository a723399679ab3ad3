package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token operations run through the same lock and batch as orders, so balances on
// disk always agree with order escrow.

// Mint credits amount of asset to `to`.
func (l *Ledger) Mint(a Asset, to common.Address, amount *big.Int) error {
	if to == l.cfg.EscrowAddress {
		return fmt.Errorf("%w: escrow balances move only through orders", ErrUnauthorized)
	}
	_, err := l.mutate(func(s *stage) error {
		if to == (common.Address{}) {
			return fmt.Errorf("%w: mint to zero address", ErrInvalidOrder)
		}
		if err := s.tx(a).Mint(to, amount); err != nil {
			return tokenErr(err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.log.Infow("tokens_minted", "asset", l.Symbol(a), "to", to.Hex(), "amount", amount.String())
	return nil
}

// Approve sets spender's allowance over owner's asset balance.
func (l *Ledger) Approve(a Asset, owner, spender common.Address, amount *big.Int) error {
	_, err := l.mutate(func(s *stage) error {
		if err := s.tx(a).Approve(owner, spender, amount); err != nil {
			return tokenErr(err)
		}
		return nil
	})
	return err
}

// ApproveEscrow lets the ledger pull up to amount of asset from owner when orders are placed.
func (l *Ledger) ApproveEscrow(a Asset, owner common.Address, amount *big.Int) error {
	return l.Approve(a, owner, l.cfg.EscrowAddress, amount)
}

// Transfer moves asset between two accounts. The escrow account cannot be a party.
func (l *Ledger) Transfer(a Asset, from, to common.Address, amount *big.Int) error {
	if from == l.cfg.EscrowAddress || to == l.cfg.EscrowAddress {
		return fmt.Errorf("%w: escrow balances move only through orders", ErrUnauthorized)
	}
	_, err := l.mutate(func(s *stage) error {
		if err := s.tx(a).Transfer(from, to, amount); err != nil {
			return tokenErr(err)
		}
		return nil
	})
	return err
}

// SetFrozen blocks or unblocks every transfer of asset touching addr.
func (l *Ledger) SetFrozen(a Asset, addr common.Address, frozen bool) error {
	_, err := l.mutate(func(s *stage) error {
		s.tx(a).SetFrozen(addr, frozen)
		return nil
	})
	if err != nil {
		return err
	}
	l.log.Infow("account_frozen", "asset", l.Symbol(a), "addr", addr.Hex(), "frozen", frozen)
	return nil
}
