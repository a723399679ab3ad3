package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// CancelOrder cancels an active order owned by caller and refunds its remaining escrow.
func (l *Ledger) CancelOrder(id uint64, caller common.Address) error {
	var cancelled *Order
	_, err := l.mutate(func(s *stage) error {
		o, err := s.order(id)
		if err != nil {
			return err
		}
		if o.Trader != caller {
			return fmt.Errorf("%w: order %d belongs to %s", ErrUnauthorized, id, o.Trader.Hex())
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: order %d is %s", ErrAlreadyTerminal, id, o.Status)
		}

		asset := Quote
		if o.Side == Sell {
			asset = Base
		}
		if o.Escrowed.Sign() > 0 {
			if err := s.tx(asset).Transfer(s.l.cfg.EscrowAddress, o.Trader, o.Escrowed); err != nil {
				return transferErr("refund escrow", err)
			}
		}

		// an order that already matched was counted when it first filled
		if !o.Matched() {
			s.bumpReputation(o.Trader, false)
		}
		o.Escrowed = cloneInt(nil)
		o.Status = OrderCancelled
		o.UpdatedAt = s.now
		s.onBook(func() error {
			if !s.l.book.Remove(id) {
				return fmt.Errorf("cancelled order %d was not resting", id)
			}
			return nil
		})
		cancelled = o
		return nil
	})
	if err != nil {
		l.log.Debugw("cancel_rejected", "id", id, "caller", caller.Hex(), "err", err)
		return err
	}
	l.log.Infow("order_cancelled",
		"id", id,
		"trader", caller.Hex(),
		"remaining", cancelled.Amount.String(),
	)
	return nil
}
