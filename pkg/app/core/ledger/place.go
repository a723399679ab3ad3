package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/carbonledger/pkg/app/core/orderbook"
)

// Placement is the outcome of PlaceOrder
type Placement struct {
	Order  Order   // state after matching
	Trades []Trade // fills, in execution order
}

// PlaceOrder escrows the order's cover, matches it against the opposite side in
// price-time priority and rests any remainder. It returns the new order id.
func (l *Ledger) PlaceOrder(trader common.Address, amount, price *big.Int, side Side) (uint64, error) {
	p, err := l.Place(trader, amount, price, side)
	if err != nil {
		return 0, err
	}
	return p.Order.ID, nil
}

// Place is PlaceOrder returning the full placement
func (l *Ledger) Place(trader common.Address, amount, price *big.Int, side Side) (*Placement, error) {
	if err := validateOrder(trader, amount, price, side); err != nil {
		return nil, err
	}

	var taker *Order
	s, err := l.mutate(func(s *stage) error {
		var err error
		taker, err = s.placeOrder(trader, amount, price, side)
		return err
	})
	if err != nil {
		l.log.Debugw("order_rejected", "trader", trader.Hex(), "side", side.String(), "err", err)
		return nil, err
	}

	out := &Placement{Order: *taker.Clone()}
	for _, t := range s.trades {
		out.Trades = append(out.Trades, *t)
	}
	l.log.Infow("order_placed",
		"id", taker.ID,
		"trader", trader.Hex(),
		"side", side.String(),
		"price", price.String(),
		"amount", amount.String(),
		"fills", len(out.Trades),
		"status", taker.Status.String(),
	)
	return out, nil
}

func validateOrder(trader common.Address, amount, price *big.Int, side Side) error {
	switch {
	case trader == (common.Address{}):
		return fmt.Errorf("%w: zero trader address", ErrInvalidOrder)
	case !positive(amount):
		return fmt.Errorf("%w: amount must be positive, got %v", ErrInvalidOrder, amount)
	case !positive(price):
		return fmt.Errorf("%w: price must be positive, got %v", ErrInvalidOrder, price)
	case !side.Valid():
		return fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, side)
	}
	return nil
}

func (s *stage) placeOrder(trader common.Address, amount, price *big.Int, side Side) (*Order, error) {
	escrow := s.l.cfg.EscrowAddress
	if trader == escrow {
		return nil, fmt.Errorf("%w: escrow account cannot trade", ErrInvalidOrder)
	}

	o := &Order{
		Trader:    trader,
		Side:      side,
		Price:     new(big.Int).Set(price),
		Amount:    new(big.Int).Set(amount),
		Original:  new(big.Int).Set(amount),
		Filled:    new(big.Int),
		Status:    OrderOpen,
		CreatedAt: s.now,
		UpdatedAt: s.now,
	}

	// Lock the cover first; nothing else happens if that fails.
	if side == Buy {
		o.Escrowed = cover(amount, price)
		if err := s.quote.TransferFrom(escrow, trader, escrow, o.Escrowed); err != nil {
			return nil, tokenErr(err)
		}
	} else {
		o.Escrowed = new(big.Int).Set(amount)
		if err := s.base.TransferFrom(escrow, trader, escrow, o.Escrowed); err != nil {
			return nil, tokenErr(err)
		}
	}
	s.addOrder(o)

	var matchErr error
	s.l.book.WalkCrossing(side, price, func(resting orderbook.Entry) bool {
		maker, err := s.order(resting.ID)
		if err != nil {
			matchErr = err
			return false
		}
		qty := minInt(o.Amount, maker.Amount)
		if err := s.match(o, maker, qty); err != nil {
			matchErr = err
			return false
		}
		makerID := maker.ID
		s.onBook(func() error {
			_, err := s.l.book.Reduce(makerID, qty)
			return err
		})
		return o.Amount.Sign() > 0
	})
	if matchErr != nil {
		return nil, matchErr
	}

	if o.Amount.Sign() > 0 {
		id, p, rem := o.ID, new(big.Int).Set(o.Price), new(big.Int).Set(o.Amount)
		s.onBook(func() error { return s.l.book.Add(side, id, p, rem) })
	}
	return o, nil
}

// match settles qty between a taker and a resting maker at the maker's price.
// Base goes seller -> buyer, quote goes buyer -> seller, and the buyer gets back any
// escrow no longer needed to cover its remainder.
func (s *stage) match(taker, maker *Order, qty *big.Int) error {
	buy, sell := taker, maker
	if taker.Side == Sell {
		buy, sell = maker, taker
	}
	execPrice := maker.Price
	escrow := s.l.cfg.EscrowAddress

	proceeds := pay(qty, execPrice)
	buyLeft := new(big.Int).Sub(buy.Amount, qty)
	buyCover := cover(buyLeft, buy.Price)
	refund := new(big.Int).Sub(buy.Escrowed, buyCover)
	refund.Sub(refund, proceeds)
	if refund.Sign() < 0 {
		return fmt.Errorf("%w: order %d escrow %s cannot cover fill", ErrTransferFailed, buy.ID, buy.Escrowed)
	}

	if err := s.base.Transfer(escrow, buy.Trader, qty); err != nil {
		return transferErr("deliver base", err)
	}
	if err := s.quote.Transfer(escrow, sell.Trader, proceeds); err != nil {
		return transferErr("pay seller", err)
	}
	if refund.Sign() > 0 {
		if err := s.quote.Transfer(escrow, buy.Trader, refund); err != nil {
			return transferErr("refund buyer", err)
		}
	}

	buy.Escrowed = buyCover
	sell.Escrowed = new(big.Int).Sub(sell.Escrowed, qty)

	for _, o := range []*Order{taker, maker} {
		if !o.Matched() {
			s.bumpReputation(o.Trader, true)
		}
		o.Amount = new(big.Int).Sub(o.Amount, qty)
		o.Filled = new(big.Int).Add(o.Filled, qty)
		o.UpdatedAt = s.now
		if o.Amount.Sign() == 0 {
			o.Status = OrderFilled
		} else {
			o.Status = OrderPartiallyFilled
		}
	}

	s.recordTrade(&Trade{
		Kind:        TradeBook,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Buyer:       buy.Trader,
		Seller:      sell.Trader,
		Price:       new(big.Int).Set(execPrice),
		Amount:      new(big.Int).Set(qty),
		Quote:       proceeds,
		TakerSide:   taker.Side,
	})
	return nil
}

// Crossing returns the resting orders an order at limit would match, in priority order.
func (l *Ledger) Crossing(side Side, limit *big.Int) []orderbook.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.book.Crossing(side, limit)
}
