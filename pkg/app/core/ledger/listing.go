package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/carbonledger/pkg/app/core/token"
)

// Purchase is the outcome of BuyTokens
type Purchase struct {
	Listing Listing
	Trade   Trade
	Spent   *big.Int // quote actually charged; never more than the value offered
}

// CreateListing escrows amount base tokens from seller for sale at a fixed price
// per whole token. Returns the listing id.
func (l *Ledger) CreateListing(seller common.Address, amount, pricePerToken *big.Int) (uint64, error) {
	if err := validateOrder(seller, amount, pricePerToken, Sell); err != nil {
		return 0, err
	}
	var li *Listing
	_, err := l.mutate(func(s *stage) error {
		escrow := s.l.cfg.EscrowAddress
		if seller == escrow {
			return fmt.Errorf("%w: escrow account cannot list", ErrInvalidOrder)
		}
		if err := s.base.TransferFrom(escrow, seller, escrow, amount); err != nil {
			return tokenErr(err)
		}
		li = &Listing{
			Seller:        seller,
			Amount:        new(big.Int).Set(amount),
			Original:      new(big.Int).Set(amount),
			PricePerToken: new(big.Int).Set(pricePerToken),
			CreatedAt:     s.now,
			UpdatedAt:     s.now,
		}
		s.addListing(li)
		return nil
	})
	if err != nil {
		return 0, err
	}
	l.log.Infow("listing_created",
		"id", li.ID,
		"seller", seller.Hex(),
		"amount", amount.String(),
		"price", pricePerToken.String(),
	)
	return li.ID, nil
}

// BuyTokens spends up to value quote on listing id, buying as many base units as
// value affords at the listing price, capped at what is left.
func (l *Ledger) BuyTokens(id uint64, buyer common.Address, value *big.Int) (*Purchase, error) {
	if buyer == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero buyer address", ErrInvalidOrder)
	}
	if !positive(value) {
		return nil, fmt.Errorf("%w: value must be positive, got %v", ErrInvalidOrder, value)
	}

	var out *Purchase
	_, err := l.mutate(func(s *stage) error {
		li, err := s.listing(id)
		if err != nil {
			return err
		}
		if !li.Available() {
			return fmt.Errorf("%w: listing %d is closed", ErrAlreadyTerminal, id)
		}

		qty := new(big.Int).Mul(value, token.Unit)
		qty.Quo(qty, li.PricePerToken)
		if qty.Cmp(li.Amount) > 0 {
			qty.Set(li.Amount)
		}
		if qty.Sign() == 0 {
			return fmt.Errorf("%w: value %s buys nothing at %s", ErrInvalidOrder, value, li.PricePerToken)
		}
		cost := cover(qty, li.PricePerToken)

		if err := s.quote.Transfer(buyer, li.Seller, cost); err != nil {
			return tokenErr(err)
		}
		if err := s.base.Transfer(s.l.cfg.EscrowAddress, buyer, qty); err != nil {
			return transferErr("deliver listing", err)
		}

		li.Amount = new(big.Int).Sub(li.Amount, qty)
		li.UpdatedAt = s.now
		t := &Trade{
			Kind:      TradeListing,
			ListingID: li.ID,
			Buyer:     buyer,
			Seller:    li.Seller,
			Price:     new(big.Int).Set(li.PricePerToken),
			Amount:    qty,
			Quote:     cost,
			TakerSide: Buy,
		}
		s.recordTrade(t)
		out = &Purchase{Listing: *li.Clone(), Trade: *t, Spent: new(big.Int).Set(cost)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Infow("listing_bought",
		"id", id,
		"buyer", buyer.Hex(),
		"amount", out.Trade.Amount.String(),
		"spent", out.Spent.String(),
	)
	return out, nil
}

// CancelListing withdraws what is left of a listing back to its seller.
func (l *Ledger) CancelListing(id uint64, caller common.Address) error {
	_, err := l.mutate(func(s *stage) error {
		li, err := s.listing(id)
		if err != nil {
			return err
		}
		if li.Seller != caller {
			return fmt.Errorf("%w: listing %d belongs to %s", ErrUnauthorized, id, li.Seller.Hex())
		}
		if !li.Available() {
			return fmt.Errorf("%w: listing %d is closed", ErrAlreadyTerminal, id)
		}
		if err := s.base.Transfer(s.l.cfg.EscrowAddress, li.Seller, li.Amount); err != nil {
			return transferErr("refund listing", err)
		}
		li.Amount = new(big.Int)
		li.Cancelled = true
		li.UpdatedAt = s.now
		return nil
	})
	if err != nil {
		return err
	}
	l.log.Infow("listing_cancelled", "id", id, "seller", caller.Hex())
	return nil
}

// GetListing returns a copy of listing id
func (l *Ledger) GetListing(id uint64) (*Listing, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if id >= uint64(len(l.listings)) {
		return nil, fmt.Errorf("%w: listing %d", ErrNotFound, id)
	}
	return l.listings[id].Clone(), nil
}

// NextListingID bounds listing enumeration: listings are [0, NextListingID).
func (l *Ledger) NextListingID() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.listings))
}

// AvailableListings returns listings that still have tokens for sale
func (l *Ledger) AvailableListings() []*Listing {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Listing
	for _, li := range l.listings {
		if li.Available() {
			out = append(out, li.Clone())
		}
	}
	return out
}
