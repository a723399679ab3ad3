package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/carbonledger/pkg/app/core/orderbook"
)

type Side = orderbook.Side

const (
	Buy  = orderbook.Buy
	Sell = orderbook.Sell
)

// OrderStatus represents the lifecycle state of an order
type OrderStatus int8

const (
	OrderOpen OrderStatus = iota
	OrderPartiallyFilled
	OrderFilled
	OrderCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderPartiallyFilled:
		return "partially_filled"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible
func (s OrderStatus) Terminal() bool { return s == OrderFilled || s == OrderCancelled }

// Order is a limit order. Amount is the unfilled remainder; it only shrinks.
type Order struct {
	ID     uint64         `json:"id"`
	Trader common.Address `json:"trader"`
	Side   Side           `json:"side"`

	Price    *big.Int `json:"price"`    // quote wei per whole base token
	Amount   *big.Int `json:"amount"`   // remaining base units
	Original *big.Int `json:"original"` // amount at creation
	Filled   *big.Int `json:"filled"`
	Escrowed *big.Int `json:"escrowed"` // quote for buys, base for sells

	Status OrderStatus `json:"status"`

	// Timestamps (Unix milliseconds)
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

func (o *Order) Active() bool { return !o.Status.Terminal() }

// Matched reports whether the order has taken part in at least one fill
func (o *Order) Matched() bool { return o.Filled != nil && o.Filled.Sign() > 0 }

func (o *Order) Clone() *Order {
	cp := *o
	cp.Price = cloneInt(o.Price)
	cp.Amount = cloneInt(o.Amount)
	cp.Original = cloneInt(o.Original)
	cp.Filled = cloneInt(o.Filled)
	cp.Escrowed = cloneInt(o.Escrowed)
	return &cp
}

// Reputation counts settlement outcomes for a trader
type Reputation struct {
	Total      uint64 `json:"total"`
	Successful uint64 `json:"successful"`
}

type TradeKind string

const (
	TradeBook    TradeKind = "book"
	TradeListing TradeKind = "listing"
)

// Trade is one executed fill. For book trades the price is the resting order's price.
type Trade struct {
	ID          string         `json:"id"`
	Seq         uint64         `json:"seq"`
	Kind        TradeKind      `json:"kind"`
	BuyOrderID  uint64         `json:"buyOrderId,omitempty"`
	SellOrderID uint64         `json:"sellOrderId,omitempty"`
	ListingID   uint64         `json:"listingId,omitempty"`
	Buyer       common.Address `json:"buyer"`
	Seller      common.Address `json:"seller"`
	Price       *big.Int       `json:"price"`
	Amount      *big.Int       `json:"amount"`
	Quote       *big.Int       `json:"quote"` // quote paid to the seller
	TakerSide   Side           `json:"takerSide"`
	Timestamp   int64          `json:"timestamp"`
}

// Listing is a fixed-price offer of base tokens, bought with BuyTokens.
type Listing struct {
	ID            uint64         `json:"id"`
	Seller        common.Address `json:"seller"`
	Amount        *big.Int       `json:"amount"` // still available, held in escrow
	Original      *big.Int       `json:"original"`
	PricePerToken *big.Int       `json:"pricePerToken"`
	Cancelled     bool           `json:"cancelled"`
	CreatedAt     int64          `json:"createdAt"`
	UpdatedAt     int64          `json:"updatedAt"`
}

func (l *Listing) Available() bool { return !l.Cancelled && l.Amount.Sign() > 0 }

func (l *Listing) Clone() *Listing {
	cp := *l
	cp.Amount = cloneInt(l.Amount)
	cp.Original = cloneInt(l.Original)
	cp.PricePerToken = cloneInt(l.PricePerToken)
	return &cp
}

// Asset selects one of the two token ledgers.
type Asset string

const (
	Base  Asset = "base"
	Quote Asset = "quote"
)

func ParseAsset(s string) (Asset, error) {
	switch Asset(strings.ToLower(s)) {
	case Base:
		return Base, nil
	case Quote:
		return Quote, nil
	}
	return "", fmt.Errorf("unknown asset %q", s)
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
