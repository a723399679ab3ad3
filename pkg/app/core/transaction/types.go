package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/carbonledger/pkg/crypto"
)

var (
	ErrMalformed    = errors.New("malformed transaction")
	ErrBadSignature = errors.New("bad signature")
)

type TxType string

const (
	TxTypeOrder  TxType = "order"       // place a limit order
	TxTypeCancel TxType = "cancel"      // cancel an order
	TxTypeBuy    TxType = "buy_listing" // buy from a fixed-price listing
)

// SignedTransaction is the wire form of a wallet-signed request.
// Exactly one payload matches Type.
type SignedTransaction struct {
	Type      TxType         `json:"type"`
	Order     *OrderPayload  `json:"order,omitempty"`
	Cancel    *CancelPayload `json:"cancel,omitempty"`
	Buy       *BuyPayload    `json:"buy,omitempty"`
	Signature string         `json:"signature"` // 0x-prefixed, 65 bytes
}

// OrderPayload carries integers as decimal strings: amount in base units,
// price in quote wei per whole token.
type OrderPayload struct {
	Trader   string `json:"trader"`
	Side     string `json:"side"` // "buy" | "sell"
	Amount   string `json:"amount"`
	Price    string `json:"price"`
	Nonce    uint64 `json:"nonce"`
	Deadline uint64 `json:"deadline,omitempty"` // unix seconds, 0 = none
}

type CancelPayload struct {
	Trader  string `json:"trader"`
	OrderID uint64 `json:"orderId"`
	Nonce   uint64 `json:"nonce"`
}

type BuyPayload struct {
	Buyer     string `json:"buyer"`
	ListingID uint64 `json:"listingId"`
	Value     string `json:"value"` // quote wei offered
	Nonce     uint64 `json:"nonce"`
}

func parseUint(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s %q is not a non-negative integer", ErrMalformed, field, s)
	}
	return v, nil
}

func parseAddress(field, s string) (common.Address, error) {
	a, err := crypto.ParseAddress(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s: %v", ErrMalformed, field, err)
	}
	return a, nil
}

func (o *OrderPayload) ToEIP712() (*crypto.PlaceOrderEIP712, error) {
	trader, err := parseAddress("trader", o.Trader)
	if err != nil {
		return nil, err
	}
	side, err := crypto.SideFromString(o.Side)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	amount, err := parseUint("amount", o.Amount)
	if err != nil {
		return nil, err
	}
	price, err := parseUint("price", o.Price)
	if err != nil {
		return nil, err
	}
	return &crypto.PlaceOrderEIP712{
		Trader:   trader,
		Side:     side,
		Amount:   amount,
		Price:    price,
		Nonce:    o.Nonce,
		Deadline: o.Deadline,
	}, nil
}

func FromPlaceOrderEIP712(o *crypto.PlaceOrderEIP712) *OrderPayload {
	return &OrderPayload{
		Trader:   o.Trader.Hex(),
		Side:     crypto.SideString(o.Side),
		Amount:   o.Amount.String(),
		Price:    o.Price.String(),
		Nonce:    o.Nonce,
		Deadline: o.Deadline,
	}
}

func (c *CancelPayload) ToEIP712() (*crypto.CancelOrderEIP712, error) {
	trader, err := parseAddress("trader", c.Trader)
	if err != nil {
		return nil, err
	}
	return &crypto.CancelOrderEIP712{Trader: trader, OrderID: c.OrderID, Nonce: c.Nonce}, nil
}

func (b *BuyPayload) ToEIP712() (*crypto.BuyListingEIP712, error) {
	buyer, err := parseAddress("buyer", b.Buyer)
	if err != nil {
		return nil, err
	}
	value, err := parseUint("value", b.Value)
	if err != nil {
		return nil, err
	}
	return &crypto.BuyListingEIP712{Buyer: buyer, ListingID: b.ListingID, Value: value, Nonce: b.Nonce}, nil
}

func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Hash identifies a transaction for deduplication: keccak256 of its JSON encoding.
func (tx *SignedTransaction) Hash() (common.Hash, error) {
	b, err := tx.Serialize()
	if err != nil {
		return common.Hash{}, err
	}
	return ethcrypto.Keccak256Hash(b), nil
}

// Validate checks structure only; signatures are checked by Verifier.
func (tx *SignedTransaction) Validate() error {
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	switch tx.Type {
	case TxTypeOrder:
		if tx.Order == nil {
			return fmt.Errorf("%w: order type requires order payload", ErrMalformed)
		}
	case TxTypeCancel:
		if tx.Cancel == nil {
			return fmt.Errorf("%w: cancel type requires cancel payload", ErrMalformed)
		}
	case TxTypeBuy:
		if tx.Buy == nil {
			return fmt.Errorf("%w: buy_listing type requires buy payload", ErrMalformed)
		}
	case "":
		return fmt.Errorf("%w: missing transaction type", ErrMalformed)
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrMalformed, tx.Type)
	}
	return nil
}

// ParseTransaction decodes and structurally validates a JSON transaction.
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Example:
//   {
//     "type": "order",
//     "order": {
//       "trader": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//       "side": "buy",
//       "amount": "5000000000000000000",
//       "price": "20000000000000000",
//       "nonce": 1
//     },
//     "signature": "0x..."
//   }
