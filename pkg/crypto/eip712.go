package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain separates signatures between deployments and chains
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // zero for off-chain signing
}

func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:    "CarbonLedger",
		Version: "1",
		ChainID: big.NewInt(31337),
	}
}

// Side values used in signed payloads
const (
	SideBuy  uint8 = 1
	SideSell uint8 = 2
)

// PlaceOrderEIP712 is what a wallet signs to place a limit order.
// Amount is in 18-decimal base units, Price in quote wei per whole token.
type PlaceOrderEIP712 struct {
	Trader   common.Address
	Side     uint8
	Amount   *big.Int
	Price    *big.Int
	Nonce    uint64
	Deadline uint64 // unix seconds, 0 = no expiry
}

type CancelOrderEIP712 struct {
	Trader  common.Address
	OrderID uint64
	Nonce   uint64
}

// BuyListingEIP712 authorises spending up to Value quote wei on a fixed-price listing
type BuyListingEIP712 struct {
	Buyer     common.Address
	ListingID uint64
	Value     *big.Int
	Nonce     uint64
}

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var messageTypes = map[string][]apitypes.Type{
	"PlaceOrder": {
		{Name: "trader", Type: "address"},
		{Name: "side", Type: "uint8"},
		{Name: "amount", Type: "uint256"},
		{Name: "price", Type: "uint256"},
		{Name: "nonce", Type: "uint64"},
		{Name: "deadline", Type: "uint64"},
	},
	"CancelOrder": {
		{Name: "trader", Type: "address"},
		{Name: "orderId", Type: "uint64"},
		{Name: "nonce", Type: "uint64"},
	},
	"BuyListing": {
		{Name: "buyer", Type: "address"},
		{Name: "listingId", Type: "uint64"},
		{Name: "value", Type: "uint256"},
		{Name: "nonce", Type: "uint64"},
	},
}

func u64(v uint64) string { return new(big.Int).SetUint64(v).String() }

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (o *PlaceOrderEIP712) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"trader":   o.Trader.Hex(),
		"side":     fmt.Sprintf("%d", o.Side),
		"amount":   bigString(o.Amount),
		"price":    bigString(o.Price),
		"nonce":    u64(o.Nonce),
		"deadline": u64(o.Deadline),
	}
}

func (c *CancelOrderEIP712) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"trader":  c.Trader.Hex(),
		"orderId": u64(c.OrderID),
		"nonce":   u64(c.Nonce),
	}
}

func (b *BuyListingEIP712) message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"buyer":     b.Buyer.Hex(),
		"listingId": u64(b.ListingID),
		"value":     bigString(b.Value),
		"nonce":     u64(b.Nonce),
	}
}

// EIP712Signer hashes, signs and verifies the typed payloads of one domain
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(primary string, msg apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			primary:        messageTypes[primary],
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}
}

// hash returns keccak256("\x19\x01" || domainSeparator || structHash)
func (e *EIP712Signer) hash(primary string, msg apitypes.TypedDataMessage) ([]byte, error) {
	td := e.typedData(primary, msg)
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	structHash, err := td.HashStruct(primary, td.Message)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", primary, err)
	}
	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

func (e *EIP712Signer) HashPlaceOrder(o *PlaceOrderEIP712) ([]byte, error) {
	return e.hash("PlaceOrder", o.message())
}

func (e *EIP712Signer) HashCancelOrder(c *CancelOrderEIP712) ([]byte, error) {
	return e.hash("CancelOrder", c.message())
}

func (e *EIP712Signer) HashBuyListing(b *BuyListingEIP712) ([]byte, error) {
	return e.hash("BuyListing", b.message())
}

func (e *EIP712Signer) SignPlaceOrder(s *Signer, o *PlaceOrderEIP712) ([]byte, error) {
	h, err := e.HashPlaceOrder(o)
	if err != nil {
		return nil, err
	}
	return s.Sign(h)
}

func (e *EIP712Signer) SignCancelOrder(s *Signer, c *CancelOrderEIP712) ([]byte, error) {
	h, err := e.HashCancelOrder(c)
	if err != nil {
		return nil, err
	}
	return s.Sign(h)
}

func (e *EIP712Signer) SignBuyListing(s *Signer, b *BuyListingEIP712) ([]byte, error) {
	h, err := e.HashBuyListing(b)
	if err != nil {
		return nil, err
	}
	return s.Sign(h)
}

// RecoverPlaceOrder returns the address that signed o
func (e *EIP712Signer) RecoverPlaceOrder(o *PlaceOrderEIP712, sig []byte) (common.Address, error) {
	h, err := e.HashPlaceOrder(o)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(h, sig)
}

func (e *EIP712Signer) RecoverCancelOrder(c *CancelOrderEIP712, sig []byte) (common.Address, error) {
	h, err := e.HashCancelOrder(c)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(h, sig)
}

func (e *EIP712Signer) RecoverBuyListing(b *BuyListingEIP712, sig []byte) (common.Address, error) {
	h, err := e.HashBuyListing(b)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(h, sig)
}

// PlaceOrderJSON renders o as eth_signTypedData_v4 input for browser wallets
func (e *EIP712Signer) PlaceOrderJSON(o *PlaceOrderEIP712) (string, error) {
	td := e.typedData("PlaceOrder", o.message())
	out, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal typed data: %w", err)
	}
	return string(out), nil
}

// SideFromString maps buy/sell (or bid/ask) to the signed encoding.
func SideFromString(side string) (uint8, error) {
	switch side {
	case "buy", "BUY", "Buy", "bid":
		return SideBuy, nil
	case "sell", "SELL", "Sell", "ask":
		return SideSell, nil
	}
	return 0, fmt.Errorf("unknown side %q", side)
}

func SideString(side uint8) string {
	switch side {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	}
	return "unknown"
}
