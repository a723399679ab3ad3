package transaction

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/carbonledger/pkg/app/core/ledger"
	"github.com/uhyunpark/carbonledger/pkg/crypto"
)

// Verified is a transaction whose signature matched its claimed sender.
type Verified struct {
	Type   TxType
	Sender common.Address
	Nonce  uint64

	// TxTypeOrder
	Side     ledger.Side
	Amount   *big.Int
	Price    *big.Int
	Deadline uint64

	// TxTypeCancel
	OrderID uint64

	// TxTypeBuy
	ListingID uint64
	Value     *big.Int
}

type Verifier struct {
	eip712 *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712: crypto.NewEIP712Signer(domain)}
}

func (v *Verifier) Domain() crypto.EIP712Domain { return v.eip712.Domain() }

// Verify recovers the signer of tx and checks it against the address the payload claims.
func (v *Verifier) Verify(tx *SignedTransaction) (*Verified, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	sig, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var (
		out     *Verified
		claimed common.Address
		signer  common.Address
	)
	switch tx.Type {
	case TxTypeOrder:
		o, err := tx.Order.ToEIP712()
		if err != nil {
			return nil, err
		}
		if signer, err = v.eip712.RecoverPlaceOrder(o, sig); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		side := ledger.Buy
		if o.Side == crypto.SideSell {
			side = ledger.Sell
		}
		claimed = o.Trader
		out = &Verified{Side: side, Amount: o.Amount, Price: o.Price, Deadline: o.Deadline, Nonce: o.Nonce}

	case TxTypeCancel:
		c, err := tx.Cancel.ToEIP712()
		if err != nil {
			return nil, err
		}
		if signer, err = v.eip712.RecoverCancelOrder(c, sig); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		claimed = c.Trader
		out = &Verified{OrderID: c.OrderID, Nonce: c.Nonce}

	case TxTypeBuy:
		b, err := tx.Buy.ToEIP712()
		if err != nil {
			return nil, err
		}
		if signer, err = v.eip712.RecoverBuyListing(b, sig); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
		claimed = b.Buyer
		out = &Verified{ListingID: b.ListingID, Value: b.Value, Nonce: b.Nonce}
	}

	if signer != claimed {
		return nil, fmt.Errorf("%w: signed by %s, claims %s", ErrBadSignature, signer.Hex(), claimed.Hex())
	}
	out.Type = tx.Type
	out.Sender = signer
	return out, nil
}

// Builder signs transactions for one wallet key. Used by clients and tests.
type Builder struct {
	eip712 *crypto.EIP712Signer
	key    *crypto.Signer
}

func NewBuilder(domain crypto.EIP712Domain, key *crypto.Signer) *Builder {
	return &Builder{eip712: crypto.NewEIP712Signer(domain), key: key}
}

func (b *Builder) PlaceOrder(side ledger.Side, amount, price *big.Int, nonce, deadline uint64) (*SignedTransaction, error) {
	s := crypto.SideBuy
	if side == ledger.Sell {
		s = crypto.SideSell
	}
	o := &crypto.PlaceOrderEIP712{
		Trader:   b.key.Address(),
		Side:     s,
		Amount:   amount,
		Price:    price,
		Nonce:    nonce,
		Deadline: deadline,
	}
	sig, err := b.eip712.SignPlaceOrder(b.key, o)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{Type: TxTypeOrder, Order: FromPlaceOrderEIP712(o), Signature: hexSig(sig)}, nil
}

func (b *Builder) CancelOrder(orderID, nonce uint64) (*SignedTransaction, error) {
	c := &crypto.CancelOrderEIP712{Trader: b.key.Address(), OrderID: orderID, Nonce: nonce}
	sig, err := b.eip712.SignCancelOrder(b.key, c)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		Type:      TxTypeCancel,
		Cancel:    &CancelPayload{Trader: c.Trader.Hex(), OrderID: orderID, Nonce: nonce},
		Signature: hexSig(sig),
	}, nil
}

func (b *Builder) BuyListing(listingID uint64, value *big.Int, nonce uint64) (*SignedTransaction, error) {
	m := &crypto.BuyListingEIP712{Buyer: b.key.Address(), ListingID: listingID, Value: value, Nonce: nonce}
	sig, err := b.eip712.SignBuyListing(b.key, m)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		Type:      TxTypeBuy,
		Buy:       &BuyPayload{Buyer: m.Buyer.Hex(), ListingID: listingID, Value: value.String(), Nonce: nonce},
		Signature: hexSig(sig),
	}, nil
}

func hexSig(sig []byte) string { return "0x" + common.Bytes2Hex(sig) }
