package transaction

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/carbonledger/pkg/app/core/ledger"
	"github.com/uhyunpark/carbonledger/pkg/crypto"
)

func newBuilder(t *testing.T) (*Builder, *crypto.Signer) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewBuilder(crypto.DefaultDomain(), key), key
}

func TestVerifyPlaceOrder(t *testing.T) {
	b, key := newBuilder(t)
	v := NewVerifier(crypto.DefaultDomain())

	tx, err := b.PlaceOrder(ledger.Sell, big.NewInt(7e18), big.NewInt(3e16), 4, 0)
	require.NoError(t, err)

	// survives the wire
	raw, err := tx.Serialize()
	require.NoError(t, err)
	parsed, err := ParseTransaction(raw)
	require.NoError(t, err)

	got, err := v.Verify(parsed)
	require.NoError(t, err)
	assert.Equal(t, TxTypeOrder, got.Type)
	assert.Equal(t, key.Address(), got.Sender)
	assert.Equal(t, ledger.Sell, got.Side)
	assert.Equal(t, "7000000000000000000", got.Amount.String())
	assert.Equal(t, "30000000000000000", got.Price.String())
	assert.Equal(t, uint64(4), got.Nonce)
}

func TestVerifyCancelAndBuy(t *testing.T) {
	b, key := newBuilder(t)
	v := NewVerifier(crypto.DefaultDomain())

	c, err := b.CancelOrder(12, 5)
	require.NoError(t, err)
	got, err := v.Verify(c)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), got.OrderID)
	assert.Equal(t, key.Address(), got.Sender)

	buy, err := b.BuyListing(3, big.NewInt(1e18), 6)
	require.NoError(t, err)
	got, err = v.Verify(buy)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.ListingID)
	assert.Equal(t, "1000000000000000000", got.Value.String())
}

func TestVerifyRejects(t *testing.T) {
	b, _ := newBuilder(t)
	other, _ := newBuilder(t)
	v := NewVerifier(crypto.DefaultDomain())

	t.Run("tampered amount", func(t *testing.T) {
		tx, _ := b.PlaceOrder(ledger.Buy, big.NewInt(1e18), big.NewInt(1e18), 1, 0)
		tx.Order.Amount = "2000000000000000000"
		_, err := v.Verify(tx)
		require.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("signed by someone else", func(t *testing.T) {
		tx, _ := b.CancelOrder(1, 1)
		forged, _ := other.CancelOrder(1, 1)
		tx.Signature = forged.Signature
		_, err := v.Verify(tx)
		require.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("other chain", func(t *testing.T) {
		tx, _ := b.PlaceOrder(ledger.Buy, big.NewInt(1e18), big.NewInt(1e18), 1, 0)
		dom := crypto.DefaultDomain()
		dom.ChainID = big.NewInt(1)
		_, err := NewVerifier(dom).Verify(tx)
		require.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("malformed", func(t *testing.T) {
		tx, _ := b.PlaceOrder(ledger.Buy, big.NewInt(1e18), big.NewInt(1e18), 1, 0)
		tx.Order.Price = "-5"
		_, err := v.Verify(tx)
		require.ErrorIs(t, err, ErrMalformed)

		tx.Order.Price = "1"
		tx.Signature = "0x12"
		_, err = v.Verify(tx)
		require.ErrorIs(t, err, ErrMalformed)
	})
}

func TestParseTransactionValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `O:GTC:BTC`},
		{"missing type", `{"signature":"0x1"}`},
		{"unknown type", `{"type":"withdraw","signature":"0x1"}`},
		{"missing payload", `{"type":"cancel","signature":"0x1"}`},
		{"missing signature", `{"type":"cancel","cancel":{"orderId":1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTransaction([]byte(tt.raw))
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestHashIsStable(t *testing.T) {
	b, _ := newBuilder(t)
	tx, _ := b.CancelOrder(1, 1)
	h1, err := tx.Hash()
	require.NoError(t, err)
	h2, _ := tx.Hash()
	assert.Equal(t, h1, h2)

	tx2, _ := b.CancelOrder(1, 2)
	h3, _ := tx2.Hash()
	assert.NotEqual(t, h1, h3)
}
