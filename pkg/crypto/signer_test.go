package crypto

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}
	if got := len(signer.PrivateKeyHex()); got != 64 {
		t.Errorf("private key hex length = %d, want 64", got)
	}
	if got := len(signer.PublicKeyHex()); got != 130 {
		t.Errorf("public key hex length = %d, want 130", got)
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	for _, in := range []string{signer1.PrivateKeyHex(), "0x" + signer1.PrivateKeyHex()} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("failed to load key: %v", err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}
	if _, err := FromPrivateKeyHex("not-a-key"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("carbon"))

	sig, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	got, err := RecoverAddress(hash, sig)
	if err != nil || got != signer.Address() {
		t.Fatalf("recovered %s (%v), want %s", got.Hex(), err, signer.Address().Hex())
	}

	// wallets send V as 27/28
	sig[64] += 27
	if !VerifySignature(signer.Address(), hash, sig) {
		t.Error("27/28 recovery id should verify")
	}
	if VerifySignature(common.HexToAddress("0x01"), hash, sig) {
		t.Error("signature should not verify for another address")
	}
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("expected error for non-32-byte hash")
	}
}

func TestPersonalSign(t *testing.T) {
	signer, _ := GenerateKey()
	msg := []byte("Sign in to CarbonLedger\nnonce: 42")

	sig, err := signer.SignPersonal(msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Errorf("V = %d, want 27 or 28", sig[64])
	}
	got, err := RecoverPersonal(msg, sig)
	if err != nil || got != signer.Address() {
		t.Fatalf("recovered %s (%v)", got.Hex(), err)
	}
	other, _ := RecoverPersonal([]byte("something else"), sig)
	if other == signer.Address() {
		t.Error("different message recovered the same signer")
	}
}

func TestDecodeSignature(t *testing.T) {
	signer, _ := GenerateKey()
	sig, _ := signer.SignPersonal([]byte("x"))
	hexSig := "0x" + common.Bytes2Hex(sig)

	got, err := DecodeSignature(hexSig)
	if err != nil || !bytes.Equal(got, sig) {
		t.Fatalf("decode = %x (%v)", got, err)
	}
	if _, err := DecodeSignature("0x1234"); err == nil {
		t.Error("expected length error")
	}
	if _, err := DecodeSignature("0xzz"); err == nil {
		t.Error("expected hex error")
	}
}

func TestEIP712RoundTrip(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(DefaultDomain())

	order := &PlaceOrderEIP712{
		Trader: signer.Address(),
		Side:   SideBuy,
		Amount: big.NewInt(5e18),
		Price:  big.NewInt(2e16),
		Nonce:  1,
	}
	sig, err := e.SignPlaceOrder(signer, order)
	if err != nil {
		t.Fatalf("sign order: %v", err)
	}
	got, err := e.RecoverPlaceOrder(order, sig)
	if err != nil || got != signer.Address() {
		t.Fatalf("recover order: %s (%v)", got.Hex(), err)
	}

	// any field change breaks the signature
	tampered := *order
	tampered.Price = big.NewInt(1)
	if got, _ := e.RecoverPlaceOrder(&tampered, sig); got == signer.Address() {
		t.Error("tampered price still recovers the signer")
	}

	// other domains do not accept it
	dom := DefaultDomain()
	dom.ChainID = big.NewInt(1)
	if got, _ := NewEIP712Signer(dom).RecoverPlaceOrder(order, sig); got == signer.Address() {
		t.Error("signature replayed across chains")
	}

	cancel := &CancelOrderEIP712{Trader: signer.Address(), OrderID: 7, Nonce: 2}
	sig, _ = e.SignCancelOrder(signer, cancel)
	if got, _ := e.RecoverCancelOrder(cancel, sig); got != signer.Address() {
		t.Error("cancel signature did not recover")
	}

	buy := &BuyListingEIP712{Buyer: signer.Address(), ListingID: 3, Value: big.NewInt(1e18), Nonce: 3}
	sig, _ = e.SignBuyListing(signer, buy)
	if got, _ := e.RecoverBuyListing(buy, sig); got != signer.Address() {
		t.Error("buy signature did not recover")
	}

	js, err := e.PlaceOrderJSON(order)
	if err != nil || !strings.Contains(js, `"primaryType": "PlaceOrder"`) {
		t.Errorf("typed data json = %s (%v)", js, err)
	}
}

func TestSideFromString(t *testing.T) {
	for in, want := range map[string]uint8{"buy": SideBuy, "SELL": SideSell, "bid": SideBuy, "ask": SideSell} {
		got, err := SideFromString(in)
		if err != nil || got != want {
			t.Errorf("SideFromString(%q) = %d, %v", in, got, err)
		}
	}
	if _, err := SideFromString("hold"); err == nil {
		t.Error("expected error")
	}
	if SideString(SideSell) != "sell" || SideString(9) != "unknown" {
		t.Error("SideString mismatch")
	}
}
