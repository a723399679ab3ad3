package crypto

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestEIP55MatchesGethChecksum(t *testing.T) {
	for i := 0; i < 20; i++ {
		s, _ := GenerateKey()
		if got, want := EIP55(s.Address().Bytes()), s.Address().Hex(); got != want {
			t.Fatalf("EIP55 = %s, want %s", got, want)
		}
	}
}

func TestParseAddress(t *testing.T) {
	s, _ := GenerateKey()
	checksummed := s.Address().Hex()

	for _, in := range []string{checksummed, strings.ToLower(checksummed), " " + checksummed + " "} {
		got, err := ParseAddress(in)
		if err != nil || got != s.Address() {
			t.Errorf("ParseAddress(%q) = %s, %v", in, got.Hex(), err)
		}
	}

	// flip the case of the first letter to break the checksum
	b := []byte(checksummed)
	for i := 2; i < len(b); i++ {
		if b[i] >= 'a' && b[i] <= 'f' {
			b[i] -= 'a' - 'A'
			break
		}
		if b[i] >= 'A' && b[i] <= 'F' {
			b[i] += 'a' - 'A'
			break
		}
	}
	body := string(b[2:])
	mixed := body != strings.ToLower(body) && body != strings.ToUpper(body)
	if _, err := ParseAddress(string(b)); err == nil && mixed && string(b) != checksummed {
		t.Errorf("ParseAddress(%q) accepted a bad checksum", b)
	}
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Error("short address accepted")
	}
}

func TestStateHasher(t *testing.T) {
	a := common.HexToAddress("0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0")
	h1 := NewStateHasher().Uint64(1).Address(a).Big(big.NewInt(10)).String("CCT").Sum()
	h2 := NewStateHasher().Uint64(1).Address(a).Big(big.NewInt(10)).String("CCT").Sum()
	if h1 != h2 {
		t.Fatal("hash is not deterministic")
	}
	h3 := NewStateHasher().Uint64(1).Address(a).Big(big.NewInt(11)).String("CCT").Sum()
	if h1 == h3 {
		t.Fatal("different state produced the same hash")
	}
	// length prefixes keep adjacent fields from running together
	if NewStateHasher().String("ab").String("c").Sum() == NewStateHasher().String("a").String("bc").Sum() {
		t.Fatal("field boundaries are ambiguous")
	}
}

func TestAttestor(t *testing.T) {
	att, err := NewAttestorFromSeed([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	msg := []byte("state-root")
	sig := att.Sign(msg)

	pk, err := ParseBLSPublicKey(att.PublicKeyBytes())
	if err != nil {
		t.Fatalf("parse pubkey: %v", err)
	}
	if !VerifyAttestation(pk, sig, msg) {
		t.Error("attestation did not verify")
	}
	if VerifyAttestation(pk, sig, []byte("other")) {
		t.Error("attestation verified for another message")
	}

	if _, err := NewAttestorFromSeed([]byte("short")); err == nil {
		t.Error("short seed accepted")
	}
	r, err := NewRandomAttestor()
	if err != nil || len(r.PublicKeyBytes()) == 0 {
		t.Errorf("random attestor: %v", err)
	}
}
