package crypto

import (
	"crypto/rand"
	"fmt"

	bls "github.com/cloudflare/circl/sign/bls"
)

type scheme = bls.KeyG1SigG2

type BLSPubKey = bls.PublicKey[scheme]

// Attestor signs block state roots so peers and clients can check a block came
// from this node's key.
type Attestor struct {
	sk *bls.PrivateKey[scheme]
	pk *BLSPubKey
}

// NewAttestorFromSeed derives a key from seed, which must be at least 32 bytes.
func NewAttestorFromSeed(seed []byte) (*Attestor, error) {
	sk, err := bls.KeyGen[scheme](seed, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("bls keygen: %w", err)
	}
	return &Attestor{sk: sk, pk: sk.PublicKey()}, nil
}

// NewRandomAttestor is for nodes without a configured seed
func NewRandomAttestor() (*Attestor, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return NewAttestorFromSeed(seed)
}

func (a *Attestor) PublicKey() *BLSPubKey { return a.pk }

func (a *Attestor) PublicKeyBytes() []byte {
	b, _ := a.pk.MarshalBinary()
	return b
}

func (a *Attestor) Sign(msg []byte) []byte { return bls.Sign(a.sk, msg) }

func ParseBLSPublicKey(b []byte) (*BLSPubKey, error) {
	pk := new(BLSPubKey)
	if err := pk.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("bls public key: %w", err)
	}
	return pk, nil
}

func VerifyAttestation(pk *BLSPubKey, sig, msg []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sig))
}
