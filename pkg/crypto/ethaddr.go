// file: pkg/crypto/ethaddr.go
package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// EIP55 computes the checksummed hex address string from a 20-byte raw address.
func EIP55(addr20 []byte) string {
	hexaddr := hex.EncodeToString(addr20)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(hexaddr))
	sum := h.Sum(nil)

	out := make([]byte, 2+len(hexaddr))
	copy(out, "0x")
	for i, c := range []byte(hexaddr) {
		nibble := sum[i>>1] & 0x0f
		if i%2 == 0 {
			nibble = sum[i>>1] >> 4
		}
		if c >= 'a' && nibble >= 8 {
			c -= 'a' - 'A'
		}
		out[2+i] = c
	}
	return string(out)
}

// ParseAddress parses a 0x hex address. All-lower and all-upper input is
// accepted as is; mixed case must carry a valid EIP-55 checksum.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	addr := common.HexToAddress(s)
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if "0x"+body != EIP55(addr.Bytes()) {
			return common.Address{}, fmt.Errorf("bad checksum for address %q", s)
		}
	}
	return addr, nil
}

// StateHasher accumulates a keccak256 digest over ledger state in a fixed
// field order. Variable-length fields are length-prefixed.
type StateHasher struct {
	h hash.Hash
}

func NewStateHasher() *StateHasher { return &StateHasher{h: sha3.NewLegacyKeccak256()} }

func (s *StateHasher) Uint64(v uint64) *StateHasher {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	s.h.Write(b[:])
	return s
}

func (s *StateHasher) Bytes(b []byte) *StateHasher {
	s.Uint64(uint64(len(b)))
	s.h.Write(b)
	return s
}

func (s *StateHasher) String(v string) *StateHasher { return s.Bytes([]byte(v)) }

func (s *StateHasher) Address(a common.Address) *StateHasher {
	s.h.Write(a.Bytes())
	return s
}

// Big hashes a non-negative integer; nil hashes as zero.
func (s *StateHasher) Big(v *big.Int) *StateHasher {
	if v == nil {
		return s.Bytes(nil)
	}
	return s.Bytes(v.Bytes())
}

func (s *StateHasher) Sum() common.Hash { return common.BytesToHash(s.h.Sum(nil)) }
