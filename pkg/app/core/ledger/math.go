package ledger

import (
	"math/big"

	"github.com/uhyunpark/carbonledger/pkg/app/core/token"
)

// cover is the quote needed to back qty base units at price, rounded up.
func cover(qty, price *big.Int) *big.Int {
	n := new(big.Int).Mul(qty, price)
	q, r := new(big.Int).QuoRem(n, token.Unit, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// pay is the quote a seller receives for qty base units at price, rounded down.
// pay(q, p) <= cover(q, p) always holds.
func pay(qty, price *big.Int) *big.Int {
	n := new(big.Int).Mul(qty, price)
	return n.Quo(n, token.Unit)
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }
