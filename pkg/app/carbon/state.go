package carbon

import (
	"github.com/uhyunpark/carbonledger/pkg/app/core/ledger"
	"github.com/uhyunpark/carbonledger/pkg/consensus"
	"github.com/uhyunpark/carbonledger/pkg/crypto"
)

// StateRoot is a keccak digest over the ledger at a given height. Hashed in order:
//   - height
//   - every order (id, status, remaining, filled, escrowed)
//   - every listing (id, remaining, cancelled)
//   - reputations by address
//   - balances of both assets by holder
//   - the trade counter
//
// Timestamps and trade ids are left out so replicas agree regardless of wall clock.
// TODO: hash only the orders and accounts touched by the block once the count of
// historical orders makes the full walk noticeable.
func StateRoot(l *ledger.Ledger, height int64) consensus.Hash {
	h := crypto.NewStateHasher().Uint64(uint64(height))

	next := l.NextOrderID()
	h.Uint64(next)
	for id := uint64(0); id < next; id++ {
		o, err := l.GetOrderDetails(id)
		if err != nil {
			continue
		}
		h.Uint64(o.ID).Address(o.Trader).Uint64(uint64(o.Side)).Uint64(uint64(o.Status)).
			Big(o.Price).Big(o.Amount).Big(o.Filled).Big(o.Escrowed)
	}

	nextListing := l.NextListingID()
	h.Uint64(nextListing)
	for id := uint64(0); id < nextListing; id++ {
		li, err := l.GetListing(id)
		if err != nil {
			continue
		}
		cancelled := uint64(0)
		if li.Cancelled {
			cancelled = 1
		}
		h.Uint64(li.ID).Address(li.Seller).Big(li.Amount).Big(li.PricePerToken).Uint64(cancelled)
	}

	reps := l.Reputations()
	for _, addr := range l.Traders() {
		r := reps[addr]
		h.Address(addr).Uint64(r.Total).Uint64(r.Successful)
	}

	for _, asset := range []ledger.Asset{ledger.Base, ledger.Quote} {
		h.String(string(asset))
		for _, addr := range l.Holders(asset) {
			h.Address(addr).Big(l.BalanceOf(asset, addr))
		}
	}

	h.Uint64(l.TradeCount())
	return consensus.Hash(h.Sum())
}
