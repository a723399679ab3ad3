package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema
// 1. Prefix per record type so recovery is a set of range scans
// 2. Zero-padded sequence numbers so iteration order equals id order
// 3. Token records carry the asset symbol so base and quote share one keyspace

const (
	prefixOrder      = "ord:"   // Order state
	prefixListing    = "lst:"   // Listing state
	prefixReputation = "rep:"   // Reputation per trader
	prefixTrade      = "trade:" // Trade history
	prefixBalance    = "bal:"   // Token balance
	prefixAllowance  = "alw:"   // Token allowance
	prefixFrozen     = "frz:"   // Frozen token account
	prefixSupply     = "sup:"   // Token total supply
	prefixNonce      = "nonce:" // Signed-tx nonce per account
	prefixMeta       = "meta:"  // Counters
)

const (
	metaNextOrder   = "next_order"
	metaNextListing = "next_listing"
	metaNextTrade   = "next_trade"
)

// orderKey: "ord:{id:020d}"
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

// listingKey: "lst:{id:020d}"
func listingKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixListing, id))
}

// reputationKey: "rep:{address}"
func reputationKey(addr common.Address) []byte {
	return []byte(prefixReputation + addr.Hex())
}

// tradeKey: "trade:{seq:020d}"
func tradeKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixTrade, seq))
}

// balanceKey: "bal:{symbol}:{address}"
func balanceKey(symbol string, addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, symbol, addr.Hex()))
}

func balancePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixBalance, symbol))
}

// allowanceKey: "alw:{symbol}:{owner}:{spender}"
func allowanceKey(symbol string, owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixAllowance, symbol, owner.Hex(), spender.Hex()))
}

func allowancePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixAllowance, symbol))
}

// frozenKey: "frz:{symbol}:{address}"
func frozenKey(symbol string, addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixFrozen, symbol, addr.Hex()))
}

func frozenPrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixFrozen, symbol))
}

// supplyKey: "sup:{symbol}"
func supplyKey(symbol string) []byte {
	return []byte(prefixSupply + symbol)
}

// nonceKey: "nonce:{address}"
func nonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

func metaKey(name string) []byte {
	return []byte(prefixMeta + name)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "bal:CCT:" -> upper bound "bal:CCT;" (next byte after ':')
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// addressFromKeySuffix parses the trailing 0x address of a key.
func addressFromKeySuffix(key []byte) (common.Address, error) {
	if len(key) < 42 {
		return common.Address{}, fmt.Errorf("invalid key length: %d", len(key))
	}
	hex := string(key[len(key)-42:])
	if !common.IsHexAddress(hex) {
		return common.Address{}, fmt.Errorf("invalid address in key: %s", hex)
	}
	return common.HexToAddress(hex), nil
}
