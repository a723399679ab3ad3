// Package units converts between wei-scale integers and human decimal strings.
// Amounts and prices are both 18-decimal quantities.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const Decimals = 18

var scale = decimal.New(1, Decimals)

// ToWei parses a decimal string such as "1.5" into its 18-decimal integer form.
// More than 18 fractional digits is an error rather than a silent truncation.
func ToWei(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("units: parse %q: %w", s, err)
	}
	w := d.Mul(scale)
	if !w.Equal(w.Truncate(0)) {
		return nil, fmt.Errorf("units: %q has more than %d decimals", s, Decimals)
	}
	return w.BigInt(), nil
}

// FormatEther renders wei as a decimal string without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -Decimals).String()
}

// ParseWei parses a plain base-10 integer string.
func ParseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("units: %q is not an integer", s)
	}
	return v, nil
}

// ParseAmount accepts either "<int>" wei or "<decimal> ether" style input:
// values with a decimal point or an "ether"/"eth"/"cct" suffix are scaled by 10^18.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for _, suffix := range []string{"ether", "eth", "cct"} {
		if strings.HasSuffix(s, suffix) {
			return ToWei(strings.TrimSuffix(s, suffix))
		}
	}
	if strings.Contains(s, ".") {
		return ToWei(s)
	}
	return ParseWei(strings.TrimSuffix(s, "wei"))
}
