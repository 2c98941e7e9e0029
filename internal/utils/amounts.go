// Package utils provides small helpers shared across modules.
package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a base-unit integer amount ("1000000").
// Negative amounts are rejected unless allowNegative is set.
func ParseAmount(s string, allowNegative bool) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not an integer", s)
	}
	if !allowNegative && v.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", s)
	}
	return v, nil
}

// FormatUnits renders a base-unit amount as a decimal string with the given asset decimals.
// FormatUnits(1500000, 6) == "1.5"
func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ParseUnits converts a human decimal string into base units. Digits beyond the asset
// decimals are an error rather than being rounded away.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid decimal amount %q: %w", s, err)
	}
	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	return shifted.BigInt(), nil
}

// Share returns part/whole as a float64 fraction. A zero or nil whole yields 0.
func Share(part, whole *big.Int) float64 {
	if part == nil || whole == nil || whole.Sign() == 0 {
		return 0
	}
	f, _ := decimal.NewFromBigInt(part, 0).
		DivRound(decimal.NewFromBigInt(whole, 0), 18).
		Float64()
	return f
}
