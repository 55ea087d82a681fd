package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimals is the number of base units per coin, as a power of ten.
const Decimals = 9

// ParseAmount converts a human-readable coin amount ("1.5") into base units.
// More than Decimals fractional digits is an error rather than a rounding.
func ParseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", s)
	}
	units := d.Shift(Decimals)
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimals", s, Decimals)
	}
	if units.GreaterThan(decimal.NewFromUint64(^uint64(0))) {
		return 0, fmt.Errorf("amount %q overflows", s)
	}
	return units.BigInt().Uint64(), nil
}

// FormatAmount renders base units as a coin amount with all decimals.
func FormatAmount(units uint64) string {
	return decimal.NewFromUint64(units).Shift(-Decimals).StringFixed(Decimals)
}
