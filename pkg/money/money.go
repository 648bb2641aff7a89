package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FormatCents renders minor units as a two-decimal string, e.g. 4000 -> "40.00".
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// ParseAmount converts a decimal string such as "40.00" back to cents.
// Values with more than two fractional digits are rejected.
func ParseAmount(value string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	cents := d.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: more than two decimal places", value)
	}
	return cents.IntPart(), nil
}
