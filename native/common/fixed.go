package common

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const Decimals = 18

var (
	// Scale is the fixed-point denominator of every price (1e18).
	Scale = uint256.NewInt(1_000_000_000_000_000_000)
	// MinPrice is the lowest admissible price (1.0).
	MinPrice = uint256.NewInt(1_000_000_000_000_000_000)
	// MaxUint256 is returned by unbounded limits.
	MaxUint256 = new(uint256.Int).SetAllOne()
)

// ParseFixed18 converts a human decimal such as "1.05" into its 18-decimal
// fixed-point integer. Inputs with more than 18 fractional digits are rejected.
func ParseFixed18(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative value %s", ErrInvalidAmount, trimmed)
	}
	scaled := d.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: more than %d decimals in %s", ErrInvalidAmount, Decimals, trimmed)
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrOverflow, trimmed)
	}
	return out, nil
}

// FormatFixed18 renders an 18-decimal fixed-point integer as a human decimal.
func FormatFixed18(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -Decimals).String()
}

// ParseAmount accepts a base-10 integer amount.
func ParseAmount(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	out, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return out, nil
}
