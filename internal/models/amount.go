package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of smallest units in one whole currency unit
// for wallet-denominated prices (1 ether = 10^18 wei).
const EtherDecimals int32 = 18

var ErrInvalidAmount = errors.New("amount must be a non-negative integer in the smallest currency unit")

// ParseUnits converts a human readable amount such as "0.005" into the
// smallest currency unit using the given number of decimals.
func ParseUnits(value string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", value, err)
	}

	scaled := d.Shift(decimals)
	if !IsValidAmount(scaled) {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", value, ErrInvalidAmount)
	}
	return scaled, nil
}

// MustParseUnits is ParseUnits for constants and tests.
func MustParseUnits(value string, decimals int32) decimal.Decimal {
	d, err := ParseUnits(value, decimals)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatUnits renders a smallest-unit amount with the given number of decimals.
func FormatUnits(amount decimal.Decimal, decimals int32) string {
	return amount.Shift(-decimals).String()
}

// IsValidAmount reports whether d is a non-negative integer.
func IsValidAmount(d decimal.Decimal) bool {
	return !d.IsNegative() && d.IsInteger()
}
