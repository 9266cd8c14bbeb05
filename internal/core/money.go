// Package core provides money parsing and handling utilities.
//
// Amounts are fixed-point with two fractional digits and are carried as
// integer cents everywhere below the parsing boundary.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in cents.
type Money struct {
	Cents int64
}

// maxAmount keeps cents well inside int64 and rejects absurd input.
var maxAmount = decimal.New(1, 13)

// Exponent bounds checked before any arithmetic, since rescaling a decimal
// costs time proportional to the exponent distance.
const (
	minExponent = -64
	maxExponent = 13
)

// ParseAmount converts a decimal string to Money with half-up rounding to cents.
//
// Both dot (32.5) and comma (32,5) separators are accepted. Zero, negative,
// non-numeric and out-of-range values fail with ErrInvalidAmount, as does
// scientific notation (1e3).
//
// Examples:
//
//	ParseAmount("32.5")   -> 3250
//	ParseAmount("12,345") -> 1235
//	ParseAmount("0.004")  -> ErrInvalidAmount (rounds to zero)
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	if strings.ContainsAny(s, "eE") {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	return FromDecimal(d)
}

// FromDecimal converts an already parsed amount, rounding half-up to cents.
func FromDecimal(d decimal.Decimal) (Money, error) {
	if e := d.Exponent(); e < minExponent || e > maxExponent {
		return Money{}, ErrInvalidAmount
	}
	if d.GreaterThanOrEqual(maxAmount) {
		return Money{}, ErrInvalidAmount
	}
	m := Money{Cents: d.Round(2).Shift(2).IntPart()}
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Decimal returns the exact decimal value of m.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats m with exactly two fractional digits, e.g. "32.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Yuan returns the value as float64 for display only; use Cents for arithmetic.
func (m Money) Yuan() float64 {
	return float64(m.Cents) / 100.0
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }

func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
