// Package money holds the fixed-point conventions shared by the whole
// engine: two decimal places, half-up rounding, and the one-cent epsilon
// used when matching caller-supplied totals.
package money

import "github.com/shopspring/decimal"

// Epsilon is the smallest currency unit. Amounts that differ by Epsilon or
// more are considered different.
var Epsilon = decimal.New(1, -2) // 0.01

// Round normalizes a monetary amount to two decimal places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Equal reports whether two amounts match within less than one cent.
func Equal(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(Epsilon)
}

// Min returns the smaller of two amounts.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Sum adds a list of amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
