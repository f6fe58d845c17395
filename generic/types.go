/*
Package generic provides the domain-agnostic building blocks of the engine.

PURPOSE:
  Time windows, money arithmetic, error taxonomy and unit-of-work plumbing
  shared by the Gift Aid domain package, the stores and the HTTP layer.
  Nothing in here knows what a declaration or a batch is.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money amounts: decimal.Decimal, never float64
  - Currency rounding: two places, half away from zero
  - Percentages: basic tax rate expressed as 0..100

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Explicit time: "now" is always passed in (see Clock in time.go)
  3. Errors as values: sentinels + structured errors (see errors.go)

USAGE:
  amt := generic.MustParseDecimal("100.00")
  reclaim := generic.RoundCurrency(amt.Mul(rate).Div(hundred.Sub(rate)))

SEE ALSO:
  - period.go: half-open Window with optional end
  - store.go: unit of work with post-commit hooks
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - decimal amounts rounded to currency precision
// =============================================================================

// CurrencyPlaces is the number of decimal places stored for money amounts.
const CurrencyPlaces = 2

// Hundred is 100 as a decimal, used for percentage arithmetic.
var Hundred = decimal.NewFromInt(100)

// RoundCurrency rounds to two places, half away from zero.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// MustParseDecimal parses a decimal string or panics. Use for constants and tests.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("invalid decimal %q: %v", s, err))
	}
	return d
}

// ParseAmount parses a user-supplied money amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// SumAmounts adds the given amounts.
func SumAmounts(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// DecimalPtr returns a pointer to a copy of d.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }

// PercentageValid reports whether rate is in [0, 100).
func PercentageValid(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThan(Hundred)
}
