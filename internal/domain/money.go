package domain

import "github.com/shopspring/decimal"

// Monetary values are rounded to 2 decimals and hour values to 3 decimals
// immediately after every computation step, never deferred, so floating
// error cannot compound across the calculation chain.

const (
	moneyScale = 2
	hourScale  = 3
)

// RoundMoney rounds a monetary amount to 2 decimal places, half away from
// zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyScale)
}

// RoundHours rounds an hour count to 3 decimal places, half away from zero.
func RoundHours(d decimal.Decimal) decimal.Decimal {
	return d.Round(hourScale)
}

// NonNegative clamps a value at zero. Net payout amounts never go below
// zero even when fees exceed the total.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
