package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CurrencyExponent is the number of minor-unit digits every ledger amount carries
const CurrencyExponent = 2

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a decimal amount to integer cents. Amounts with more
// precision than a cent are rejected rather than silently rounded.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	scaled := amount.Shift(CurrencyExponent)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", amount.String(), CurrencyExponent)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s is out of range", amount.String())
	}
	return scaled.IntPart(), nil
}

// FromMinorUnits converts integer cents back to a decimal amount
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -CurrencyExponent)
}

// FormatMinorUnits renders cents as a fixed two-place string, e.g. 500 -> "5.00"
func FormatMinorUnits(cents int64) string {
	return FromMinorUnits(cents).StringFixed(CurrencyExponent)
}

// RewardAmount computes base x rate / 100 rounded half-up to the smallest
// currency unit and returns it in cents.
func RewardAmount(baseCents int64, ratePercent decimal.Decimal) int64 {
	reward := FromMinorUnits(baseCents).Mul(ratePercent).Div(hundred).Round(CurrencyExponent)
	return reward.Shift(CurrencyExponent).IntPart()
}
