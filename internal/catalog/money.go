package catalog

import "github.com/shopspring/decimal"

// MoneyScale is the number of fractional digits a decimal column keeps.
// SQLite has no exact decimal type, so it stores money as an integer
// count of minor units at this scale.
const MoneyScale = 2

// FitsMoneyScale reports whether d has at most MoneyScale fractional digits.
func FitsMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// MinorUnits converts d to minor units. ok is false when d has more
// fractional digits than MoneyScale.
func MinorUnits(d decimal.Decimal) (n int64, ok bool) {
	m := d.Shift(MoneyScale)
	if !m.IsInteger() {
		return 0, false
	}
	return m.IntPart(), true
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(n int64) decimal.Decimal {
	return decimal.New(n, -MoneyScale)
}
