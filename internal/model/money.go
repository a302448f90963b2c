package model

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ToMinorUnits converts a major-unit amount to cents, truncating any
// fraction below one cent.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Truncate(0).IntPart()
}

func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

func FormatMoney(v int64) string {
	return FromMinorUnits(v).StringFixed(2)
}
