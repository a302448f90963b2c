package model

import "github.com/shopspring/decimal"

const (
	MaxInstallments = 12

	// MinSmallestInstallment is the floor applied to the configured smallest installment, in cents.
	MinSmallestInstallment int64 = 500
)

var minSmallestInstallment = decimal.NewFromInt(5)

// SmallestInstallment applies the store policy to a configured major-unit value.
func SmallestInstallment(configured decimal.Decimal) int64 {
	if configured.LessThan(minSmallestInstallment) {
		return MinSmallestInstallment
	}
	return ToMinorUnits(configured)
}

// ComputeInstallments lists the interest-free splits of amount allowed by
// the policy. The list always holds the single installment.
func ComputeInstallments(amount int64, maxInstallments int, smallest int64) []InstallmentQuote {
	if amount <= 0 {
		return nil
	}
	if maxInstallments < 1 {
		maxInstallments = 1
	}
	if maxInstallments > MaxInstallments {
		maxInstallments = MaxInstallments
	}

	quotes := make([]InstallmentQuote, 0, maxInstallments)
	for n := 1; n <= maxInstallments; n++ {
		per := amount / int64(n)
		if n > 1 && per < smallest {
			break
		}
		quotes = append(quotes, InstallmentQuote{Count: n, PerInstallment: per, Total: amount})
	}
	return quotes
}

// FindInstallment returns the quote for count, if present.
func FindInstallment(quotes []InstallmentQuote, count int) (InstallmentQuote, bool) {
	for _, q := range quotes {
		if q.Count == count {
			return q, true
		}
	}
	return InstallmentQuote{}, false
}
