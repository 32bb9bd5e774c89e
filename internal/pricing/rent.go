// Package pricing computes rental amounts from a daily rate.
package pricing

import "github.com/shopspring/decimal"

const (
	discountFromDays   = 7
	maxDiscountPercent = 10
)

var hundred = decimal.NewFromInt(100)

// ComputeRent returns the rent for days at dailyRate, rounded to cents.
// Rentals of a week or longer get one percent off per day beyond six, capped at ten percent.
func ComputeRent(dailyRate decimal.Decimal, days int) decimal.Decimal {
	if days <= 0 {
		return decimal.Zero
	}

	total := dailyRate.Mul(decimal.NewFromInt(int64(days)))
	if days >= discountFromDays {
		percent := days - (discountFromDays - 1)
		if percent > maxDiscountPercent {
			percent = maxDiscountPercent
		}
		discount := total.Mul(decimal.NewFromInt(int64(percent))).Div(hundred)
		total = total.Sub(discount)
	}

	return total.Round(2)
}
