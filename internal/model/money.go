package model

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimals stored for every monetary amount.
const MoneyPlaces = 2

var bpsDivisor = decimal.NewFromInt(10000)

// Bps converts basis points to a decimal fraction (500 -> 0.05).
func Bps(bps int) decimal.Decimal {
	return decimal.NewFromInt(int64(bps)).Div(bpsDivisor)
}

// RoundMoney rounds half away from zero to MoneyPlaces.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// Sum adds the given amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
