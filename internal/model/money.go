package model

import "github.com/shopspring/decimal"

// lineAmount multiplies a unit price by a quantity in decimal arithmetic.
func lineAmount(price, quantity float64) float64 {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(quantity)).InexactFloat64()
}

// TotalAmount sums line amounts, counting lines without a price as zero.
func TotalAmount(lines []TenderLine) float64 {
	total := decimal.Zero
	for _, l := range lines {
		if l.UnitPrice == nil {
			continue
		}
		total = total.Add(decimal.NewFromFloat(*l.UnitPrice).Mul(decimal.NewFromFloat(l.Quantity)))
	}
	return total.InexactFloat64()
}
