package tariff

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// RoundCents rounds half away from zero to whole cents.
func RoundCents(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// ApplyDiscount reduces a price by percent.
func ApplyDiscount(cents int64, percent float64) int64 {
	factor := hundred.Sub(decimal.NewFromFloat(percent)).Div(hundred)
	return RoundCents(decimal.NewFromInt(cents).Mul(factor))
}

// LineAmount is round(quantity * unit price).
func LineAmount(quantity float64, unitPriceCents int64) int64 {
	return RoundCents(decimal.NewFromFloat(quantity).Mul(decimal.NewFromInt(unitPriceCents)))
}

// VatAmount is round(amount * rate / 100).
func VatAmount(amountCents int64, ratePercent float64) int64 {
	return RoundCents(decimal.NewFromInt(amountCents).Mul(decimal.NewFromFloat(ratePercent)).Div(hundred))
}
