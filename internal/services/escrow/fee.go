package escrow

import "github.com/shopspring/decimal"

// DefaultFeeRate is the platform's share of each sale.
const DefaultFeeRate = 0.05

var hundred = decimal.NewFromInt(100)

type FeeCalculator struct {
	rate decimal.Decimal
}

func NewFeeCalculator(rate float64) *FeeCalculator {
	if rate <= 0 {
		rate = DefaultFeeRate
	}
	return &FeeCalculator{rate: decimal.NewFromFloat(rate)}
}

// AmountMinor converts a total in major units to minor units (cents).
func (fc *FeeCalculator) AmountMinor(total decimal.Decimal) int64 {
	return total.Mul(hundred).Round(0).IntPart()
}

// ApplicationFeeMinor is round(total x rate x 100).
func (fc *FeeCalculator) ApplicationFeeMinor(total decimal.Decimal) int64 {
	return total.Mul(fc.rate).Mul(hundred).Round(0).IntPart()
}
