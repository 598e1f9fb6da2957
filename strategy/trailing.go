package strategy

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// TrailingStop is the percent-ratchet exit rule: it arms once profit clears
// the activation threshold, then trails the recorded peak price by a fixed
// percentage. The peak itself is position state owned by the engine monitor;
// this type only answers questions about it.
type TrailingStop struct {
	ActivationPercent decimal.Decimal
	DistancePercent   decimal.Decimal
}

// NewTrailingStop builds the rule from config percentages.
func NewTrailingStop(activationPercent, distancePercent float64) TrailingStop {
	return TrailingStop{
		ActivationPercent: decimal.NewFromFloat(activationPercent),
		DistancePercent:   decimal.NewFromFloat(distancePercent),
	}
}

// ShouldArm reports whether the current profit clears the activation
// threshold. Arming is one-way; the engine never disarms a position.
func (t TrailingStop) ShouldArm(profitPercent decimal.Decimal) bool {
	return profitPercent.GreaterThanOrEqual(t.ActivationPercent)
}

// StopPrice is the exit trigger derived from the ratcheted peak.
func (t TrailingStop) StopPrice(highest decimal.Decimal) decimal.Decimal {
	return highest.Mul(hundred.Sub(t.DistancePercent)).Div(hundred)
}

// Triggered reports whether the price has retreated to or through the stop.
func (t TrailingStop) Triggered(price, highest decimal.Decimal) bool {
	return price.LessThanOrEqual(t.StopPrice(highest))
}
