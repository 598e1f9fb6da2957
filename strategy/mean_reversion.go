package strategy

import (
	"time"

	"helmsman/core"

	"github.com/shopspring/decimal"
)

const (
	// meanRevRSIOversold is the RSI level treated as oversold.
	meanRevRSIOversold = 35.0

	// meanRevBandProximity is how close to the lower band (as a fraction of
	// it) an oversold price still counts as a reversion setup.
	meanRevBandProximity = 0.005
)

var (
	meanRevProfitAtMiddle = decimal.NewFromFloat(1.5)
	meanRevProfitOutright = decimal.NewFromFloat(2.5)
)

// MeanReversionStrategy buys prices stretched below the Bollinger lower
// band and sells the snap back toward the middle band.
type MeanReversionStrategy struct{}

func (s *MeanReversionStrategy) Name() string { return MeanReversion }

func (s *MeanReversionStrategy) MinHold() time.Duration { return 5 * time.Minute }

func (s *MeanReversionStrategy) Evaluate(ctx Context) core.Side {
	snap := ctx.Snap
	lower := decimal.NewFromFloat(snap.BollingerLower)

	if ctx.Position != nil {
		if ctx.Position.Strategy != MeanReversion {
			return core.SideHold
		}
		middle := decimal.NewFromFloat(snap.BollingerMiddle)
		upper := decimal.NewFromFloat(snap.BollingerUpper)
		switch {
		case ctx.Price.GreaterThanOrEqual(middle) && ctx.ProfitPercent.GreaterThanOrEqual(meanRevProfitAtMiddle):
			return core.SideSell
		case ctx.Price.GreaterThan(upper):
			return core.SideSell
		case ctx.ProfitPercent.GreaterThanOrEqual(meanRevProfitOutright):
			return core.SideSell
		}
		return core.SideHold
	}

	if snap.BollingerLower <= 0 {
		return core.SideHold
	}

	if ctx.Price.LessThan(lower) {
		return core.SideBuy
	}

	// Oversold and hugging the lower band also qualifies.
	nearBand := lower.Mul(decimal.NewFromFloat(1 + meanRevBandProximity))
	if snap.RSI < meanRevRSIOversold && ctx.Price.LessThanOrEqual(nearBand) {
		return core.SideBuy
	}
	return core.SideHold
}
