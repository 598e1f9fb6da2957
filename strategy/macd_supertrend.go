package strategy

import (
	"time"

	"helmsman/core"
	"helmsman/indicator"

	"github.com/shopspring/decimal"
)

const (
	// macdSTVolumeRatio is the minimum volume expansion confirming the cross.
	macdSTVolumeRatio = 1.5

	// macdSTRSICeiling skips entries already overbought.
	macdSTRSICeiling = 70.0

	// macdSTADXFloor requires a trending market.
	macdSTADXFloor = 20.0
)

// MACDSuperTrendStrategy is the swing entry: a fresh MACD bullish crossover
// confirmed by SuperTrend direction, expanding volume, and a trending ADX.
// It never suggests its own exit; the trailing stop owns that.
type MACDSuperTrendStrategy struct{}

func (s *MACDSuperTrendStrategy) Name() string { return MACDSuperTrend }

func (s *MACDSuperTrendStrategy) MinHold() time.Duration { return 60 * time.Minute }

func (s *MACDSuperTrendStrategy) Evaluate(ctx Context) core.Side {
	if ctx.Position != nil {
		return core.SideHold
	}

	snap := ctx.Snap
	if !snap.FreshBullishCross(ctx.Now) {
		return core.SideHold
	}
	if snap.SuperTrendDirection != indicator.Bullish ||
		!ctx.Price.GreaterThan(decimal.NewFromFloat(snap.SuperTrend)) {
		return core.SideHold
	}
	if snap.VolumeRatio < macdSTVolumeRatio {
		return core.SideHold
	}
	if snap.RSI >= macdSTRSICeiling {
		return core.SideHold
	}
	if snap.ADX <= macdSTADXFloor {
		return core.SideHold
	}
	return core.SideBuy
}
