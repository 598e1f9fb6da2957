package strategy

import (
	"time"

	"helmsman/core"

	"github.com/shopspring/decimal"
)

// scalpingDip is how far below SMA10 the price must sit to count as a
// short-term dislocation worth a quick reversion trade.
const scalpingDip = 0.008

// ScalpingStrategy buys quick dips below the 10-period mean and lets the
// engine's stop/target parameters handle the exit.
type ScalpingStrategy struct{}

func (s *ScalpingStrategy) Name() string { return Scalping }

func (s *ScalpingStrategy) MinHold() time.Duration { return 3 * time.Minute }

func (s *ScalpingStrategy) Evaluate(ctx Context) core.Side {
	if ctx.Position != nil {
		return core.SideHold
	}

	threshold := decimal.NewFromFloat(ctx.Snap.SMA10 * (1 - scalpingDip))
	if ctx.Snap.SMA10 > 0 && ctx.Price.LessThanOrEqual(threshold) {
		return core.SideBuy
	}
	return core.SideHold
}
