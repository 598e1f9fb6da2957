package strategy

import (
	"time"

	"helmsman/core"

	"github.com/shopspring/decimal"
)

const (
	// momentumEntryGap is the minimum SMA5-over-SMA20 spread, as a fraction
	// of SMA20, for a trend to count as established.
	momentumEntryGap = 0.0015

	// momentumExitGap is the reversed spread that invalidates the trend.
	momentumExitGap = -0.003
)

// MomentumStrategy rides short-term trend continuation: fast mean above
// slow mean with price leading both. It suggests its own exit when the
// spread reverses.
type MomentumStrategy struct{}

func (s *MomentumStrategy) Name() string { return Momentum }

func (s *MomentumStrategy) MinHold() time.Duration { return 8 * time.Minute }

func (s *MomentumStrategy) Evaluate(ctx Context) core.Side {
	snap := ctx.Snap
	if snap.SMA20 <= 0 {
		return core.SideHold
	}
	gap := (snap.SMA5 - snap.SMA20) / snap.SMA20

	if ctx.Position != nil {
		if ctx.Position.Strategy == Momentum && gap <= momentumExitGap {
			return core.SideSell
		}
		return core.SideHold
	}

	if snap.SMA5 > snap.SMA20 &&
		ctx.Price.GreaterThan(decimal.NewFromFloat(snap.SMA5)) &&
		gap >= momentumEntryGap {
		return core.SideBuy
	}
	return core.SideHold
}
