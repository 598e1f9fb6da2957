package core

import "fmt"

// Side is a trading direction decision.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideHold Side = "HOLD"
)

// Bounds for autonomous risk parameters. Values outside the range are clamped,
// never rejected, so a single wild number cannot invalidate a whole verdict.
const (
	MinStopLossPercent     = 0.5
	MaxStopLossPercent     = 5.0
	MinTakeProfitPercent   = 1.0
	MaxTakeProfitPercent   = 15.0
	MinPositionSizePercent = 1.0
	MaxPositionSizePercent = 20.0
)

// RiskParams are the per-trade risk parameters a validator may set
// autonomously. Zero fields mean "not set"; the engine substitutes the
// per-strategy defaults.
type RiskParams struct {
	PositionSizePercent float64 `json:"position_size_percent"`
	StopLossPercent     float64 `json:"stop_loss_percent"`
	TakeProfitPercent   float64 `json:"take_profit_percent"`
	RiskRewardRatio     float64 `json:"risk_reward_ratio"`
}

// Clamped returns a copy with every set field forced into its allowed range.
// Unset (zero) fields stay zero.
func (p RiskParams) Clamped() RiskParams {
	out := p
	if out.StopLossPercent != 0 {
		out.StopLossPercent = clamp(out.StopLossPercent, MinStopLossPercent, MaxStopLossPercent)
	}
	if out.TakeProfitPercent != 0 {
		out.TakeProfitPercent = clamp(out.TakeProfitPercent, MinTakeProfitPercent, MaxTakeProfitPercent)
	}
	if out.PositionSizePercent != 0 {
		out.PositionSizePercent = clamp(out.PositionSizePercent, MinPositionSizePercent, MaxPositionSizePercent)
	}
	if out.RiskRewardRatio < 0 {
		out.RiskRewardRatio = 0
	}
	return out
}

// Validate checks that every set field already sits inside its range.
func (p RiskParams) Validate() error {
	if p.StopLossPercent != 0 &&
		(p.StopLossPercent < MinStopLossPercent || p.StopLossPercent > MaxStopLossPercent) {
		return fmt.Errorf("stop loss %.2f%% outside [%.1f, %.1f]",
			p.StopLossPercent, MinStopLossPercent, MaxStopLossPercent)
	}
	if p.TakeProfitPercent != 0 &&
		(p.TakeProfitPercent < MinTakeProfitPercent || p.TakeProfitPercent > MaxTakeProfitPercent) {
		return fmt.Errorf("take profit %.2f%% outside [%.1f, %.1f]",
			p.TakeProfitPercent, MinTakeProfitPercent, MaxTakeProfitPercent)
	}
	if p.PositionSizePercent != 0 &&
		(p.PositionSizePercent < MinPositionSizePercent || p.PositionSizePercent > MaxPositionSizePercent) {
		return fmt.Errorf("position size %.2f%% outside [%.1f, %.1f]",
			p.PositionSizePercent, MinPositionSizePercent, MaxPositionSizePercent)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ScorerVote is one scorer's contribution to an ensemble verdict.
type ScorerVote struct {
	Scorer     string  `json:"scorer"`
	Side       Side    `json:"side"`
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight"`
	Reasoning  string  `json:"reasoning"`
}

// Verdict is the aggregated decision of the validation ensemble for a single
// entry candidate.
type Verdict struct {
	Side       Side         `json:"side"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning"`
	Params     *RiskParams  `json:"params,omitempty"`
	Votes      []ScorerVote `json:"votes,omitempty"`
}

// Approves reports whether the verdict clears the gate for entry. The
// confidence comparison is inclusive: a verdict exactly at the minimum passes.
func (v Verdict) Approves(minConfidence float64) bool {
	return v.Side == SideBuy && v.Confidence >= minConfidence
}
