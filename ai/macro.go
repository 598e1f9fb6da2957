package ai

import (
	"context"
	"fmt"

	"helmsman/core"
)

// MacroIndicators are external market scalars. Zero values mean "unknown".
type MacroIndicators struct {
	VIX           float64
	DollarIndex   float64
	TreasuryYield float64
	Gold          float64
}

// MacroSource supplies the current macro scalars. Pluggable; may be stubbed
// with static config values.
type MacroSource interface {
	Indicators(ctx context.Context) (MacroIndicators, error)
}

// StaticMacroSource serves fixed values from config.
type StaticMacroSource struct {
	Values MacroIndicators
}

func (s StaticMacroSource) Indicators(_ context.Context) (MacroIndicators, error) {
	return s.Values, nil
}

// MacroScorer derives a coarse market regime and risk appetite from macro
// scalars. High VIX and a strong dollar depress appetite for risk assets.
type MacroScorer struct {
	source MacroSource
}

func NewMacroScorer(source MacroSource) *MacroScorer {
	return &MacroScorer{source: source}
}

func (s *MacroScorer) Name() string { return ScorerMacro }

func (s *MacroScorer) Score(ctx context.Context, _ Input) (ScoreResult, error) {
	if s.source == nil {
		return neutral("no macro source configured"), nil
	}
	ind, err := s.source.Indicators(ctx)
	if err != nil {
		return neutral("macro source unavailable"), nil
	}

	appetite := riskAppetite(ind)
	regime := "neutral"
	switch {
	case appetite >= 0.6:
		regime = "bull"
	case appetite <= 0.4:
		regime = "bear"
	}

	result := ScoreResult{
		Reasoning: fmt.Sprintf("macro regime %s, risk appetite %.2f (VIX %.1f, DXY %.1f)",
			regime, appetite, ind.VIX, ind.DollarIndex),
	}
	switch regime {
	case "bull":
		result.Side = core.SideBuy
		result.Confidence = appetite
	case "bear":
		result.Side = core.SideSell
		result.Confidence = 1 - appetite
	default:
		result.Side = core.SideHold
		result.Confidence = 0.5
	}
	return result, nil
}

// riskAppetite maps the scalars into [0,1]; 0.5 is indifferent.
func riskAppetite(ind MacroIndicators) float64 {
	appetite := 0.5

	// VIX: calm markets under ~15 invite risk, panic above ~30 kills it.
	if ind.VIX > 0 {
		switch {
		case ind.VIX < 15:
			appetite += 0.2
		case ind.VIX > 30:
			appetite -= 0.3
		case ind.VIX > 20:
			appetite -= 0.1
		}
	}

	// Dollar strength competes with crypto.
	if ind.DollarIndex > 0 {
		switch {
		case ind.DollarIndex > 106:
			appetite -= 0.15
		case ind.DollarIndex < 100:
			appetite += 0.15
		}
	}

	// Rising yields drain speculative flows.
	if ind.TreasuryYield > 4.5 {
		appetite -= 0.1
	}

	if appetite < 0 {
		return 0
	}
	if appetite > 1 {
		return 1
	}
	return appetite
}
