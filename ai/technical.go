package ai

import (
	"context"
	"strings"

	"helmsman/core"
	"helmsman/indicator"
)

// TechnicalScorer votes from closed-form rules over RSI, MACD, ADX,
// SuperTrend and volume. No I/O; it can never be unavailable.
type TechnicalScorer struct{}

func NewTechnicalScorer() *TechnicalScorer { return &TechnicalScorer{} }

func (s *TechnicalScorer) Name() string { return ScorerTechnical }

func (s *TechnicalScorer) Score(_ context.Context, in Input) (ScoreResult, error) {
	snap := in.Snap
	var bull, bear float64
	var notes []string

	switch {
	case snap.RSI < 30:
		bull += 2
		notes = append(notes, "RSI oversold")
	case snap.RSI < 45:
		bull++
		notes = append(notes, "RSI below midline")
	case snap.RSI > 70:
		bear += 2
		notes = append(notes, "RSI overbought")
	case snap.RSI > 55:
		bear++
		notes = append(notes, "RSI above midline")
	}

	if snap.MACDLine > snap.MACDSignal {
		bull++
		notes = append(notes, "MACD above signal")
		if snap.FreshBullishCross(in.Now) {
			bull++
			notes = append(notes, "fresh bullish crossover")
		}
	} else {
		bear++
		notes = append(notes, "MACD below signal")
	}

	if snap.SuperTrendDirection == indicator.Bullish {
		bull++
		notes = append(notes, "SuperTrend bullish")
	} else {
		bear++
		notes = append(notes, "SuperTrend bearish")
	}

	// Trend strength amplifies whichever side volume confirms.
	if snap.ADX > 25 && snap.VolumeRatio >= 1.2 {
		if bull > bear {
			bull++
		} else if bear > bull {
			bear++
		}
		notes = append(notes, "trending with volume")
	}

	total := bull + bear
	if total == 0 {
		return neutral("no technical signal"), nil
	}

	result := ScoreResult{Reasoning: strings.Join(notes, ", ")}
	switch {
	case bull > bear:
		result.Side = core.SideBuy
		result.Confidence = bull / total
	case bear > bull:
		result.Side = core.SideSell
		result.Confidence = bear / total
	default:
		result.Side = core.SideHold
		result.Confidence = 0.5
	}
	return result, nil
}
