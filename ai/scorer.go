// Package ai implements the validation ensemble that gates every entry.
package ai

import (
	"context"
	"time"

	"helmsman/core"
	"helmsman/indicator"

	"github.com/shopspring/decimal"
)

// Scorer names. The ensemble weights and enable flags key off these.
const (
	ScorerSentiment = "sentiment"
	ScorerTechnical = "technical"
	ScorerMacro     = "macro"
	ScorerLLM       = "llm"
)

// Input is the full market bundle a scorer may consume.
type Input struct {
	Symbol   string
	Strategy string
	Price    decimal.Decimal

	Candles []core.Candle
	Snap    indicator.Snapshot

	Portfolio  core.PortfolioContext
	Volatility core.VolatilityMetrics

	Now time.Time
}

// ScoreResult is one scorer's answer.
type ScoreResult struct {
	Side       core.Side
	Confidence float64 // [0, 1]
	Reasoning  string

	// Params is set only by the language-model validator.
	Params *core.RiskParams
}

// Scorer is one voting member of the ensemble.
type Scorer interface {
	Name() string
	Score(ctx context.Context, in Input) (ScoreResult, error)
}

// neutral is the safe fallback vote for an unavailable scorer.
func neutral(reason string) ScoreResult {
	return ScoreResult{Side: core.SideHold, Confidence: 0.5, Reasoning: reason}
}
