package ai

import (
	"context"
	"strings"

	"helmsman/core"
)

// HeadlineSource supplies recent headline/social text for a symbol.
// Pluggable; may be stubbed.
type HeadlineSource interface {
	Headlines(ctx context.Context, symbol string) ([]string, error)
}

// SentimentScorer scores headline text with a simple signed lexicon. When
// no source is wired or the source fails, it degrades to a neutral vote
// rather than blocking the ensemble.
type SentimentScorer struct {
	source HeadlineSource
}

func NewSentimentScorer(source HeadlineSource) *SentimentScorer {
	return &SentimentScorer{source: source}
}

func (s *SentimentScorer) Name() string { return ScorerSentiment }

var (
	bullishWords = []string{
		"surge", "rally", "breakout", "bullish", "adoption", "partnership",
		"upgrade", "approval", "record", "soar", "gain", "inflow",
	}
	bearishWords = []string{
		"crash", "dump", "bearish", "hack", "exploit", "ban", "lawsuit",
		"sec", "selloff", "liquidation", "outflow", "fear", "delisting",
	}
)

func (s *SentimentScorer) Score(ctx context.Context, in Input) (ScoreResult, error) {
	if s.source == nil {
		return neutral("no sentiment source configured"), nil
	}

	headlines, err := s.source.Headlines(ctx, in.Symbol)
	if err != nil || len(headlines) == 0 {
		return neutral("sentiment source unavailable"), nil
	}

	var bull, bear int
	for _, h := range headlines {
		lower := strings.ToLower(h)
		for _, w := range bullishWords {
			if strings.Contains(lower, w) {
				bull++
			}
		}
		for _, w := range bearishWords {
			if strings.Contains(lower, w) {
				bear++
			}
		}
	}

	total := bull + bear
	if total == 0 {
		return neutral("no sentiment signal in headlines"), nil
	}

	result := ScoreResult{}
	switch {
	case bull > bear:
		result.Side = core.SideBuy
		result.Confidence = float64(bull) / float64(total)
		result.Reasoning = "headline flow skews bullish"
	case bear > bull:
		result.Side = core.SideSell
		result.Confidence = float64(bear) / float64(total)
		result.Reasoning = "headline flow skews bearish"
	default:
		return neutral("headline flow balanced"), nil
	}
	return result, nil
}
