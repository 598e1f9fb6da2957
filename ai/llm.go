package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"helmsman/core"
)

const validatorSystemPrompt = `You are a disciplined crypto spot-trading risk validator.
You receive a proposed entry with full market context and must judge it.
Think step by step first, then output a single JSON object with fields:
action ("BUY", "SELL" or "HOLD"), confidence (0-100), reasoning (string),
risks (array of strings), position_size_percent, stop_loss_percent,
take_profit_percent, risk_reward_ratio. Numbers must be plain values,
no ranges. stop_loss_percent in [0.5,5], take_profit_percent in [1,15],
position_size_percent in [1,20].`

// LLMScorer is the language-model validator: it sends the full context to a
// chat-completions endpoint and parses the structured verdict out of the
// prose. It is the only scorer allowed to set autonomous risk parameters.
type LLMScorer struct {
	client *Client
}

func NewLLMScorer(client *Client) *LLMScorer {
	return &LLMScorer{client: client}
}

func (s *LLMScorer) Name() string { return ScorerLLM }

func (s *LLMScorer) Score(ctx context.Context, in Input) (ScoreResult, error) {
	if !s.client.IsConfigured() {
		return ScoreResult{Side: core.SideHold, Confidence: 0,
			Reasoning: "validator not configured"}, nil
	}

	raw, err := s.client.Complete(ctx, validatorSystemPrompt, BuildValidatorPrompt(in))
	if err != nil {
		return ScoreResult{Side: core.SideHold, Confidence: 0,
			Reasoning: fmt.Sprintf("validator unavailable: %v", err)}, nil
	}
	return parseVerdict(raw), nil
}

// BuildValidatorPrompt renders the user prompt: proposed entry, indicator
// state, volatility, portfolio exposure, and recent trade outcomes for the
// symbol.
func BuildValidatorPrompt(in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Proposed entry: %s via %s strategy at %s\n\n",
		in.Symbol, in.Strategy, core.FormatUSD(in.Price))

	snap := in.Snap
	b.WriteString("Indicators:\n")
	fmt.Fprintf(&b, "- SMA5 %.8g, SMA10 %.8g, SMA20 %.8g\n", snap.SMA5, snap.SMA10, snap.SMA20)
	fmt.Fprintf(&b, "- Bollinger upper %.8g, middle %.8g, lower %.8g (width %.4f)\n",
		snap.BollingerUpper, snap.BollingerMiddle, snap.BollingerLower, snap.BollingerWidth)
	fmt.Fprintf(&b, "- RSI14 %.2f, ADX14 %.2f, volume ratio %.2f\n", snap.RSI, snap.ADX, snap.VolumeRatio)
	fmt.Fprintf(&b, "- MACD %.8g / signal %.8g", snap.MACDLine, snap.MACDSignal)
	if snap.FreshBullishCross(in.Now) {
		fmt.Fprintf(&b, " (bullish crossover %s ago)", in.Now.Sub(snap.MACDBullishCross).Round(time.Second))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "- SuperTrend %.8g (%s)\n\n", snap.SuperTrend, snap.SuperTrendDirection)

	vol := in.Volatility
	fmt.Fprintf(&b, "Volatility: ATR %.8g (%.2f%% of price), regime %s, avg bar range %.2f%%\n\n",
		vol.ATR, vol.ATRPercent, vol.Regime, vol.AvgDailyRangePercent)

	p := in.Portfolio
	fmt.Fprintf(&b, "Portfolio: %d/%d positions open", p.OpenPositions, p.MaxPositions)
	if len(p.Symbols) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(p.Symbols, ", "))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Quote balance %s, total exposure %s, equity %s, daily PnL %s\n",
		core.FormatUSD(p.QuoteBalance), core.FormatUSD(p.TotalExposure),
		core.FormatUSD(p.Equity), core.FormatUSD(p.DailyPnL))

	if len(p.RecentTrades) > 0 {
		b.WriteString("\nRecent trades for this symbol:\n")
		for _, t := range p.RecentTrades {
			if t.Action == core.SideSell {
				fmt.Fprintf(&b, "- %s %s at %s: %s (%s%%), reason %s\n",
					t.Time.Format("2006-01-02 15:04"), t.Action, core.FormatUSD(t.Price),
					core.FormatUSD(t.PnL), t.PnLPercent.StringFixed(2), t.Reason)
			} else {
				fmt.Fprintf(&b, "- %s %s at %s via %s\n",
					t.Time.Format("2006-01-02 15:04"), t.Action, core.FormatUSD(t.Price), t.Strategy)
			}
		}
	}

	if n := len(in.Candles); n > 0 {
		b.WriteString("\nLast candles (close/volume), newest last:\n")
		start := 0
		if n > 10 {
			start = n - 10
		}
		for _, c := range in.Candles[start:] {
			fmt.Fprintf(&b, "- %s close %.8g vol %.8g\n", c.Time.Format("15:04"), c.Close, c.Volume)
		}
	}

	b.WriteString("\nJudge this entry. Think it through, then output the JSON object.")
	return b.String()
}
