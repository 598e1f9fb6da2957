package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"helmsman/core"
)

// llmVerdict is the JSON body the validator prompt asks the model for.
// Confidence is on the model's 0-100 scale.
type llmVerdict struct {
	Action              string   `json:"action"`
	Confidence          float64  `json:"confidence"`
	Reasoning           string   `json:"reasoning"`
	Risks               []string `json:"risks"`
	PositionSizePercent float64  `json:"position_size_percent"`
	StopLossPercent     float64  `json:"stop_loss_percent"`
	TakeProfitPercent   float64  `json:"take_profit_percent"`
	RiskRewardRatio     float64  `json:"risk_reward_ratio"`
}

// stripMarkdownCodeBlock removes ```json fences the model sometimes wraps
// its answer in.
func stripMarkdownCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// extractJSONObject finds the first balanced {...} block in prose. Models
// are asked for chain-of-thought followed by a JSON body, so the answer is
// usually buried in text.
func extractJSONObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object in response")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}

// parseVerdict turns raw model output into a score result. Any schema
// failure degrades to the HOLD,0 fallback rather than an error: a broken
// model answer must never block the tick, only this entry.
func parseVerdict(raw string) ScoreResult {
	text, err := extractJSONObject(stripMarkdownCodeBlock(raw))
	if err != nil {
		return ScoreResult{Side: core.SideHold, Confidence: 0,
			Reasoning: fmt.Sprintf("validator parse failure: %v", err)}
	}

	var v llmVerdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return ScoreResult{Side: core.SideHold, Confidence: 0,
			Reasoning: fmt.Sprintf("validator schema failure: %v", err)}
	}

	side := core.SideHold
	switch strings.ToUpper(strings.TrimSpace(v.Action)) {
	case "BUY":
		side = core.SideBuy
	case "SELL":
		side = core.SideSell
	case "HOLD", "WAIT":
		side = core.SideHold
	default:
		return ScoreResult{Side: core.SideHold, Confidence: 0,
			Reasoning: fmt.Sprintf("validator returned unknown action %q", v.Action)}
	}

	confidence := v.Confidence / 100
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	reasoning := v.Reasoning
	if len(v.Risks) > 0 {
		reasoning += " | risks: " + strings.Join(v.Risks, "; ")
	}

	params := core.RiskParams{
		PositionSizePercent: v.PositionSizePercent,
		StopLossPercent:     v.StopLossPercent,
		TakeProfitPercent:   v.TakeProfitPercent,
		RiskRewardRatio:     v.RiskRewardRatio,
	}.Clamped()

	result := ScoreResult{Side: side, Confidence: confidence, Reasoning: reasoning}
	if params != (core.RiskParams{}) {
		result.Params = &params
	}
	return result
}
