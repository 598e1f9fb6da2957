package ai

import (
	"context"
	"fmt"

	"helmsman/core"
)

const (
	bullSystemPrompt = `You argue the strongest honest case FOR taking this
trade. Be concrete: which signals support it and what the upside is. Answer
in a short paragraph.`

	bearSystemPrompt = `You argue the strongest honest case AGAINST taking
this trade. Be concrete: which signals are weak and what can go wrong.
Answer in a short paragraph.`

	judgeSystemPrompt = `You are the judge of a trading debate. You receive
market context plus a bull case and a bear case. Weigh both, think step by
step, then output a single JSON object with fields: action ("BUY", "SELL"
or "HOLD"), confidence (0-100), reasoning, risks (array of strings),
position_size_percent, stop_loss_percent, take_profit_percent,
risk_reward_ratio. stop_loss_percent in [0.5,5], take_profit_percent in
[1,15], position_size_percent in [1,20].`
)

// DebateScorer is the alternate language-model validator: two adversarial
// passes argue the trade, a judge pass rules. Same Scorer contract, same
// verdict schema, selected by config instead of the single-pass validator.
type DebateScorer struct {
	client *Client
}

func NewDebateScorer(client *Client) *DebateScorer {
	return &DebateScorer{client: client}
}

func (s *DebateScorer) Name() string { return ScorerLLM }

func (s *DebateScorer) Score(ctx context.Context, in Input) (ScoreResult, error) {
	if !s.client.IsConfigured() {
		return ScoreResult{Side: core.SideHold, Confidence: 0,
			Reasoning: "validator not configured"}, nil
	}

	prompt := BuildValidatorPrompt(in)

	bullCase, err := s.client.Complete(ctx, bullSystemPrompt, prompt)
	if err != nil {
		return ScoreResult{Side: core.SideHold, Confidence: 0,
			Reasoning: fmt.Sprintf("debate bull pass unavailable: %v", err)}, nil
	}

	bearCase, err := s.client.Complete(ctx, bearSystemPrompt, prompt)
	if err != nil {
		return ScoreResult{Side: core.SideHold, Confidence: 0,
			Reasoning: fmt.Sprintf("debate bear pass unavailable: %v", err)}, nil
	}

	judgePrompt := fmt.Sprintf("%s\n\nBULL CASE:\n%s\n\nBEAR CASE:\n%s\n\nRule on this trade.",
		prompt, bullCase, bearCase)

	raw, err := s.client.Complete(ctx, judgeSystemPrompt, judgePrompt)
	if err != nil {
		return ScoreResult{Side: core.SideHold, Confidence: 0,
			Reasoning: fmt.Sprintf("debate judge pass unavailable: %v", err)}, nil
	}
	return parseVerdict(raw), nil
}
