package ai

import (
	"testing"

	"helmsman/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	out, err := extractJSONObject(`thinking out loud... {"action":"BUY"} trailing prose`)
	require.NoError(t, err)
	assert.Equal(t, `{"action":"BUY"}`, out)

	out, err = extractJSONObject(`{"a":{"b":1},"c":"}"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"b":1},"c":"}"}`, out, "braces inside strings do not close the block")

	out, err = extractJSONObject(`{"a":"escaped \" quote {"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"escaped \" quote {"}`, out)

	_, err = extractJSONObject("no json here")
	assert.Error(t, err)

	_, err = extractJSONObject(`{"never": "closed"`)
	assert.Error(t, err)
}

func TestParseVerdict_FullAnswer(t *testing.T) {
	raw := "Let me reason step by step. The trend is up.\n" +
		"```json\n" +
		`{"action":"BUY","confidence":72,"reasoning":"strong momentum",` +
		`"risks":["volatility"],"position_size_percent":15,` +
		`"stop_loss_percent":1.5,"take_profit_percent":4.2,"risk_reward_ratio":2.8}` +
		"\n```"

	result := parseVerdict(raw)
	assert.Equal(t, core.SideBuy, result.Side)
	assert.InDelta(t, 0.72, result.Confidence, 0.0001)
	require.NotNil(t, result.Params)
	assert.Equal(t, 15.0, result.Params.PositionSizePercent)
	assert.Equal(t, 1.5, result.Params.StopLossPercent)
	assert.Equal(t, 4.2, result.Params.TakeProfitPercent)
	assert.Equal(t, 2.8, result.Params.RiskRewardRatio)
	assert.Contains(t, result.Reasoning, "strong momentum")
	assert.Contains(t, result.Reasoning, "volatility")
}

func TestParseVerdict_FallbackOnGarbage(t *testing.T) {
	for _, raw := range []string{
		"the model rambled and returned nothing structured",
		`{"action":"PANIC","confidence":90}`,
		`{"action": BUY}`, // invalid JSON
		"",
	} {
		result := parseVerdict(raw)
		assert.Equal(t, core.SideHold, result.Side, "raw: %s", raw)
		assert.Zero(t, result.Confidence, "raw: %s", raw)
	}
}

func TestParseVerdict_ClampsParameters(t *testing.T) {
	result := parseVerdict(`{"action":"BUY","confidence":140,` +
		`"position_size_percent":50,"stop_loss_percent":0.1,"take_profit_percent":30}`)

	assert.Equal(t, 1.0, result.Confidence, "confidence clamps to [0,1]")
	require.NotNil(t, result.Params)
	assert.Equal(t, core.MaxPositionSizePercent, result.Params.PositionSizePercent)
	assert.Equal(t, core.MinStopLossPercent, result.Params.StopLossPercent)
	assert.Equal(t, core.MaxTakeProfitPercent, result.Params.TakeProfitPercent)
}

func TestParseVerdict_NoParamsWhenAbsent(t *testing.T) {
	result := parseVerdict(`{"action":"HOLD","confidence":40,"reasoning":"choppy"}`)
	assert.Equal(t, core.SideHold, result.Side)
	assert.Nil(t, result.Params)
}

func TestStripMarkdownCodeBlock(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripMarkdownCodeBlock("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripMarkdownCodeBlock("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripMarkdownCodeBlock(`{"a":1}`))
}
