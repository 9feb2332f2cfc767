package decision

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const decisionBody = `{"operation":"buy","symbol":"BTC/USDT","target_portion_of_balance":0.25}`

func TestParse_FenceVariants(t *testing.T) {
	variants := []string{
		"```json\n" + decisionBody + "\n```",
		"```\n" + decisionBody + "\n```",
		decisionBody,
		"Here is my decision:\n```json\n" + decisionBody + "\n```\nGood luck.",
	}
	for _, raw := range variants {
		dec, err := Parse(raw)
		require.NoError(t, err, "input: %s", raw)
		assert.Equal(t, "buy", dec.Operation)
		assert.Equal(t, "BTC/USDT", dec.Symbol)
		assert.InDelta(t, 0.25, dec.TargetPortion, 1e-9)
	}
}

func TestParse_CurlyQuotesAndDashes(t *testing.T) {
	raw := "{“operation”: “sell”, “symbol”: “ETH—USDT”, “target_portion_of_balance”: 0.5}"
	dec, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "sell", dec.Operation)
	assert.Equal(t, "ETH-USDT", dec.Symbol)
}

func TestParse_ShapeResolution(t *testing.T) {
	wrapped := `{"decisions":[{"operation":"hold","symbol":"BTC/USDT"},{"operation":"buy"}]}`
	dec, err := Parse(wrapped)
	require.NoError(t, err)
	assert.Equal(t, "hold", dec.Operation)

	bareArray := `[{"operation":"sell","symbol":"SOL/USDT"}]`
	dec, err = Parse(bareArray)
	require.NoError(t, err)
	assert.Equal(t, "sell", dec.Operation)

	object := `{"operation":"buy","symbol":"BTC/USDT"}`
	dec, err = Parse(object)
	require.NoError(t, err)
	assert.Equal(t, "buy", dec.Operation)
}

func TestParse_UnrecognizedShapes(t *testing.T) {
	cases := []string{
		"",
		"no json at all",
		`{"foo":"bar"}`,
		`{"decisions":[]}`,
		`[1,2,3]`,
		`"just a string"`,
	}
	for _, raw := range cases {
		_, err := Parse(raw)
		assert.Error(t, err, "input: %s", raw)
	}
}

func TestParse_FallbackReasoningTruncated(t *testing.T) {
	padding := strings.Repeat("x", 3000)
	raw := "```json\n" + decisionBody + "\n```\n" + padding
	dec, err := Parse(raw)
	require.NoError(t, err)
	assert.Len(t, dec.FallbackReasoning, 2000)
	assert.True(t, strings.HasPrefix(raw, dec.FallbackReasoning))
}

func TestParse_RawJSONPreserved(t *testing.T) {
	dec, err := Parse("```json\n" + decisionBody + "\n```")
	require.NoError(t, err)
	assert.JSONEq(t, decisionBody, dec.RawJSON)
}
