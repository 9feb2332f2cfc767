package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_CaseInsensitive(t *testing.T) {
	changed, label := Classify("BUY", "buy")
	assert.False(t, changed)
	assert.Empty(t, label)

	changed, label = Classify(" Sell ", "sell")
	assert.False(t, changed)
	assert.Empty(t, label)
}

func TestClassify_Changed(t *testing.T) {
	changed, label := Classify("buy", "hold")
	assert.True(t, changed)
	assert.Equal(t, "buy_to_hold", label)

	changed, label = Classify("", "buy")
	assert.True(t, changed)
	assert.Equal(t, "_to_buy", label)
}

func TestClassifyOutcome(t *testing.T) {
	assert.Equal(t, OutcomeAvoidedLoss, ClassifyOutcome("buy", "hold", -120.5))
	assert.Equal(t, OutcomeMissedProfit, ClassifyOutcome("sell", "hold", 80.0))
	assert.Equal(t, OutcomeNeutral, ClassifyOutcome("buy", "hold", 0))
	assert.Equal(t, OutcomeNeutral, ClassifyOutcome("hold", "hold", -50))
	assert.Equal(t, OutcomeNeutral, ClassifyOutcome("buy", "sell", -50))
}
