package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTextRepresentation(t *testing.T) {
	exp := Experience{
		Situation: map[string]any{"symbol": "SOL", "price": 100.5},
		Decision: Decision{
			Symbol:     "SOL",
			Action:     ActionBuy,
			Confidence: 0.75,
			Reasoning:  "bullish breakout",
		},
		Context: map[string]any{
			"zeta":   "last",
			"alpha":  1.5,
			"nested": map[string]any{"skipped": true},
		},
	}

	text := exp.TextRepresentation()
	require.Equal(t, "Symbol: SOL | Price: 100.5 | Action: BUY | Confidence: 0.75 | Reasoning: bullish breakout | alpha: 1.5 | zeta: last", text)
}

func TestTextRepresentation_MissingSituationFields(t *testing.T) {
	exp := Experience{
		Decision: Decision{Action: ActionHold, Confidence: 0, Reasoning: "no data"},
	}

	text := exp.TextRepresentation()
	require.Contains(t, text, "Symbol: unknown")
	require.Contains(t, text, "Price: unknown")
}
