package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRiskLevelFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{0.0, RiskLow},
		{0.3, RiskLow},
		{0.31, RiskMedium},
		{0.6, RiskMedium},
		{0.61, RiskHigh},
		{0.8, RiskHigh},
		{0.81, RiskExtreme},
		{1.0, RiskExtreme},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, RiskLevelFromScore(tt.score), "score %v", tt.score)
	}
}
