package domain

import "time"

// RiskLevel is the four-tier ordinal classification of a risk score.
type RiskLevel string

const (
	RiskLow     RiskLevel = "LOW"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskHigh    RiskLevel = "HIGH"
	RiskExtreme RiskLevel = "EXTREME"
)

// RiskLevelFromScore maps a continuous [0,1] risk score onto the ordered
// tiers: <=0.3 LOW, <=0.6 MEDIUM, <=0.8 HIGH, above that EXTREME.
func RiskLevelFromScore(score float64) RiskLevel {
	switch {
	case score <= 0.3:
		return RiskLow
	case score <= 0.6:
		return RiskMedium
	case score <= 0.8:
		return RiskHigh
	default:
		return RiskExtreme
	}
}

// Named sub-scores in RiskAssessment.RiskMetrics.
const (
	RiskMetricMarket      = "market_risk"
	RiskMetricPosition    = "position_risk"
	RiskMetricVolatility  = "volatility_risk"
	RiskMetricLiquidity   = "liquidity_risk"
	RiskMetricCorrelation = "correlation_risk"
)

// RiskAssessment is the structured result of risk analysis for a single
// decision. It is built once per cycle and travels with its decision into
// experience memory.
type RiskAssessment struct {
	OverallRiskScore float64   `json:"overall_risk_score"`
	RiskLevel        RiskLevel `json:"risk_level"`
	RiskFactors      []string  `json:"risk_factors"`
	// PositionSizeRecommendation is a fraction of portfolio value, bounded
	// by the configured minimum and maximum position sizes.
	PositionSizeRecommendation float64 `json:"position_size_recommendation"`
	// StopLossRecommendation is in price space; zero means none.
	StopLossRecommendation float64 `json:"stop_loss_recommendation,omitempty"`
	MaxLossEstimate        float64 `json:"max_loss_estimate"`
	// ConfidenceAdjustment in [0.1,1.0] multiplies decision confidence.
	ConfidenceAdjustment float64            `json:"confidence_adjustment"`
	RiskMetrics          map[string]float64 `json:"risk_metrics"`
	Warnings             []string           `json:"warnings"`
	Timestamp            time.Time          `json:"timestamp"`
}
