package domain

import "time"

// TrendDirection classifies the prevailing price trend.
type TrendDirection string

const (
	TrendBullish  TrendDirection = "BULLISH"
	TrendBearish  TrendDirection = "BEARISH"
	TrendSideways TrendDirection = "SIDEWAYS"
)

// MomentumDirection classifies the rate-of-change sign.
type MomentumDirection string

const (
	MomentumPositive MomentumDirection = "POSITIVE"
	MomentumNegative MomentumDirection = "NEGATIVE"
	MomentumNeutral  MomentumDirection = "NEUTRAL"
)

// Sentiment is the aggregate market mood bucket.
type Sentiment string

const (
	SentimentPositive Sentiment = "POSITIVE"
	SentimentNegative Sentiment = "NEGATIVE"
	SentimentNeutral  Sentiment = "NEUTRAL"
)

// VolumeStatus buckets current volume against its historical average.
type VolumeStatus string

const (
	VolumeHigh   VolumeStatus = "HIGH"
	VolumeLow    VolumeStatus = "LOW"
	VolumeNormal VolumeStatus = "NORMAL"
	VolumeNoData VolumeStatus = "NO_DATA"
)

// VolatilityLevel buckets the normalized volatility score.
type VolatilityLevel string

const (
	VolatilityLow     VolatilityLevel = "LOW"
	VolatilityMedium  VolatilityLevel = "MEDIUM"
	VolatilityHigh    VolatilityLevel = "HIGH"
	VolatilityUnknown VolatilityLevel = "UNKNOWN"
)

// Pattern tags emitted by the analyzer's pattern scan.
const (
	PatternAscendingTrend  = "ASCENDING_TREND"
	PatternDescendingTrend = "DESCENDING_TREND"
	PatternConsolidation   = "CONSOLIDATION"
	PatternBreakout        = "BREAKOUT"
)

// VolumeSnapshot summarizes current volume relative to history.
type VolumeSnapshot struct {
	Status  VolumeStatus `json:"status"`
	Current float64      `json:"current_volume"`
	Average float64      `json:"average_volume"`
	Ratio   float64      `json:"volume_ratio"`
}

// MarketAnalysis is the immutable technical snapshot produced once per
// cycle. All score fields stay within [0,1].
type MarketAnalysis struct {
	Symbol              string             `json:"symbol"`
	TrendDirection      TrendDirection     `json:"trend_direction"`
	TrendStrength       float64            `json:"trend_strength"`
	SupportLevels       []float64          `json:"support_levels"`
	ResistanceLevels    []float64          `json:"resistance_levels"`
	VolatilityScore     float64            `json:"volatility_score"`
	RawVolatility       float64            `json:"raw_volatility"`
	VolatilityLevel     VolatilityLevel    `json:"volatility_level"`
	MomentumScore       float64            `json:"momentum_score"`
	MomentumDirection   MomentumDirection  `json:"momentum_direction"`
	Volume              VolumeSnapshot     `json:"volume_analysis"`
	TechnicalIndicators map[string]float64 `json:"technical_indicators"`
	PatternSignals      []string           `json:"pattern_signals"`
	MarketSentiment     Sentiment          `json:"market_sentiment"`
	ConfidenceScore     float64            `json:"confidence_score"`
	Timestamp           time.Time          `json:"analysis_timestamp"`
}

// NeutralAnalysis is the degraded fallback returned when analysis cannot
// run; it keeps the pipeline moving with a harmless snapshot.
func NeutralAnalysis(symbol string) MarketAnalysis {
	return MarketAnalysis{
		Symbol:              symbol,
		TrendDirection:      TrendSideways,
		TrendStrength:       0,
		SupportLevels:       []float64{},
		ResistanceLevels:    []float64{},
		VolatilityScore:     0.5,
		VolatilityLevel:     VolatilityUnknown,
		MomentumScore:       0,
		MomentumDirection:   MomentumNeutral,
		Volume:              VolumeSnapshot{Status: VolumeNoData},
		TechnicalIndicators: map[string]float64{},
		PatternSignals:      []string{},
		MarketSentiment:     SentimentNeutral,
		ConfidenceScore:     0,
		Timestamp:           time.Now().UTC(),
	}
}
