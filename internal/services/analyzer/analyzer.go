// Package analyzer turns a price/volume time series into a structured
// technical snapshot: trend, support/resistance, volatility, momentum,
// volume, indicators, patterns and sentiment.
package analyzer

import (
	"math"
	"sort"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tradecortex/cortex/config"
	"github.com/tradecortex/cortex/internal/domain"
)

const (
	trendBandPct      = 0.02
	momentumThreshold = 0.02
	// volatilityCeiling is the raw volatility mapped to score 1.0.
	volatilityCeiling = 0.05
)

// Analyzer computes market analyses. It is stateless and safe for
// concurrent use.
type Analyzer struct {
	logger           *zap.Logger
	lookbackPeriods  int
	volatilityWindow int
	momentumWindow   int
}

// New creates an Analyzer with the configured windows.
func New(logger *zap.Logger, cfg config.AnalyzerConfig) *Analyzer {
	return &Analyzer{
		logger:           logger,
		lookbackPeriods:  cfg.LookbackPeriods,
		volatilityWindow: cfg.VolatilityWindow,
		momentumWindow:   cfg.MomentumWindow,
	}
}

// Analyze produces a market analysis for the event. It never fails the
// pipeline: on unusable input it returns a neutral snapshot together with
// an error naming the degradation, which callers log and move past.
func (a *Analyzer) Analyze(event domain.MarketEvent) (domain.MarketAnalysis, error) {
	if event.Symbol == "" || event.Price <= 0 {
		return domain.NeutralAnalysis(event.Symbol), errors.Errorf(
			"unusable market event (symbol=%q price=%f), returning neutral analysis", event.Symbol, event.Price)
	}

	prices, volumes := a.series(event)

	trendDir, trendStrength := analyzeTrend(prices)
	support, resistance := findSupportResistance(prices)
	volScore, rawVol, volLevel := a.analyzeVolatility(prices)
	momScore, momDir := a.analyzeMomentum(prices)
	volume := analyzeVolume(volumes, event.Volume)
	indicators := technicalIndicators(prices)
	patterns := detectPatterns(prices)
	sentiment := analyzeSentiment(event)
	confidence := analysisConfidence(trendStrength, volScore, len(prices))

	analysis := domain.MarketAnalysis{
		Symbol:              event.Symbol,
		TrendDirection:      trendDir,
		TrendStrength:       trendStrength,
		SupportLevels:       support,
		ResistanceLevels:    resistance,
		VolatilityScore:     volScore,
		RawVolatility:       rawVol,
		VolatilityLevel:     volLevel,
		MomentumScore:       momScore,
		MomentumDirection:   momDir,
		Volume:              volume,
		TechnicalIndicators: indicators,
		PatternSignals:      patterns,
		MarketSentiment:     sentiment,
		ConfidenceScore:     confidence,
		Timestamp:           time.Now().UTC(),
	}

	a.logger.Info("market analysis",
		zap.String("symbol", event.Symbol),
		zap.String("trend", string(trendDir)),
		zap.Float64("strength", trendStrength),
		zap.Float64("confidence", confidence))

	return analysis, nil
}

// series extracts up to lookbackPeriods most recent price/volume pairs,
// falling back to the single current observation without history.
func (a *Analyzer) series(event domain.MarketEvent) ([]float64, []float64) {
	history := event.History
	if len(history) == 0 {
		return []float64{event.Price}, []float64{event.Volume}
	}
	if len(history) > a.lookbackPeriods {
		history = history[len(history)-a.lookbackPeriods:]
	}

	prices := make([]float64, 0, len(history))
	volumes := make([]float64, 0, len(history))
	for _, point := range history {
		if point.Price > 0 {
			prices = append(prices, point.Price)
			volumes = append(volumes, point.Volume)
		}
	}
	if len(prices) == 0 {
		return []float64{event.Price}, []float64{event.Volume}
	}
	return prices, volumes
}

func analyzeTrend(prices []float64) (domain.TrendDirection, float64) {
	if len(prices) < 3 {
		return domain.TrendSideways, 0
	}

	// fewer than 5 points, the last price stands in for the short MA
	shortMA := prices[len(prices)-1]
	if len(prices) >= 5 {
		shortMA = mean(tail(prices, 5))
	}
	longMA := mean(prices)
	if len(prices) >= 10 {
		longMA = mean(tail(prices, 10))
	}

	direction := domain.TrendSideways
	switch {
	case shortMA > longMA*(1+trendBandPct):
		direction = domain.TrendBullish
	case shortMA < longMA*(1-trendBandPct):
		direction = domain.TrendBearish
	}

	strength := 0.0
	if len(prices) >= 5 {
		changes := returns(prices)
		consecutive := 0
		if len(changes) > 0 {
			positive := changes[len(changes)-1] > 0
			for i := len(changes) - 1; i >= 0; i-- {
				if (changes[i] > 0 && positive) || (changes[i] < 0 && !positive) {
					consecutive++
				} else {
					break
				}
			}
		}
		strength = math.Min(float64(consecutive)/5.0, 1.0)
	}

	return direction, strength
}

// findSupportResistance scans for local extrema using a symmetric
// two-point window, keeping up to three levels on each side of the
// current price, nearest first.
func findSupportResistance(prices []float64) (support, resistance []float64) {
	support = []float64{}
	resistance = []float64{}
	if len(prices) < 5 {
		return support, resistance
	}

	current := prices[len(prices)-1]

	for i := 2; i < len(prices)-2; i++ {
		p := prices[i]
		if p < prices[i-1] && p < prices[i-2] && p < prices[i+1] && p < prices[i+2] && p < current {
			support = append(support, p)
		}
		if p > prices[i-1] && p > prices[i-2] && p > prices[i+1] && p > prices[i+2] && p > current {
			resistance = append(resistance, p)
		}
	}

	// nearest to current price first
	sortDescending(support)
	sortAscending(resistance)
	if len(support) > 3 {
		support = support[:3]
	}
	if len(resistance) > 3 {
		resistance = resistance[:3]
	}
	return support, resistance
}

func (a *Analyzer) analyzeVolatility(prices []float64) (score, raw float64, level domain.VolatilityLevel) {
	if len(prices) < 2 {
		return 0.5, 0, domain.VolatilityUnknown
	}

	rets := returns(tail(prices, a.volatilityWindow+1))
	if len(rets) == 0 {
		return 0.5, 0, domain.VolatilityUnknown
	}

	raw = stddev(rets)
	score = math.Min(raw/volatilityCeiling, 1.0)

	switch {
	case score < 0.3:
		level = domain.VolatilityLow
	case score < 0.7:
		level = domain.VolatilityMedium
	default:
		level = domain.VolatilityHigh
	}
	return score, raw, level
}

func (a *Analyzer) analyzeMomentum(prices []float64) (float64, domain.MomentumDirection) {
	if len(prices) < a.momentumWindow {
		return 0, domain.MomentumNeutral
	}

	current := prices[len(prices)-1]
	past := prices[len(prices)-a.momentumWindow]
	if past == 0 {
		return 0, domain.MomentumNeutral
	}

	rate := (current - past) / past
	score := clamp01((rate + 1) / 2)

	direction := domain.MomentumNeutral
	switch {
	case rate > momentumThreshold:
		direction = domain.MomentumPositive
	case rate < -momentumThreshold:
		direction = domain.MomentumNegative
	}
	return score, direction
}

func analyzeVolume(volumes []float64, currentVolume float64) domain.VolumeSnapshot {
	if len(volumes) == 0 {
		return domain.VolumeSnapshot{Status: domain.VolumeNoData}
	}

	avg := mean(volumes)
	ratio := 1.0
	if avg > 0 {
		ratio = currentVolume / avg
	}

	status := domain.VolumeNormal
	switch {
	case ratio > 1.5:
		status = domain.VolumeHigh
	case ratio < 0.5:
		status = domain.VolumeLow
	}

	return domain.VolumeSnapshot{
		Status:  status,
		Current: currentVolume,
		Average: avg,
		Ratio:   ratio,
	}
}

// technicalIndicators fills the indicator map for whatever windows the
// series supports.
func technicalIndicators(prices []float64) map[string]float64 {
	indicators := map[string]float64{}

	for _, period := range []int{5, 10, 20} {
		if len(prices) >= period {
			indicators[smaKey(period)] = lastSMA(prices, period)
		}
	}

	if len(prices) >= 15 {
		if rsi, ok := lastRSI(prices, 14); ok {
			indicators["rsi"] = rsi
		}
	}

	return indicators
}

func smaKey(period int) string {
	switch period {
	case 5:
		return "sma_5"
	case 10:
		return "sma_10"
	default:
		return "sma_20"
	}
}

func lastSMA(prices []float64, period int) float64 {
	sma := trend.NewSmaWithPeriod[float64](period)
	out := helper.ChanToSlice(sma.Compute(helper.SliceToChan(prices)))
	if len(out) == 0 {
		return 0
	}
	return out[len(out)-1]
}

func lastRSI(prices []float64, period int) (float64, bool) {
	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(prices)))
	if len(out) == 0 {
		return 0, false
	}
	return out[len(out)-1], true
}

func detectPatterns(prices []float64) []string {
	patterns := []string{}
	if len(prices) < 5 {
		return patterns
	}

	recent := tail(prices, 5)

	switch {
	case isMonotonic(recent, true):
		patterns = append(patterns, domain.PatternAscendingTrend)
	case isMonotonic(recent, false):
		patterns = append(patterns, domain.PatternDescendingTrend)
	case priceRange(recent) < mean(recent)*0.02:
		patterns = append(patterns, domain.PatternConsolidation)
	}

	if len(prices) >= 10 {
		recentRange := priceRange(prices[len(prices)-5:])
		priorRange := priceRange(prices[len(prices)-10 : len(prices)-5])
		if recentRange > priorRange*1.5 {
			patterns = append(patterns, domain.PatternBreakout)
		}
	}

	return patterns
}

// analyzeSentiment folds 24h change, relative volume and any external
// sentiment inputs into one bucket.
func analyzeSentiment(event domain.MarketEvent) domain.Sentiment {
	score := 0.0

	if change, ok := event.ContextFloat("price_change_24h"); ok {
		if change > 0.05 {
			score += 0.3
		} else if change < -0.05 {
			score -= 0.3
		}
	}

	if ratio, ok := event.ContextFloat("volume_ratio"); ok {
		if ratio > 1.5 {
			score += 0.2
		} else if ratio < 0.5 {
			score -= 0.1
		}
	}

	if news, ok := event.ContextFloat("news_sentiment"); ok {
		score += news * 0.3
	}
	if fearGreed, ok := event.ContextFloat("market_fear_greed"); ok {
		if fearGreed > 70 {
			score += 0.2
		} else if fearGreed < 30 {
			score -= 0.2
		}
	}

	switch {
	case score > 0.2:
		return domain.SentimentPositive
	case score < -0.2:
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}

// analysisConfidence starts at 0.5 and rewards data volume, trend
// strength and calm markets, capped at 1.0.
func analysisConfidence(trendStrength, volatilityScore float64, dataPoints int) float64 {
	confidence := 0.5

	switch {
	case dataPoints >= 20:
		confidence += 0.3
	case dataPoints >= 10:
		confidence += 0.2
	case dataPoints >= 5:
		confidence += 0.1
	}

	confidence += trendStrength * 0.2
	confidence += (1 - volatilityScore) * 0.1

	return math.Min(confidence, 1.0)
}

func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func returns(prices []float64) []float64 {
	out := make([]float64, 0, len(prices))
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			out = append(out, (prices[i]-prices[i-1])/prices[i-1])
		}
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the sample standard deviation.
func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func priceRange(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}

func isMonotonic(values []float64, ascending bool) bool {
	for i := 1; i < len(values); i++ {
		if ascending && values[i] < values[i-1] {
			return false
		}
		if !ascending && values[i] > values[i-1] {
			return false
		}
	}
	return true
}

func sortAscending(values []float64) {
	sort.Float64s(values)
}

func sortDescending(values []float64) {
	sort.Sort(sort.Reverse(sort.Float64Slice(values)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
