// Package risk scores proposed trades across market, position,
// volatility, liquidity and correlation dimensions and converts the
// combined score into sizing and stop-loss constraints.
package risk

import (
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tradecortex/cortex/config"
	"github.com/tradecortex/cortex/internal/domain"
)

// Analyzer assesses the risk of acting on a proposed decision. It is
// stateless and safe for concurrent use.
type Analyzer struct {
	logger *zap.Logger
	cfg    config.RiskConfig
}

func New(logger *zap.Logger, cfg config.RiskConfig) *Analyzer {
	return &Analyzer{logger: logger, cfg: cfg}
}

// Assess produces a risk assessment for the proposed decision in the
// context of the triggering event and current portfolio. It never fails
// the pipeline: any internal problem yields ConservativeAssessment plus
// an error naming the degradation.
func (a *Analyzer) Assess(event domain.MarketEvent, proposed domain.ProposedDecision) (domain.RiskAssessment, error) {
	if event.Price <= 0 {
		return a.ConservativeAssessment(), errors.Errorf("cannot assess risk without a price, got %v", event.Price)
	}

	metrics := map[string]float64{
		domain.RiskMetricMarket:      a.marketRisk(event),
		domain.RiskMetricPosition:    a.positionRisk(event, proposed),
		domain.RiskMetricVolatility:  a.volatilityRisk(event),
		domain.RiskMetricLiquidity:   a.liquidityRisk(event),
		domain.RiskMetricCorrelation: a.correlationRisk(event),
	}

	overall := a.cfg.MarketWeight*metrics[domain.RiskMetricMarket] +
		a.cfg.PositionWeight*metrics[domain.RiskMetricPosition] +
		a.cfg.VolatilityWeight*metrics[domain.RiskMetricVolatility] +
		a.cfg.LiquidityWeight*metrics[domain.RiskMetricLiquidity] +
		a.cfg.CorrelationWeight*metrics[domain.RiskMetricCorrelation]
	overall = clamp01(overall)

	level := domain.RiskLevelFromScore(overall)
	positionSize := a.positionSize(overall)
	stopLoss := a.stopLoss(event, overall)
	maxLoss := a.maxLoss(event.Price, positionSize, stopLoss)
	positionSize, maxLoss = a.capToPortfolioBudget(positionSize, maxLoss)

	assessment := domain.RiskAssessment{
		OverallRiskScore:           overall,
		RiskLevel:                  level,
		RiskFactors:                riskFactors(metrics),
		PositionSizeRecommendation: positionSize,
		StopLossRecommendation:     stopLoss,
		MaxLossEstimate:            maxLoss,
		ConfidenceAdjustment:       math.Max(0.1, 1-overall),
		RiskMetrics:                metrics,
		Warnings:                   a.warnings(event, metrics),
		Timestamp:                  time.Now().UTC(),
	}

	a.logger.Info("risk assessment",
		zap.String("symbol", proposed.Symbol),
		zap.Float64("score", overall),
		zap.String("level", string(level)))

	return assessment, nil
}

// ConservativeAssessment is the fallback when assessment cannot proceed:
// high risk, minimal size, tight stop.
func (a *Analyzer) ConservativeAssessment() domain.RiskAssessment {
	return domain.RiskAssessment{
		OverallRiskScore:           0.8,
		RiskLevel:                  domain.RiskHigh,
		RiskFactors:                []string{"Assessment failed, using conservative defaults"},
		PositionSizeRecommendation: 0.01,
		StopLossRecommendation:     0,
		MaxLossEstimate:            0.02,
		ConfidenceAdjustment:       0.5,
		RiskMetrics:                map[string]float64{},
		Warnings:                   []string{"Risk assessment degraded"},
		Timestamp:                  time.Now().UTC(),
	}
}

func (a *Analyzer) marketRisk(event domain.MarketEvent) float64 {
	risk := 0.0

	if trend, ok := event.ContextString("market_trend"); ok {
		switch trend {
		case "bearish":
			risk += 0.3
		case "volatile":
			risk += 0.2
		}
	}

	if ratio, ok := event.ContextFloat("volume_ratio"); ok {
		if ratio < 0.5 {
			risk += 0.2
		} else if ratio > 2.0 {
			risk += 0.1
		}
	}

	if news, ok := event.ContextString("news_sentiment"); ok && news == "negative" {
		risk += 0.2
	}

	return clamp01(risk)
}

func (a *Analyzer) positionRisk(event domain.MarketEvent, proposed domain.ProposedDecision) float64 {
	risk := 0.0

	if proposed.Quantity > 0 && event.Portfolio != nil && event.Portfolio.TotalValue > 0 {
		// money math in decimals to keep the ratio exact
		positionValue := decimal.NewFromFloat(proposed.Quantity).Mul(decimal.NewFromFloat(event.Price))
		ratio, _ := positionValue.Div(decimal.NewFromFloat(event.Portfolio.TotalValue)).Float64()

		if ratio > a.cfg.MaxPositionSize {
			risk += 0.4
		} else if ratio > a.cfg.MaxPositionSize*0.5 {
			risk += 0.2
		}
	}

	if leverage, ok := event.ContextFloat("leverage"); ok {
		if leverage > 2.0 {
			risk += 0.3
		} else if leverage > 1.5 {
			risk += 0.1
		}
	}

	return clamp01(risk)
}

func (a *Analyzer) volatilityRisk(event domain.MarketEvent) float64 {
	risk := 0.0

	if vol, ok := event.ContextFloat("volatility"); ok {
		if vol > a.cfg.VolatilityThreshold*2 {
			risk += 0.4
		} else if vol > a.cfg.VolatilityThreshold {
			risk += 0.2
		}
	}

	if histVol := historicalVolatility(event.History); histVol > 0 {
		if histVol > 0.1 {
			risk += 0.3
		} else if histVol > 0.05 {
			risk += 0.1
		}
	}

	return clamp01(risk)
}

func (a *Analyzer) liquidityRisk(event domain.MarketEvent) float64 {
	risk := 0.0

	if spread, ok := event.ContextFloat("bid_ask_spread"); ok && event.Price > 0 {
		spreadPct := spread / event.Price
		if spreadPct > 0.02 {
			risk += 0.3
		} else if spreadPct > 0.01 {
			risk += 0.1
		}
	}

	if depth, ok := event.ContextFloat("market_depth"); ok && depth < 0.5 {
		risk += 0.2
	}

	return clamp01(risk)
}

// correlationRisk looks at how concentrated the portfolio is in the
// event's sector. Without portfolio data the exposure is unknown, which
// carries a small base risk.
func (a *Analyzer) correlationRisk(event domain.MarketEvent) float64 {
	if event.Portfolio == nil || len(event.Portfolio.Positions) == 0 {
		return 0.1
	}

	sector, _ := event.ContextString("sector")

	exposure := 0.0
	for _, pos := range event.Portfolio.Positions {
		if sector != "" && pos.Sector == sector {
			exposure += pos.Weight
		}
	}

	risk := 0.0
	if exposure > 0.5 {
		risk += 0.3
	} else if exposure > 0.3 {
		risk += 0.1
	}
	return clamp01(risk)
}

// positionSize halves the configured maximum and scales it down with
// risk, clamped to the configured floor.
func (a *Analyzer) positionSize(overallRisk float64) float64 {
	size := a.cfg.MaxPositionSize * 0.5 * (1 - overallRisk)
	if size < a.cfg.MinPositionSize {
		size = a.cfg.MinPositionSize
	}
	if size > a.cfg.MaxPositionSize {
		size = a.cfg.MaxPositionSize
	}
	return size
}

// stopLoss widens the base 2% stop with risk (up to +8%) and with
// short-term volatility (up to +5%).
func (a *Analyzer) stopLoss(event domain.MarketEvent, overallRisk float64) float64 {
	if event.Price <= 0 {
		return 0
	}

	vol := historicalVolatility(event.History)
	distance := 0.02 + overallRisk*0.08 + math.Min(vol*2, 0.05)

	stop := decimal.NewFromFloat(event.Price).Mul(decimal.NewFromFloat(1 - distance))
	out, _ := stop.Float64()
	return out
}

// maxLoss estimates the fraction of the position at risk between entry
// and the stop.
func (a *Analyzer) maxLoss(price, positionSize, stopLoss float64) float64 {
	if price <= 0 {
		return positionSize * 0.05
	}
	if stopLoss <= 0 {
		return positionSize * 0.1
	}

	p := decimal.NewFromFloat(price)
	lossFrac := p.Sub(decimal.NewFromFloat(stopLoss)).Div(p)
	loss, _ := decimal.NewFromFloat(positionSize).Mul(lossFrac).Float64()
	return loss
}

// capToPortfolioBudget shrinks the position until its estimated loss
// fits within the configured per-trade portfolio risk budget. The loss
// estimate scales linearly with size, so the cap is a single ratio.
func (a *Analyzer) capToPortfolioBudget(positionSize, maxLoss float64) (float64, float64) {
	budget := a.cfg.MaxPortfolioRisk
	if budget <= 0 || positionSize <= 0 || maxLoss <= budget {
		return positionSize, maxLoss
	}

	scaled := positionSize * budget / maxLoss
	if scaled < a.cfg.MinPositionSize {
		scaled = a.cfg.MinPositionSize
	}
	return scaled, maxLoss * scaled / positionSize
}

func riskFactors(metrics map[string]float64) []string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	factors := []string{}
	for _, name := range names {
		if metrics[name] > 0.5 {
			factors = append(factors, "High "+name)
		}
	}
	return factors
}

func (a *Analyzer) warnings(event domain.MarketEvent, metrics map[string]float64) []string {
	warnings := []string{}

	if metrics[domain.RiskMetricVolatility] > 0.7 {
		warnings = append(warnings, "High volatility detected")
	}
	if metrics[domain.RiskMetricLiquidity] > 0.6 {
		warnings = append(warnings, "Low liquidity conditions")
	}
	if metrics[domain.RiskMetricPosition] > 0.6 {
		warnings = append(warnings, "Position size exceeds recommended limits")
	}
	if trend, ok := event.ContextString("market_trend"); ok && trend == "bearish" {
		warnings = append(warnings, "Bearish market conditions")
	}

	return warnings
}

// historicalVolatility is the sample stdev of single-period returns over
// the most recent 20 points.
func historicalVolatility(history []domain.PricePoint) float64 {
	if len(history) < 2 {
		return 0
	}

	points := history
	if len(points) > 20 {
		points = points[len(points)-20:]
	}

	rets := make([]float64, 0, len(points))
	for i := 1; i < len(points); i++ {
		if points[i-1].Price != 0 {
			rets = append(rets, (points[i].Price-points[i-1].Price)/points[i-1].Price)
		}
	}
	if len(rets) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))

	sum := 0.0
	for _, r := range rets {
		sum += (r - mean) * (r - mean)
	}
	return math.Sqrt(sum / float64(len(rets)-1))
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
