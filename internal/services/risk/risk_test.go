package risk

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradecortex/cortex/config"
	"github.com/tradecortex/cortex/internal/domain"
)

func newTestAnalyzer() *Analyzer {
	return New(zap.NewNop(), config.Default().Risk)
}

func TestAssess_CalmMarketIsLowRisk(t *testing.T) {
	a := newTestAnalyzer()

	event := domain.MarketEvent{Symbol: "SOL", Price: 100, Volume: 1000}
	proposed := domain.ProposedDecision{Symbol: "SOL", Action: domain.ActionBuy, Confidence: 0.8, Reasoning: "calm market entry with defined stop"}

	assessment, err := a.Assess(event, proposed)
	require.NoError(t, err)

	// only the unknown-portfolio correlation base risk applies
	require.InDelta(t, 0.1*0.15, assessment.OverallRiskScore, 1e-9)
	require.Equal(t, domain.RiskLow, assessment.RiskLevel)
	require.Empty(t, assessment.RiskFactors)
	require.GreaterOrEqual(t, assessment.ConfidenceAdjustment, 0.9)
}

func TestAssess_HostileMarketRaisesRisk(t *testing.T) {
	a := newTestAnalyzer()

	calmEvent := domain.MarketEvent{Symbol: "SOL", Price: 100}
	hostileEvent := domain.MarketEvent{
		Symbol: "SOL",
		Price:  100,
		Context: map[string]any{
			"market_trend":   "bearish",
			"news_sentiment": "negative",
			"volatility":     0.12, // > 2x threshold
			"volume_ratio":   0.3,
			"leverage":       3.0,
			"bid_ask_spread": 3.0, // 3% of price
			"market_depth":   0.2,
		},
	}
	proposed := domain.ProposedDecision{Symbol: "SOL", Action: domain.ActionBuy, Confidence: 0.8, Reasoning: "entry attempt in hostile conditions"}

	calm, err := a.Assess(calmEvent, proposed)
	require.NoError(t, err)
	hostile, err := a.Assess(hostileEvent, proposed)
	require.NoError(t, err)

	require.Greater(t, hostile.OverallRiskScore, calm.OverallRiskScore)
	require.NotEmpty(t, hostile.RiskFactors)
	require.Contains(t, hostile.Warnings, "Bearish market conditions")
	require.Less(t, hostile.ConfidenceAdjustment, calm.ConfidenceAdjustment)
	require.Less(t, hostile.PositionSizeRecommendation, calm.PositionSizeRecommendation)
}

func TestAssess_PositionSizeBounds(t *testing.T) {
	a := newTestAnalyzer()
	cfg := config.Default().Risk

	events := []domain.MarketEvent{
		{Symbol: "SOL", Price: 100},
		{Symbol: "SOL", Price: 100, Context: map[string]any{
			"market_trend": "bearish", "volatility": 0.5, "leverage": 5.0, "market_depth": 0.1,
		}},
	}
	for _, event := range events {
		assessment, err := a.Assess(event, domain.ProposedDecision{Symbol: "SOL", Action: domain.ActionBuy, Reasoning: "position sizing bounds check"})
		require.NoError(t, err)
		require.GreaterOrEqual(t, assessment.PositionSizeRecommendation, cfg.MinPositionSize)
		require.LessOrEqual(t, assessment.PositionSizeRecommendation, cfg.MaxPositionSize)
		require.GreaterOrEqual(t, assessment.OverallRiskScore, 0.0)
		require.LessOrEqual(t, assessment.OverallRiskScore, 1.0)
	}
}

func TestAssess_OversizedPositionFlagged(t *testing.T) {
	a := newTestAnalyzer()

	event := domain.MarketEvent{
		Symbol:    "SOL",
		Price:     100,
		Portfolio: &domain.Portfolio{TotalValue: 1000},
	}
	// 20 units at price 100 is twice the whole portfolio
	proposed := domain.ProposedDecision{Symbol: "SOL", Action: domain.ActionBuy, Quantity: 20, Reasoning: "oversized entry for flag check"}

	assessment, err := a.Assess(event, proposed)
	require.NoError(t, err)
	require.GreaterOrEqual(t, assessment.RiskMetrics[domain.RiskMetricPosition], 0.4)
}

func TestAssess_SectorConcentration(t *testing.T) {
	a := newTestAnalyzer()

	event := domain.MarketEvent{
		Symbol:  "SOL",
		Price:   100,
		Context: map[string]any{"sector": "l1"},
		Portfolio: &domain.Portfolio{
			TotalValue: 10000,
			Positions: []domain.PortfolioPosition{
				{Symbol: "ETH", Sector: "l1", Weight: 0.4},
				{Symbol: "AVAX", Sector: "l1", Weight: 0.2},
			},
		},
	}

	assessment, err := a.Assess(event, domain.ProposedDecision{Symbol: "SOL", Action: domain.ActionBuy, Reasoning: "sector concentration check"})
	require.NoError(t, err)
	require.InDelta(t, 0.3, assessment.RiskMetrics[domain.RiskMetricCorrelation], 1e-9)
}

func TestAssess_StopLossBelowPrice(t *testing.T) {
	a := newTestAnalyzer()

	event := domain.MarketEvent{Symbol: "SOL", Price: 100}
	assessment, err := a.Assess(event, domain.ProposedDecision{Symbol: "SOL", Action: domain.ActionBuy, Reasoning: "stop placement sanity check"})
	require.NoError(t, err)

	require.Greater(t, assessment.StopLossRecommendation, 0.0)
	require.Less(t, assessment.StopLossRecommendation, event.Price)
	require.Greater(t, assessment.MaxLossEstimate, 0.0)
}

func TestAssess_UnusableEventFallsBackConservative(t *testing.T) {
	a := newTestAnalyzer()

	assessment, err := a.Assess(domain.MarketEvent{Symbol: "SOL", Price: 0}, domain.ProposedDecision{Symbol: "SOL"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "without a price")
	require.Equal(t, 0.8, assessment.OverallRiskScore)
	require.Equal(t, domain.RiskHigh, assessment.RiskLevel)
	require.Equal(t, 0.01, assessment.PositionSizeRecommendation)
	require.Equal(t, 0.5, assessment.ConfidenceAdjustment)
}

func TestAssess_PortfolioRiskBudgetCapsPosition(t *testing.T) {
	tight := config.Default().Risk
	tight.MaxPortfolioRisk = 0.0002
	capped := New(zap.NewNop(), tight)
	uncapped := newTestAnalyzer()

	event := domain.MarketEvent{Symbol: "SOL", Price: 100}
	proposed := domain.ProposedDecision{Symbol: "SOL", Action: domain.ActionBuy, Reasoning: "budget cap check"}

	free, err := uncapped.Assess(event, proposed)
	require.NoError(t, err)
	constrained, err := capped.Assess(event, proposed)
	require.NoError(t, err)

	require.Less(t, constrained.PositionSizeRecommendation, free.PositionSizeRecommendation)
	require.LessOrEqual(t, constrained.MaxLossEstimate, tight.MaxPortfolioRisk+1e-9)
	require.GreaterOrEqual(t, constrained.PositionSizeRecommendation, tight.MinPositionSize)
}

func TestHistoricalVolatility(t *testing.T) {
	require.Equal(t, 0.0, historicalVolatility(nil))
	require.Equal(t, 0.0, historicalVolatility([]domain.PricePoint{{Price: 100}}))

	steady := []domain.PricePoint{{Price: 100}, {Price: 101}, {Price: 102}, {Price: 103}}
	wild := []domain.PricePoint{{Price: 100}, {Price: 150}, {Price: 80}, {Price: 160}}
	require.Greater(t, historicalVolatility(wild), historicalVolatility(steady))
}
