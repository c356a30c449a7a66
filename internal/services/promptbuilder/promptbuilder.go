// Package promptbuilder generates the prompts the decision engine sends
// to the LLM: the trading system persona, the per-event analysis request
// with retrieved past experiences, and follow-up explanation requests.
package promptbuilder

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tradecortex/cortex/internal/domain"
)

// SystemPrompt defines the global system instructions for the trading LLM.
const SystemPrompt = `You are the Cortex trading brain, an autonomous trading decision system.

Your role is to analyze market data and make intelligent trading decisions based on:
1. Current market conditions
2. Historical patterns and experiences
3. Risk assessment
4. Technical and fundamental analysis

DECISION FRAMEWORK:
- BUY: Strong positive signals, good risk/reward ratio
- SELL: Strong negative signals, risk mitigation needed
- HOLD: Uncertain conditions, wait for clearer signals

CONFIDENCE LEVELS:
- 0.9-1.0: Extremely confident, strong signals
- 0.7-0.8: High confidence, good signals
- 0.5-0.6: Moderate confidence, mixed signals
- 0.3-0.4: Low confidence, weak signals
- 0.0-0.2: Very low confidence, avoid trading

Always provide:
1. Clear action (BUY/SELL/HOLD)
2. Confidence score (0.0-1.0)
3. Detailed reasoning
4. Risk assessment

Be conservative and prioritize capital preservation.`

// ExplainerSystemPrompt is used for post-hoc decision explanations.
const ExplainerSystemPrompt = "You are an expert trading educator explaining automated trading decisions."

// maxPromptExperiences caps how many retrieved experiences go into the
// prompt regardless of how many the memory search returned.
const maxPromptExperiences = 3

// MarketContext contains all data needed for prompt building.
type MarketContext struct {
	Event       domain.MarketEvent
	Analysis    domain.MarketAnalysis
	Experiences []domain.ExperienceMatch
}

// PromptBuilder constructs prompts for the LLM.
type PromptBuilder struct {
	logger *zap.Logger
}

func NewPromptBuilder(logger *zap.Logger) *PromptBuilder {
	return &PromptBuilder{logger: logger}
}

// BuildUserPrompt constructs the complete analysis request from market
// context. The output format block tells the model exactly which JSON
// fields the decision parser expects.
func (pb *PromptBuilder) BuildUserPrompt(ctx MarketContext) string {
	var sb strings.Builder

	sb.WriteString("MARKET ANALYSIS REQUEST\n")
	sb.WriteString(strings.Repeat("=", 50))
	sb.WriteString("\n\n")

	sb.WriteString("CURRENT MARKET DATA:\n")
	sb.WriteString(pb.marshalIndented(ctx.Event.Snapshot()))
	sb.WriteString("\n\n")

	sb.WriteString("TECHNICAL ANALYSIS:\n")
	sb.WriteString(pb.marshalIndented(ctx.Analysis))
	sb.WriteString("\n\n")

	if len(ctx.Experiences) > 0 {
		sb.WriteString(pb.formatExperiences(ctx.Experiences))
	}

	if len(ctx.Event.Context) > 0 {
		sb.WriteString("ADDITIONAL CONTEXT:\n")
		sb.WriteString(pb.marshalIndented(ctx.Event.Context))
		sb.WriteString("\n\n")
	}

	sb.WriteString(outputFormat)
	sb.WriteString("\nAnalyze the data and provide your trading decision:")

	return sb.String()
}

const outputFormat = `REQUIRED OUTPUT FORMAT (JSON):
{
  "action": "BUY|SELL|HOLD",
  "confidence": 0.0-1.0,
  "reasoning": "Detailed explanation of decision",
  "quantity": optional_trade_size,
  "price_target": optional_target_price,
  "stop_loss": optional_stop_loss_price,
  "risk_score": 0.0-1.0
}
`

// BuildAgentPrompt frames the analysis request for one voter of a
// consensus round so every agent works from the same data but its own
// perspective.
func (pb *PromptBuilder) BuildAgentPrompt(agentIndex, totalAgents int, ctx MarketContext) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("You are Agent %d of %d on an independent trading committee.\n\n", agentIndex+1, totalAgents))
	sb.WriteString("Analyze this market data independently and provide your decision:\n\n")
	sb.WriteString(pb.marshalIndented(ctx.Event.Snapshot()))
	sb.WriteString("\n\nTECHNICAL ANALYSIS:\n")
	sb.WriteString(pb.marshalIndented(ctx.Analysis))
	sb.WriteString("\n\n")
	sb.WriteString(outputFormat)
	sb.WriteString("\nConsider your unique perspective and respond with the JSON object only.")

	return sb.String()
}

// BuildExplainPrompt asks the model to unpack an already-made decision.
func (pb *PromptBuilder) BuildExplainPrompt(decision domain.Decision) string {
	var sb strings.Builder

	sb.WriteString("Provide a detailed explanation of this trading decision:\n\n")
	sb.WriteString(fmt.Sprintf("Action: %s\n", decision.Action))
	sb.WriteString(fmt.Sprintf("Symbol: %s\n", decision.Symbol))
	sb.WriteString(fmt.Sprintf("Confidence: %.2f\n", decision.Confidence))
	sb.WriteString(fmt.Sprintf("Reasoning: %s\n\n", decision.Reasoning))
	sb.WriteString("Explain:\n")
	sb.WriteString("1. Why this action was chosen\n")
	sb.WriteString("2. What factors influenced the confidence level\n")
	sb.WriteString("3. Potential risks and opportunities\n")
	sb.WriteString("4. Alternative scenarios considered\n\n")
	sb.WriteString("Provide a clear, educational explanation.")

	return sb.String()
}

func (pb *PromptBuilder) formatExperiences(experiences []domain.ExperienceMatch) string {
	var sb strings.Builder

	sb.WriteString("HISTORICAL CONTEXT (Similar Past Experiences):\n\n")

	limit := len(experiences)
	if limit > maxPromptExperiences {
		limit = maxPromptExperiences
	}
	for i := 0; i < limit; i++ {
		exp := experiences[i]
		sb.WriteString(fmt.Sprintf("Experience %d:\n", i+1))
		sb.WriteString(fmt.Sprintf("- Content: %s\n", exp.Content))
		sb.WriteString(fmt.Sprintf("- Similarity: %.2f\n\n", exp.Similarity))
	}

	return sb.String()
}

func (pb *PromptBuilder) marshalIndented(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		pb.logger.Warn("failed to marshal prompt section", zap.Error(err))
		return "{}"
	}
	return string(data)
}
