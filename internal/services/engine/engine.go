// Package engine turns market context into a proposed trading decision,
// either through an LLM (optionally with multi-agent consensus voting)
// or through deterministic rules when no model is configured.
package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tradecortex/cortex/config"
	"github.com/tradecortex/cortex/internal/clients"
	"github.com/tradecortex/cortex/internal/domain"
	"github.com/tradecortex/cortex/internal/services/promptbuilder"
)

// agentTemperatureStep spreads sampling temperature across consensus
// agents so their votes are not identical.
const agentTemperatureStep = 0.05

// Engine produces proposed decisions. A nil chat client puts the engine
// in rule mode.
type Engine struct {
	logger        *zap.Logger
	chat          clients.ChatClient
	promptBuilder *promptbuilder.PromptBuilder
	temperature   float64
	numAgents     int
}

func New(logger *zap.Logger, chat clients.ChatClient, pb *promptbuilder.PromptBuilder, llmCfg config.LLMConfig, engineCfg config.EngineConfig) *Engine {
	return &Engine{
		logger:        logger,
		chat:          chat,
		promptBuilder: pb,
		temperature:   llmCfg.Temperature,
		numAgents:     engineCfg.ConsensusAgents,
	}
}

// Decide proposes a trading action for the market context. It never
// fails the pipeline: when the model cannot be reached or returns
// garbage, the result is a zero-confidence HOLD together with an error
// naming the degradation.
func (e *Engine) Decide(ctx context.Context, mc promptbuilder.MarketContext) (domain.ProposedDecision, error) {
	if e.chat == nil {
		return e.ruleDecision(mc), nil
	}

	raw, err := e.chat.Complete(ctx, promptbuilder.SystemPrompt, e.promptBuilder.BuildUserPrompt(mc), e.temperature)
	if err != nil {
		return domain.HoldFallback(mc.Event.Symbol, err.Error()), errors.Wrap(err, "LLM request failed")
	}

	proposed, err := domain.ParseProposedDecision(mc.Event.Symbol, raw)
	if err != nil {
		return domain.HoldFallback(mc.Event.Symbol, err.Error()), errors.Wrap(err, "failed to parse LLM decision")
	}

	e.logger.Info("decision",
		zap.String("symbol", proposed.Symbol),
		zap.String("action", string(proposed.Action)),
		zap.Float64("confidence", proposed.Confidence))

	return proposed, nil
}

// DecideWithConsensus queries several agents concurrently and merges
// their votes. Agents that error out abstain; if every agent abstains
// the engine falls back to a single Decide call.
func (e *Engine) DecideWithConsensus(ctx context.Context, mc promptbuilder.MarketContext) (domain.ProposedDecision, error) {
	if e.chat == nil || e.numAgents <= 1 {
		return e.Decide(ctx, mc)
	}

	var (
		mu    sync.Mutex
		votes []domain.ProposedDecision
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.numAgents; i++ {
		g.Go(func() error {
			temperature := e.temperature + float64(i)*agentTemperatureStep
			prompt := e.promptBuilder.BuildAgentPrompt(i, e.numAgents, mc)

			raw, err := e.chat.Complete(gctx, promptbuilder.SystemPrompt, prompt, temperature)
			if err != nil {
				e.logger.Warn("consensus agent abstained", zap.Int("agent", i), zap.Error(err))
				return nil
			}

			proposed, err := domain.ParseProposedDecision(mc.Event.Symbol, raw)
			if err != nil {
				e.logger.Warn("consensus agent returned unparseable decision", zap.Int("agent", i), zap.Error(err))
				return nil
			}

			mu.Lock()
			votes = append(votes, proposed)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.HoldFallback(mc.Event.Symbol, err.Error()), err
	}

	if len(votes) == 0 {
		e.logger.Warn("all consensus agents abstained, falling back to single decision")
		return e.Decide(ctx, mc)
	}

	consensus := calculateConsensus(mc.Event.Symbol, votes)

	e.logger.Info("consensus decision",
		zap.String("symbol", consensus.Symbol),
		zap.String("action", string(consensus.Action)),
		zap.Float64("confidence", consensus.Confidence),
		zap.Int("votes", len(votes)))

	return consensus, nil
}

// calculateConsensus tallies action votes, averages confidence over all
// voters and discounts it by the agreement ratio.
func calculateConsensus(symbol string, votes []domain.ProposedDecision) domain.ProposedDecision {
	tally := map[domain.Action]int{}
	confidenceSum := 0.0
	reasonings := make([]string, 0, len(votes))

	for _, v := range votes {
		tally[v.Action]++
		confidenceSum += v.Confidence
		reasonings = append(reasonings, v.Reasoning)
	}

	winner := domain.ActionHold
	maxVotes := 0
	for _, action := range []domain.Action{domain.ActionBuy, domain.ActionSell, domain.ActionHold} {
		if tally[action] > maxVotes {
			winner = action
			maxVotes = tally[action]
		}
	}

	avgConfidence := confidenceSum / float64(len(votes))
	agreement := float64(maxVotes) / float64(len(votes))

	if len(reasonings) > 2 {
		reasonings = reasonings[:2]
	}
	reasoning := fmt.Sprintf("Multi-agent consensus (%d/%d agents agree): %s",
		maxVotes, len(votes), strings.Join(reasonings, " | "))

	return domain.ProposedDecision{
		Symbol:     symbol,
		Action:     winner,
		Confidence: avgConfidence * agreement,
		Reasoning:  reasoning,
		Timestamp:  time.Now().UTC(),
	}
}

// Explain asks the model to unpack a decision for a human reader. In
// rule mode the reasoning itself is the explanation.
func (e *Engine) Explain(ctx context.Context, decision domain.Decision) (string, error) {
	if e.chat == nil {
		return decision.Reasoning, nil
	}

	explanation, err := e.chat.Complete(ctx, promptbuilder.ExplainerSystemPrompt, e.promptBuilder.BuildExplainPrompt(decision), 0.3)
	if err != nil {
		return "", errors.Wrap(err, "failed to explain decision")
	}
	return explanation, nil
}

// ruleDecision is the deterministic strategy used without an LLM. It
// reads trend, volatility and sentiment hints from the event context.
func (e *Engine) ruleDecision(mc promptbuilder.MarketContext) domain.ProposedDecision {
	symbol := mc.Event.Symbol
	price := mc.Event.Price

	trend, _ := mc.Event.ContextString("trend")
	if trend == "" {
		trend = "neutral"
	}
	volatility, ok := mc.Event.ContextFloat("volatility")
	if !ok {
		volatility = 0.02
	}
	sentiment, _ := mc.Event.ContextString("social_sentiment")
	if sentiment == "" {
		sentiment = "neutral"
	}

	var proposed domain.ProposedDecision
	switch {
	case trend == "bullish" && (sentiment == "positive" || sentiment == "neutral") && volatility < 0.1:
		proposed = domain.ProposedDecision{
			Symbol:     symbol,
			Action:     domain.ActionBuy,
			Confidence: 0.75,
			Reasoning: fmt.Sprintf("Bullish trend with %s sentiment and manageable volatility (%.3f). Executing BUY for %s.",
				sentiment, volatility, symbol),
			Quantity:    math.Min(price*0.01, 1.0),
			PriceTarget: price * 1.05,
			StopLoss:    price * 0.97,
			RiskScore:   volatility,
		}
	case trend == "bearish" || volatility > 0.08:
		proposed = domain.ProposedDecision{
			Symbol:     symbol,
			Action:     domain.ActionSell,
			Confidence: 0.65,
			Reasoning: fmt.Sprintf("Bearish conditions or high volatility (%.3f) detected. Executing SELL for %s.",
				volatility, symbol),
			Quantity:    math.Min(price*0.005, 0.5),
			PriceTarget: price * 0.95,
			StopLoss:    price * 1.02,
			RiskScore:   volatility,
		}
	case trend == "neutral" && volatility < 0.03:
		proposed = domain.ProposedDecision{
			Symbol:     symbol,
			Action:     domain.ActionBuy,
			Confidence: 0.60,
			Reasoning: fmt.Sprintf("Neutral trend with low volatility (%.3f). Small position BUY for %s.",
				volatility, symbol),
			Quantity:    math.Min(price*0.005, 0.3),
			PriceTarget: price * 1.02,
			StopLoss:    price * 0.98,
			RiskScore:   volatility,
		}
	default:
		proposed = domain.ProposedDecision{
			Symbol:     symbol,
			Action:     domain.ActionHold,
			Confidence: 0.55,
			Reasoning: fmt.Sprintf("Mixed signals for %s. Trend: %s, Sentiment: %s, Volatility: %.3f. Conservative HOLD.",
				symbol, trend, sentiment, volatility),
			RiskScore: volatility,
		}
	}

	proposed.Timestamp = time.Now().UTC()

	e.logger.Info("rule decision",
		zap.String("symbol", symbol),
		zap.String("action", string(proposed.Action)),
		zap.String("trend", trend),
		zap.Float64("volatility", volatility))

	return proposed.Normalized()
}
