// Package brain wires the analysis, decision, risk and memory services
// into the event-driven trading cycle: pop a market event, analyze it,
// decide, assess risk, remember, dispatch.
package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tradecortex/cortex/config"
	"github.com/tradecortex/cortex/internal/domain"
	"github.com/tradecortex/cortex/internal/services/memory"
	"github.com/tradecortex/cortex/internal/services/promptbuilder"
)

// EventQueue is the transport the brain consumes events from and
// dispatches commands to.
type EventQueue interface {
	Ping(ctx context.Context) error
	PopEvent(ctx context.Context) ([]byte, error)
	PushCommand(ctx context.Context, payload []byte) error
	Close() error
}

// MarketAnalyzer produces a technical snapshot for an event.
type MarketAnalyzer interface {
	Analyze(event domain.MarketEvent) (domain.MarketAnalysis, error)
}

// DecisionEngine proposes trading actions.
type DecisionEngine interface {
	Decide(ctx context.Context, mc promptbuilder.MarketContext) (domain.ProposedDecision, error)
	DecideWithConsensus(ctx context.Context, mc promptbuilder.MarketContext) (domain.ProposedDecision, error)
	Explain(ctx context.Context, decision domain.Decision) (string, error)
}

// RiskAnalyzer scores proposed decisions.
type RiskAnalyzer interface {
	Assess(event domain.MarketEvent, proposed domain.ProposedDecision) (domain.RiskAssessment, error)
	ConservativeAssessment() domain.RiskAssessment
}

// ExperienceMemory stores and retrieves past decision cycles.
type ExperienceMemory interface {
	Store(ctx context.Context, exp domain.Experience) (string, error)
	Search(ctx context.Context, query string, topK int, filters map[string]any) ([]domain.ExperienceMatch, error)
	Recent(ctx context.Context, limit int, symbol string) ([]domain.ExperienceMatch, error)
	UpdateOutcome(ctx context.Context, id string, outcome map[string]any) (bool, error)
	Stats(ctx context.Context) (memory.Stats, error)
	Clear(ctx context.Context, confirm bool) error
}

// storeTimeout bounds the fire-and-forget experience write so a slow
// index cannot pile up goroutines forever.
const storeTimeout = 30 * time.Second

// Status is a point-in-time view of the brain for operators.
type Status struct {
	Running             bool          `json:"running"`
	Uptime              string        `json:"uptime"`
	CyclesProcessed     uint64        `json:"cycles_processed"`
	DecisionsDispatched uint64        `json:"decisions_dispatched"`
	LastEventAt         *time.Time    `json:"last_event_at,omitempty"`
	Memory              *memory.Stats `json:"memory,omitempty"`
}

// ManualAnalysisResult bundles everything a manual analysis produced.
type ManualAnalysisResult struct {
	Symbol         string                   `json:"symbol"`
	Analysis       domain.MarketAnalysis    `json:"market_analysis"`
	Decision       domain.Decision          `json:"decision"`
	RiskAssessment domain.RiskAssessment    `json:"risk_assessment"`
	Explanation    string                   `json:"explanation"`
	History        []domain.ExperienceMatch `json:"historical_context"`
	CommandSent    bool                     `json:"command_sent"`
	Timestamp      time.Time                `json:"timestamp"`
}

// Brain runs the decision cycle.
type Brain struct {
	logger   *zap.Logger
	cfg      config.BrainConfig
	queue    EventQueue
	analyzer MarketAnalyzer
	engine   DecisionEngine
	risk     RiskAnalyzer
	memory   ExperienceMemory

	running    atomic.Bool
	startedAt  time.Time
	cycles     atomic.Uint64
	dispatched atomic.Uint64
	lastEvent  atomic.Int64 // unix nano, 0 = never
}

func New(logger *zap.Logger, cfg config.BrainConfig, queue EventQueue, an MarketAnalyzer, eng DecisionEngine, rk RiskAnalyzer, mem ExperienceMemory) *Brain {
	return &Brain{
		logger:   logger,
		cfg:      cfg,
		queue:    queue,
		analyzer: an,
		engine:   eng,
		risk:     rk,
		memory:   mem,
	}
}

// Start runs the brain loop until the context is canceled or Stop is
// called. A failed queue ping is fatal: without the queue the brain has
// no work source.
func (b *Brain) Start(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.New("brain is already running")
	}
	defer b.running.Store(false)

	if err := b.queue.Ping(ctx); err != nil {
		return errors.Wrap(err, "brain startup failed")
	}

	b.startedAt = time.Now()
	b.logger.Info("brain started")

	for b.running.Load() {
		select {
		case <-ctx.Done():
			b.logger.Info("brain stopping: context canceled")
			return nil
		default:
		}

		if err := b.processCycle(ctx); err != nil {
			b.logger.Error("brain cycle error", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.cfg.ErrorBackoff):
			}
		}
	}

	b.logger.Info("brain stopped")
	return nil
}

// processCycle waits for one market event and runs it through the
// pipeline. A timed-out pop is not an error, just an empty cycle.
func (b *Brain) processCycle(ctx context.Context) error {
	payload, err := b.queue.PopEvent(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if payload == nil {
		return nil
	}

	event, err := domain.ParseMarketEvent(payload)
	if err != nil {
		// malformed events are dropped, not retried
		b.logger.Warn("dropping malformed market event", zap.Error(err))
		return nil
	}

	b.logger.Info("processing market event", zap.String("symbol", event.Symbol))

	decision := b.ProcessEvent(ctx, event)

	if err := b.dispatch(ctx, decision); err != nil {
		return err
	}
	return nil
}

// ProcessEvent runs the full pipeline on one event and returns the final
// risk-adjusted decision. Component degradations are logged and absorbed
// so a cycle always yields a decision.
func (b *Brain) ProcessEvent(ctx context.Context, event domain.MarketEvent) domain.Decision {
	b.cycles.Add(1)
	b.lastEvent.Store(time.Now().UnixNano())

	analysis, err := b.analyzer.Analyze(event)
	if err != nil {
		b.logger.Warn("market analysis degraded", zap.String("symbol", event.Symbol), zap.Error(err))
	}

	query := fmt.Sprintf("Market event: %s price: %v", event.Symbol, event.Price)
	history, err := b.memory.Search(ctx, query, b.cfg.HistoryDepth, nil)
	if err != nil {
		b.logger.Warn("experience search failed, deciding without history", zap.Error(err))
		history = nil
	}

	mc := promptbuilder.MarketContext{
		Event:       event,
		Analysis:    analysis,
		Experiences: history,
	}

	proposed, err := b.engine.DecideWithConsensus(ctx, mc)
	if err != nil {
		b.logger.Warn("decision generation degraded", zap.String("symbol", event.Symbol), zap.Error(err))
	}

	assessment, err := b.risk.Assess(event, proposed)
	if err != nil {
		b.logger.Warn("risk assessment degraded", zap.String("symbol", event.Symbol), zap.Error(err))
		assessment = b.risk.ConservativeAssessment()
	}

	decision := domain.ApplyRiskAdjustment(proposed, assessment)

	b.storeExperience(ctx, event, decision, analysis, assessment)

	b.logger.Info("decision generated",
		zap.String("symbol", event.Symbol),
		zap.String("action", string(decision.Action)),
		zap.Float64("confidence", decision.Confidence),
		zap.String("risk_level", string(assessment.RiskLevel)))

	return decision
}

// storeExperience persists the cycle asynchronously. Memory writes never
// block or fail the trading path.
func (b *Brain) storeExperience(ctx context.Context, event domain.MarketEvent, decision domain.Decision, analysis domain.MarketAnalysis, assessment domain.RiskAssessment) {
	exp := domain.Experience{
		Timestamp: time.Now().UTC(),
		Situation: event.Snapshot(),
		Decision:  decision,
		Context: map[string]any{
			"market_analysis": analysis,
			"risk_assessment": assessment,
		},
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	go func() {
		defer cancel()
		if _, err := b.memory.Store(storeCtx, exp); err != nil {
			b.logger.Warn("failed to store experience", zap.String("symbol", event.Symbol), zap.Error(err))
		}
	}()
}

// dispatch forwards the decision to the executor when its confidence
// clears the configured floor.
func (b *Brain) dispatch(ctx context.Context, decision domain.Decision) error {
	if decision.Confidence < b.cfg.MinDispatchConfidence {
		b.logger.Info("decision confidence below dispatch floor, holding back",
			zap.String("symbol", decision.Symbol),
			zap.Float64("confidence", decision.Confidence),
			zap.Float64("floor", b.cfg.MinDispatchConfidence))
		return nil
	}

	payload, err := json.Marshal(decision.DispatchMessage())
	if err != nil {
		return errors.Wrap(err, "failed to serialize trading command")
	}

	if err := b.queue.PushCommand(ctx, payload); err != nil {
		return err
	}

	b.dispatched.Add(1)
	b.logger.Info("trading command dispatched",
		zap.String("symbol", decision.Symbol),
		zap.String("action", string(decision.Action)),
		zap.Float64("confidence", decision.Confidence))
	return nil
}

// ManualAnalysis runs the pipeline for an operator-supplied event, adds
// a detailed explanation, and dispatches actionable decisions.
func (b *Brain) ManualAnalysis(ctx context.Context, event domain.MarketEvent) (ManualAnalysisResult, error) {
	b.logger.Info("manual analysis requested", zap.String("symbol", event.Symbol))

	analysis, err := b.analyzer.Analyze(event)
	if err != nil {
		b.logger.Warn("market analysis degraded", zap.String("symbol", event.Symbol), zap.Error(err))
	}

	query := fmt.Sprintf("Symbol: %s analysis", event.Symbol)
	history, err := b.memory.Search(ctx, query, 3, nil)
	if err != nil {
		b.logger.Warn("experience search failed", zap.Error(err))
		history = nil
	}

	mc := promptbuilder.MarketContext{
		Event:       event,
		Analysis:    analysis,
		Experiences: history,
	}

	proposed, err := b.engine.Decide(ctx, mc)
	if err != nil {
		b.logger.Warn("decision generation degraded", zap.String("symbol", event.Symbol), zap.Error(err))
	}

	assessment, err := b.risk.Assess(event, proposed)
	if err != nil {
		b.logger.Warn("risk assessment degraded", zap.Error(err))
		assessment = b.risk.ConservativeAssessment()
	}

	decision := domain.ApplyRiskAdjustment(proposed, assessment)

	explanation, err := b.engine.Explain(ctx, decision)
	if err != nil {
		b.logger.Warn("decision explanation failed", zap.Error(err))
		explanation = "Unable to generate explanation: " + err.Error()
	}

	commandSent := false
	if decision.Action == domain.ActionBuy || decision.Action == domain.ActionSell {
		if err := b.dispatch(ctx, decision); err != nil {
			b.logger.Warn("manual dispatch failed", zap.Error(err))
		} else {
			commandSent = decision.Confidence >= b.cfg.MinDispatchConfidence
		}
	}

	return ManualAnalysisResult{
		Symbol:         event.Symbol,
		Analysis:       analysis,
		Decision:       decision,
		RiskAssessment: assessment,
		Explanation:    explanation,
		History:        history,
		CommandSent:    commandSent,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// UpdateExperienceOutcome records the realized outcome of a past
// decision. It returns false when no experience has the id.
func (b *Brain) UpdateExperienceOutcome(ctx context.Context, memoryID string, outcome map[string]any) (bool, error) {
	updated, err := b.memory.UpdateOutcome(ctx, memoryID, outcome)
	if err != nil {
		return false, errors.Wrap(err, "failed to update experience outcome")
	}
	if updated {
		b.logger.Info("experience outcome updated", zap.String("memory_id", memoryID))
	} else {
		b.logger.Warn("experience not found for outcome update", zap.String("memory_id", memoryID))
	}
	return updated, nil
}

// Memory exposes the experience memory for read endpoints.
func (b *Brain) Memory() ExperienceMemory {
	return b.memory
}

// Status reports runtime counters plus memory statistics when they can
// be fetched.
func (b *Brain) Status(ctx context.Context) Status {
	status := Status{
		Running:             b.running.Load(),
		CyclesProcessed:     b.cycles.Load(),
		DecisionsDispatched: b.dispatched.Load(),
	}
	if status.Running {
		status.Uptime = time.Since(b.startedAt).Round(time.Second).String()
	}
	if nanos := b.lastEvent.Load(); nanos > 0 {
		t := time.Unix(0, nanos).UTC()
		status.LastEventAt = &t
	}
	if stats, err := b.memory.Stats(ctx); err == nil {
		status.Memory = &stats
	} else {
		b.logger.Warn("failed to fetch memory stats", zap.Error(err))
	}
	return status
}

// Stop ends the loop after the in-flight cycle finishes.
func (b *Brain) Stop() {
	b.logger.Info("brain stop requested")
	b.running.Store(false)
}

// EmergencyStop halts the loop and drops the queue connection without
// waiting for the in-flight cycle to dispatch.
func (b *Brain) EmergencyStop() {
	b.logger.Warn("EMERGENCY STOP: brain shutting down immediately")
	b.running.Store(false)
	if err := b.queue.Close(); err != nil {
		b.logger.Warn("queue close during emergency stop", zap.Error(err))
	}
}
