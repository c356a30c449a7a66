package brain

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradecortex/cortex/config"
	"github.com/tradecortex/cortex/internal/domain"
	"github.com/tradecortex/cortex/internal/services/memory"
	"github.com/tradecortex/cortex/internal/services/promptbuilder"
)

type fakeQueue struct {
	mu       sync.Mutex
	commands [][]byte
	closed   bool
}

func (f *fakeQueue) Ping(context.Context) error               { return nil }
func (f *fakeQueue) PopEvent(context.Context) ([]byte, error) { return nil, nil }

func (f *fakeQueue) PushCommand(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, payload)
	return nil
}

func (f *fakeQueue) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeQueue) sentCommands() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.commands...)
}

type fakeAnalyzer struct {
	err error
}

func (f *fakeAnalyzer) Analyze(event domain.MarketEvent) (domain.MarketAnalysis, error) {
	return domain.NeutralAnalysis(event.Symbol), f.err
}

type fakeEngine struct {
	proposed domain.ProposedDecision
	err      error
}

func (f *fakeEngine) Decide(_ context.Context, mc promptbuilder.MarketContext) (domain.ProposedDecision, error) {
	if f.err != nil {
		return domain.HoldFallback(mc.Event.Symbol, f.err.Error()), f.err
	}
	return f.proposed, nil
}

func (f *fakeEngine) DecideWithConsensus(ctx context.Context, mc promptbuilder.MarketContext) (domain.ProposedDecision, error) {
	return f.Decide(ctx, mc)
}

func (f *fakeEngine) Explain(_ context.Context, _ domain.Decision) (string, error) {
	return "explained", nil
}

type fakeRisk struct {
	assessment domain.RiskAssessment
	err        error
}

func (f *fakeRisk) Assess(domain.MarketEvent, domain.ProposedDecision) (domain.RiskAssessment, error) {
	return f.assessment, f.err
}

func (f *fakeRisk) ConservativeAssessment() domain.RiskAssessment {
	return domain.RiskAssessment{
		OverallRiskScore:           0.8,
		RiskLevel:                  domain.RiskHigh,
		PositionSizeRecommendation: 0.01,
		ConfidenceAdjustment:       0.5,
	}
}

type fakeMemory struct {
	mu      sync.Mutex
	stored  []domain.Experience
	matches []domain.ExperienceMatch
	updated map[string]map[string]any
	// signals each completed Store, the writes are asynchronous
	storeDone chan struct{}
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{
		updated:   map[string]map[string]any{},
		storeDone: make(chan struct{}, 16),
	}
}

func (f *fakeMemory) Store(_ context.Context, exp domain.Experience) (string, error) {
	f.mu.Lock()
	f.stored = append(f.stored, exp)
	f.mu.Unlock()
	f.storeDone <- struct{}{}
	return "stored-id", nil
}

func (f *fakeMemory) Search(context.Context, string, int, map[string]any) ([]domain.ExperienceMatch, error) {
	return f.matches, nil
}

func (f *fakeMemory) Recent(context.Context, int, string) ([]domain.ExperienceMatch, error) {
	return f.matches, nil
}

func (f *fakeMemory) UpdateOutcome(_ context.Context, id string, outcome map[string]any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[id] = outcome
	return id == "known", nil
}

func (f *fakeMemory) Stats(context.Context) (memory.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return memory.Stats{TotalExperiences: len(f.stored)}, nil
}

func (f *fakeMemory) Clear(context.Context, bool) error { return nil }

func testBrainConfig() config.BrainConfig {
	return config.BrainConfig{
		MinDispatchConfidence: 0.6,
		ErrorBackoff:          time.Millisecond,
		HistoryDepth:          5,
	}
}

func testEvent(symbol string, price float64) domain.MarketEvent {
	return domain.MarketEvent{Symbol: symbol, Price: price}
}

func confidentBuy(symbol string) domain.ProposedDecision {
	return domain.ProposedDecision{
		Symbol:     symbol,
		Action:     domain.ActionBuy,
		Confidence: 0.9,
		Reasoning:  "strong uptrend",
		Quantity:   1.0,
		Timestamp:  time.Now().UTC(),
	}
}

func neutralAssessment() domain.RiskAssessment {
	return domain.RiskAssessment{
		OverallRiskScore:           0.2,
		RiskLevel:                  domain.RiskLow,
		PositionSizeRecommendation: 0.05,
		ConfidenceAdjustment:       1.0,
	}
}

func TestProcessEvent_Pipeline(t *testing.T) {
	queue := &fakeQueue{}
	mem := newFakeMemory()
	b := New(zap.NewNop(), testBrainConfig(), queue, &fakeAnalyzer{}, &fakeEngine{proposed: confidentBuy("SOL")}, &fakeRisk{assessment: neutralAssessment()}, mem)

	decision := b.ProcessEvent(context.Background(), testEvent("SOL", 100))
	require.Equal(t, domain.ActionBuy, decision.Action)
	require.Equal(t, 0.9, decision.Confidence)
	require.InDelta(t, 0.05, decision.Quantity, 1e-9)
	require.Equal(t, domain.RiskLow, decision.RiskLevel)

	select {
	case <-mem.storeDone:
	case <-time.After(time.Second):
		t.Fatal("experience was never stored")
	}

	mem.mu.Lock()
	defer mem.mu.Unlock()
	require.Len(t, mem.stored, 1)
	exp := mem.stored[0]
	require.Equal(t, "SOL", exp.Decision.Symbol)
	require.Contains(t, exp.Context, "market_analysis")
	require.Contains(t, exp.Context, "risk_assessment")
}

func TestProcessEvent_RiskFailureUsesConservativeFallback(t *testing.T) {
	mem := newFakeMemory()
	risk := &fakeRisk{err: errors.New("risk model unavailable")}
	b := New(zap.NewNop(), testBrainConfig(), &fakeQueue{}, &fakeAnalyzer{}, &fakeEngine{proposed: confidentBuy("SOL")}, risk, mem)

	decision := b.ProcessEvent(context.Background(), testEvent("SOL", 100))
	// conservative fallback halves confidence and shrinks the position
	require.InDelta(t, 0.45, decision.Confidence, 1e-9)
	require.InDelta(t, 0.01, decision.Quantity, 1e-9)
	require.Equal(t, domain.RiskHigh, decision.RiskLevel)
}

func TestProcessEvent_ExtremeRiskForcesHold(t *testing.T) {
	assessment := neutralAssessment()
	assessment.RiskLevel = domain.RiskExtreme
	b := New(zap.NewNop(), testBrainConfig(), &fakeQueue{}, &fakeAnalyzer{}, &fakeEngine{proposed: confidentBuy("SOL")}, &fakeRisk{assessment: assessment}, newFakeMemory())

	decision := b.ProcessEvent(context.Background(), testEvent("SOL", 100))
	require.Equal(t, domain.ActionHold, decision.Action)
	require.Contains(t, decision.Reasoning, "RISK OVERRIDE:")
}

func TestDispatch_ConfidenceGate(t *testing.T) {
	queue := &fakeQueue{}
	b := New(zap.NewNop(), testBrainConfig(), queue, &fakeAnalyzer{}, &fakeEngine{}, &fakeRisk{}, newFakeMemory())

	require.NoError(t, b.dispatch(context.Background(), domain.Decision{Symbol: "SOL", Action: domain.ActionBuy, Confidence: 0.5}))
	require.Empty(t, queue.sentCommands())

	require.NoError(t, b.dispatch(context.Background(), domain.Decision{Symbol: "SOL", Action: domain.ActionBuy, Confidence: 0.7}))
	sent := queue.sentCommands()
	require.Len(t, sent, 1)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(sent[0], &msg))
	require.Equal(t, "SOL", msg["symbol"])
	require.Equal(t, "BUY", msg["action"])
	require.Equal(t, "cortex-brain", msg["source"])
}

func TestManualAnalysis_DispatchesActionableDecisions(t *testing.T) {
	queue := &fakeQueue{}
	mem := newFakeMemory()
	mem.matches = []domain.ExperienceMatch{{MemoryID: "m1", Content: "past trade", Similarity: 0.9}}
	b := New(zap.NewNop(), testBrainConfig(), queue, &fakeAnalyzer{}, &fakeEngine{proposed: confidentBuy("SOL")}, &fakeRisk{assessment: neutralAssessment()}, mem)

	result, err := b.ManualAnalysis(context.Background(), testEvent("SOL", 100))
	require.NoError(t, err)
	require.Equal(t, "SOL", result.Symbol)
	require.Equal(t, domain.ActionBuy, result.Decision.Action)
	require.Equal(t, "explained", result.Explanation)
	require.Len(t, result.History, 1)
	require.True(t, result.CommandSent)
	require.Len(t, queue.sentCommands(), 1)
}

func TestManualAnalysis_HoldIsNotDispatched(t *testing.T) {
	queue := &fakeQueue{}
	hold := domain.ProposedDecision{Symbol: "SOL", Action: domain.ActionHold, Confidence: 0.9, Reasoning: "sideways chop"}
	b := New(zap.NewNop(), testBrainConfig(), queue, &fakeAnalyzer{}, &fakeEngine{proposed: hold}, &fakeRisk{assessment: neutralAssessment()}, newFakeMemory())

	result, err := b.ManualAnalysis(context.Background(), testEvent("SOL", 100))
	require.NoError(t, err)
	require.False(t, result.CommandSent)
	require.Empty(t, queue.sentCommands())
}

func TestUpdateExperienceOutcome(t *testing.T) {
	mem := newFakeMemory()
	b := New(zap.NewNop(), testBrainConfig(), &fakeQueue{}, &fakeAnalyzer{}, &fakeEngine{}, &fakeRisk{}, mem)

	updated, err := b.UpdateExperienceOutcome(context.Background(), "known", map[string]any{"pnl": 2.0})
	require.NoError(t, err)
	require.True(t, updated)

	updated, err = b.UpdateExperienceOutcome(context.Background(), "missing", map[string]any{"pnl": 2.0})
	require.NoError(t, err)
	require.False(t, updated)
}

func TestStatus_ReportsCounters(t *testing.T) {
	mem := newFakeMemory()
	b := New(zap.NewNop(), testBrainConfig(), &fakeQueue{}, &fakeAnalyzer{}, &fakeEngine{proposed: confidentBuy("SOL")}, &fakeRisk{assessment: neutralAssessment()}, mem)

	b.ProcessEvent(context.Background(), testEvent("SOL", 100))

	status := b.Status(context.Background())
	require.False(t, status.Running)
	require.Equal(t, uint64(1), status.CyclesProcessed)
	require.NotNil(t, status.LastEventAt)
	require.NotNil(t, status.Memory)
}

func TestEmergencyStop_ClosesQueue(t *testing.T) {
	queue := &fakeQueue{}
	b := New(zap.NewNop(), testBrainConfig(), queue, &fakeAnalyzer{}, &fakeEngine{}, &fakeRisk{}, newFakeMemory())

	b.EmergencyStop()

	queue.mu.Lock()
	defer queue.mu.Unlock()
	require.True(t, queue.closed)
}
