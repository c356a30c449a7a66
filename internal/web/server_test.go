package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradecortex/cortex/internal/brain"
	"github.com/tradecortex/cortex/internal/domain"
	"github.com/tradecortex/cortex/internal/services/memory"
	"github.com/tradecortex/cortex/internal/storage/experiences"
)

type stubMemory struct {
	recentLimit  int
	recentSymbol string
}

func (s *stubMemory) Store(context.Context, domain.Experience) (string, error) { return "id", nil }

func (s *stubMemory) Search(context.Context, string, int, map[string]any) ([]domain.ExperienceMatch, error) {
	return nil, nil
}

func (s *stubMemory) Recent(_ context.Context, limit int, symbol string) ([]domain.ExperienceMatch, error) {
	s.recentLimit = limit
	s.recentSymbol = symbol
	return []domain.ExperienceMatch{{MemoryID: "m1", Content: "past trade"}}, nil
}

func (s *stubMemory) UpdateOutcome(context.Context, string, map[string]any) (bool, error) {
	return false, nil
}

func (s *stubMemory) Stats(context.Context) (memory.Stats, error) {
	return memory.Stats{TotalExperiences: 7}, nil
}

func (s *stubMemory) Clear(context.Context, bool) error { return nil }

type stubBrain struct {
	memory        *stubMemory
	analyzed      []string
	outcomeIDs    []string
	knownOutcome  string
	emergencyHits int
}

func newStubBrain() *stubBrain {
	return &stubBrain{memory: &stubMemory{}, knownOutcome: "known"}
}

func (s *stubBrain) Status(context.Context) brain.Status {
	return brain.Status{Running: true, CyclesProcessed: 3}
}

func (s *stubBrain) ManualAnalysis(_ context.Context, event domain.MarketEvent) (brain.ManualAnalysisResult, error) {
	s.analyzed = append(s.analyzed, event.Symbol)
	return brain.ManualAnalysisResult{
		Symbol:    event.Symbol,
		Decision:  domain.Decision{Symbol: event.Symbol, Action: domain.ActionBuy, Confidence: 0.7},
		Timestamp: time.Now().UTC(),
	}, nil
}

func (s *stubBrain) UpdateExperienceOutcome(_ context.Context, memoryID string, _ map[string]any) (bool, error) {
	s.outcomeIDs = append(s.outcomeIDs, memoryID)
	return memoryID == s.knownOutcome, nil
}

func (s *stubBrain) Memory() brain.ExperienceMemory { return s.memory }

func (s *stubBrain) EmergencyStop() { s.emergencyHits++ }

type stubJournal struct {
	records []experiences.JournalRecord
	err     error
}

func (s *stubJournal) RecordsAfter(index uint64) ([]experiences.JournalRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []experiences.JournalRecord
	for _, record := range s.records {
		if record.Index > index {
			out = append(out, record)
		}
	}
	return out, nil
}

func newTestServer(b *stubBrain) *Server {
	return NewServer(":0", b, &stubJournal{}, zap.NewNop())
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(newStubBrain())

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "healthy")
}

func TestHandleStatus(t *testing.T) {
	srv := newTestServer(newStubBrain())

	rec := httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var status brain.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.True(t, status.Running)
	require.Equal(t, uint64(3), status.CyclesProcessed)
}

func TestHandleAnalyze_MethodAndBodyValidation(t *testing.T) {
	b := newStubBrain()
	srv := newTestServer(b)

	rec := httptest.NewRecorder()
	srv.handleAnalyze(rec, httptest.NewRequest(http.MethodGet, "/analyze", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	srv.handleAnalyze(rec, httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"symbol": "SOL"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, b.analyzed)
}

func TestHandleAnalyze_ValidEvent(t *testing.T) {
	b := newStubBrain()
	srv := newTestServer(b)

	rec := httptest.NewRecorder()
	srv.handleAnalyze(rec, httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(`{"symbol": "SOL", "price": 100.5}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"SOL"}, b.analyzed)

	var result brain.ManualAnalysisResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "SOL", result.Symbol)
	require.Equal(t, domain.ActionBuy, result.Decision.Action)
}

func TestHandleMemoryStats(t *testing.T) {
	srv := newTestServer(newStubBrain())

	rec := httptest.NewRecorder()
	srv.handleMemoryStats(rec, httptest.NewRequest(http.MethodGet, "/memory/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var stats memory.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 7, stats.TotalExperiences)
}

func TestHandleMemoryRecent_LimitValidation(t *testing.T) {
	b := newStubBrain()
	srv := newTestServer(b)

	rec := httptest.NewRecorder()
	srv.handleMemoryRecent(rec, httptest.NewRequest(http.MethodGet, "/memory/recent?limit=abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.handleMemoryRecent(rec, httptest.NewRequest(http.MethodGet, "/memory/recent?limit=-1", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.handleMemoryRecent(rec, httptest.NewRequest(http.MethodGet, "/memory/recent?limit=5&symbol=SOL", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5, b.memory.recentLimit)
	require.Equal(t, "SOL", b.memory.recentSymbol)
	require.Contains(t, rec.Body.String(), `"count":1`)
}

func TestHandleMemoryOutcome(t *testing.T) {
	b := newStubBrain()
	srv := newTestServer(b)

	rec := httptest.NewRecorder()
	srv.handleMemoryOutcome(rec, httptest.NewRequest(http.MethodPost, "/memory/outcome", strings.NewReader(`{"outcome": {"pnl": 1}}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.handleMemoryOutcome(rec, httptest.NewRequest(http.MethodPost, "/memory/outcome", strings.NewReader(`{"memory_id": "missing", "outcome": {"pnl": 1}}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.handleMemoryOutcome(rec, httptest.NewRequest(http.MethodPost, "/memory/outcome", strings.NewReader(`{"memory_id": "known", "outcome": {"pnl": 1}}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"updated":true`)
}

func TestHandleEmergencyStop(t *testing.T) {
	b := newStubBrain()
	srv := newTestServer(b)

	rec := httptest.NewRecorder()
	srv.handleEmergencyStop(rec, httptest.NewRequest(http.MethodGet, "/emergency-stop", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Zero(t, b.emergencyHits)

	rec = httptest.NewRecorder()
	srv.handleEmergencyStop(rec, httptest.NewRequest(http.MethodPost, "/emergency-stop", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, b.emergencyHits)
}

func TestHandleExperienceStream_InitialRecords(t *testing.T) {
	b := newStubBrain()
	journal := &stubJournal{records: []experiences.JournalRecord{
		{Index: 1, Experience: domain.Experience{ID: "exp-1", Decision: domain.Decision{Symbol: "SOL", Action: domain.ActionBuy}}},
	}}
	srv := NewServer(":0", b, journal, zap.NewNop())

	// initial records are flushed before the poll loop, so a short
	// deadline ends the handler right after them
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/experiences/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleExperienceStream(rec, req)

	body := rec.Body.String()
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Contains(t, body, "event: experience")
	require.Contains(t, body, `"exp-1"`)
}

func TestHandleExperienceStream_InitialLoadFailureSendsErrorEvent(t *testing.T) {
	journal := &stubJournal{err: errors.New("journal unavailable")}
	srv := NewServer(":0", newStubBrain(), journal, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/experiences/stream", nil)
	rec := httptest.NewRecorder()

	srv.handleExperienceStream(rec, req)

	// the stream is already committed, so the failure arrives in-band
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "event: error")
	require.Contains(t, body, `"failed to load experiences"`)
}
