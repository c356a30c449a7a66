// Package web exposes the operational HTTP surface of the brain:
// health, status, manual analysis, memory inspection and the emergency
// stop, plus an SSE stream of journaled experiences.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tradecortex/cortex/internal/brain"
	"github.com/tradecortex/cortex/internal/domain"
	"github.com/tradecortex/cortex/internal/storage/experiences"
)

const journalPollInterval = 2 * time.Second

type brainService interface {
	Status(ctx context.Context) brain.Status
	ManualAnalysis(ctx context.Context, event domain.MarketEvent) (brain.ManualAnalysisResult, error)
	UpdateExperienceOutcome(ctx context.Context, memoryID string, outcome map[string]any) (bool, error)
	Memory() brain.ExperienceMemory
	EmergencyStop()
}

type experienceJournal interface {
	RecordsAfter(index uint64) ([]experiences.JournalRecord, error)
}

// Server exposes the brain over HTTP.
type Server struct {
	Addr    string
	Brain   brainService
	Journal experienceJournal

	logger *zap.Logger
}

func NewServer(addr string, b brainService, journal experienceJournal, logger *zap.Logger) *Server {
	return &Server{Addr: addr, Brain: b, Journal: journal, logger: logger}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/memory/stats", s.handleMemoryStats)
	mux.HandleFunc("/memory/recent", s.handleMemoryRecent)
	mux.HandleFunc("/memory/outcome", s.handleMemoryOutcome)
	mux.HandleFunc("/emergency-stop", s.handleEmergencyStop)
	mux.HandleFunc("/experiences/stream", s.handleExperienceStream)

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("web server listening", zap.String("addr", s.Addr))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Brain.Status(r.Context()))
}

// handleAnalyze runs a manual analysis for an operator-supplied market
// event. The body uses the same shape as inbound queue events.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	event, err := domain.ParseMarketEvent(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.Brain.ManualAnalysis(r.Context(), event)
	if err != nil {
		s.logger.Error("manual analysis failed", zap.String("symbol", event.Symbol), zap.Error(err))
		http.Error(w, "analysis failed", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Brain.Memory().Stats(r.Context())
	if err != nil {
		s.logger.Error("memory stats failed", zap.Error(err))
		http.Error(w, "failed to fetch memory stats", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMemoryRecent(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := s.Brain.Memory().Recent(r.Context(), limit, r.URL.Query().Get("symbol"))
	if err != nil {
		s.logger.Error("recent memories fetch failed", zap.Error(err))
		http.Error(w, "failed to fetch recent experiences", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"experiences": entries,
		"count":       len(entries),
	})
}

type outcomeRequest struct {
	MemoryID string         `json:"memory_id"`
	Outcome  map[string]any `json:"outcome"`
}

func (s *Server) handleMemoryOutcome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req outcomeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MemoryID == "" {
		http.Error(w, "memory_id is required", http.StatusBadRequest)
		return
	}

	updated, err := s.Brain.UpdateExperienceOutcome(r.Context(), req.MemoryID, req.Outcome)
	if err != nil {
		s.logger.Error("outcome update failed", zap.String("memory_id", req.MemoryID), zap.Error(err))
		http.Error(w, "failed to update outcome", http.StatusInternalServerError)
		return
	}
	if !updated {
		http.Error(w, "experience not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"updated": true, "memory_id": req.MemoryID})
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.Brain.EmergencyStop()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "emergency stop executed",
		"timestamp": time.Now().UTC(),
	})
}

// handleExperienceStream pushes journaled experiences to the client as
// server-sent events, polling the journal for new entries.
func (s *Server) handleExperienceStream(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		http.Error(w, "experience journal not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// comment heartbeat every 30s so proxies keep the connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(journalPollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendRecords := func() error {
		records, err := s.Journal.RecordsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record.Experience)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "event: experience\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	// headers are already committed to the event stream, so failures
	// surface as an error event rather than an HTTP status
	if err := sendRecords(); err != nil {
		s.logger.Warn("experience stream initial load", zap.Error(err))
		fmt.Fprintf(w, "event: error\n")
		fmt.Fprintf(w, "data: %s\n\n", sseErrorPayload("failed to load experiences"))
		flusher.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendRecords(); err != nil {
				s.logger.Warn("experience stream poll", zap.Error(err))
			}
		}
	}
}

func sseErrorPayload(msg string) []byte {
	payload, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return []byte(`{"error":"internal"}`)
	}
	return payload
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}
