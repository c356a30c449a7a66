// Package memory is the long-term experience store of the brain. Every
// decision cycle is embedded and indexed for similarity search, and
// journaled for durability. Later outcome reports are merged back into
// the stored entries.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tradecortex/cortex/internal/clients"
	"github.com/tradecortex/cortex/internal/domain"
	"github.com/tradecortex/cortex/internal/storage/experiences"
)

// metadata keys shared between store and retrieval paths
const (
	metaMemoryID       = "memory_id"
	metaTimestamp      = "timestamp"
	metaSymbol         = "symbol"
	metaAction         = "action"
	metaConfidence     = "confidence"
	metaType           = "type"
	metaHasOutcome     = "has_outcome"
	metaOutcome        = "outcome"
	metaOutcomeUpdated = "outcome_updated"
)

// Stats summarizes the memory contents.
type Stats struct {
	TotalExperiences int    `json:"total_experiences"`
	JournalEntries   uint64 `json:"journal_entries"`
}

// Service stores and retrieves trading experiences. The mutex serializes
// read-modify-write outcome updates against concurrent stores.
type Service struct {
	logger   *zap.Logger
	embedder clients.Embedder
	index    clients.VectorIndex
	journal  *experiences.WALStore

	mu sync.Mutex
}

func NewService(logger *zap.Logger, embedder clients.Embedder, index clients.VectorIndex, journal *experiences.WALStore) *Service {
	return &Service{
		logger:   logger,
		embedder: embedder,
		index:    index,
		journal:  journal,
	}
}

// Store embeds and indexes the experience, assigning an id when absent,
// and journals it. The returned id identifies the entry for later
// outcome updates.
func (s *Service) Store(ctx context.Context, exp domain.Experience) (string, error) {
	if exp.ID == "" {
		exp.ID = uuid.New().String()
	}
	if exp.Timestamp.IsZero() {
		exp.Timestamp = time.Now().UTC()
	}

	text := exp.TextRepresentation()

	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return "", errors.Wrap(err, "failed to embed experience")
	}

	metadata := map[string]any{
		metaMemoryID:   exp.ID,
		metaTimestamp:  exp.Timestamp.Format(time.RFC3339),
		metaSymbol:     exp.Decision.Symbol,
		metaAction:     string(exp.Decision.Action),
		metaConfidence: exp.Decision.Confidence,
		metaType:       domain.ExperienceType,
		metaHasOutcome: exp.HasOutcome,
	}
	if exp.HasOutcome && exp.Outcome != nil {
		if outcomeJSON, err := json.Marshal(exp.Outcome); err == nil {
			metadata[metaOutcome] = string(outcomeJSON)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Add(ctx, exp.ID, embedding, text, metadata); err != nil {
		return "", errors.Wrap(err, "failed to index experience")
	}

	if s.journal != nil {
		if err := s.journal.Append(exp); err != nil {
			// the index already holds the entry, journaling is best effort
			s.logger.Warn("failed to journal experience", zap.String("id", exp.ID), zap.Error(err))
		}
	}

	s.logger.Info("experience stored",
		zap.String("id", exp.ID),
		zap.String("symbol", exp.Decision.Symbol),
		zap.String("action", string(exp.Decision.Action)))

	return exp.ID, nil
}

// Search returns up to topK experiences most similar to the query text.
// Filters restrict results by metadata equality and are applied by the
// index. Similarity is 1 minus the index distance.
func (s *Service) Search(ctx context.Context, query string, topK int, filters map[string]any) ([]domain.ExperienceMatch, error) {
	if topK <= 0 {
		topK = 5
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}

	hits, err := s.index.Query(ctx, embedding, topK, filters)
	if err != nil {
		return nil, errors.Wrap(err, "similarity search failed")
	}

	matches := make([]domain.ExperienceMatch, 0, len(hits))
	for _, hit := range hits {
		matches = append(matches, domain.ExperienceMatch{
			MemoryID:   hit.ID,
			Content:    hit.Document,
			Metadata:   hit.Metadata,
			Similarity: 1 - hit.Distance,
		})
	}
	return matches, nil
}

// Recent returns up to limit stored experiences, newest first. A
// non-empty symbol restricts the listing to that instrument.
func (s *Service) Recent(ctx context.Context, limit int, symbol string) ([]domain.ExperienceMatch, error) {
	if limit <= 0 {
		limit = 10
	}

	where := map[string]any{metaType: domain.ExperienceType}
	if symbol != "" {
		where[metaSymbol] = symbol
	}

	docs, err := s.index.List(ctx, where, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list experiences")
	}

	sort.Slice(docs, func(i, j int) bool {
		return metadataTimestamp(docs[i].Metadata) > metadataTimestamp(docs[j].Metadata)
	})
	if len(docs) > limit {
		docs = docs[:limit]
	}

	entries := make([]domain.ExperienceMatch, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, domain.ExperienceMatch{
			MemoryID: doc.ID,
			Content:  doc.Document,
			Metadata: doc.Metadata,
		})
	}
	return entries, nil
}

// UpdateOutcome merges an outcome report into a stored experience. It
// returns false without error when no experience has the id.
func (s *Service) UpdateOutcome(ctx context.Context, id string, outcome map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.index.Get(ctx, id)
	if err != nil {
		return false, errors.Wrap(err, "failed to fetch experience")
	}
	if doc == nil {
		return false, nil
	}

	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata[metaHasOutcome] = true
	metadata[metaOutcomeUpdated] = time.Now().UTC().Format(time.RFC3339)
	if outcomeJSON, err := json.Marshal(outcome); err == nil {
		metadata[metaOutcome] = string(outcomeJSON)
	}

	if err := s.index.UpdateMetadata(ctx, id, doc.Document, metadata); err != nil {
		return false, errors.Wrap(err, "failed to update experience")
	}

	if s.journal != nil {
		if err := s.journal.AppendOutcome(domain.Experience{
			ID:         id,
			Timestamp:  time.Now().UTC(),
			Outcome:    outcome,
			HasOutcome: true,
		}); err != nil {
			s.logger.Warn("failed to journal outcome update", zap.String("id", id), zap.Error(err))
		}
	}

	s.logger.Info("experience outcome updated", zap.String("id", id))
	return true, nil
}

// Stats reports the size of the memory.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	count, err := s.index.Count(ctx)
	if err != nil {
		return Stats{}, errors.Wrap(err, "failed to count experiences")
	}

	stats := Stats{TotalExperiences: count}
	if s.journal != nil {
		stats.JournalEntries = s.journal.CurrentIndex()
	}
	return stats, nil
}

// Clear wipes the vector index. The confirm flag is a deliberate
// speed bump against accidental calls.
func (s *Service) Clear(ctx context.Context, confirm bool) error {
	if !confirm {
		return errors.New("refusing to clear experience memory without confirmation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Reset(ctx); err != nil {
		return errors.Wrap(err, "failed to clear experience memory")
	}

	s.logger.Warn("experience memory cleared")
	return nil
}

func metadataTimestamp(metadata map[string]any) string {
	if metadata == nil {
		return ""
	}
	if ts, ok := metadata[metaTimestamp].(string); ok {
		return ts
	}
	return ""
}
