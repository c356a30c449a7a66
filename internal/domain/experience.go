package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ExperienceType tags every memory record so searches can be scoped.
const ExperienceType = "trading_experience"

// Experience is one persisted (situation, decision, outcome) triple.
// Outcome stays empty until an out-of-band update supplies it.
type Experience struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Situation  map[string]any `json:"situation"`
	Decision   Decision       `json:"decision"`
	Context    map[string]any `json:"context,omitempty"`
	Outcome    map[string]any `json:"outcome,omitempty"`
	HasOutcome bool           `json:"has_outcome"`
}

// TextRepresentation flattens the experience into the single line used for
// embedding: the core trade facts first, then any scalar context fields in
// deterministic order.
func (e Experience) TextRepresentation() string {
	parts := []string{
		fmt.Sprintf("Symbol: %v", valueOr(e.Situation, "symbol", "unknown")),
		fmt.Sprintf("Price: %v", valueOr(e.Situation, "price", "unknown")),
		fmt.Sprintf("Action: %s", e.Decision.Action),
		fmt.Sprintf("Confidence: %.2f", e.Decision.Confidence),
		fmt.Sprintf("Reasoning: %s", e.Decision.Reasoning),
	}

	keys := make([]string, 0, len(e.Context))
	for key := range e.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch v := e.Context[key].(type) {
		case string, int, int64, float64, bool:
			parts = append(parts, fmt.Sprintf("%s: %v", key, v))
		}
	}

	return strings.Join(parts, " | ")
}

func valueOr(m map[string]any, key string, fallback any) any {
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}

// ExperienceMatch is one similarity-search hit, ordered most similar first.
type ExperienceMatch struct {
	MemoryID   string         `json:"memory_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Similarity float64        `json:"similarity"`
}
