// Package experiences persists a durable journal of stored trading
// experiences. The vector index is the search surface; the journal is
// the recovery/audit trail.
package experiences

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/tradecortex/cortex/internal/domain"
)

const (
	defaultJournalDir      = "./wal/experiences"
	journalSegmentLimit    = 1000
	journalMaxSegments     = 10
	experienceKeyPrefix    = "experience_"
	outcomeUpdateKeyPrefix = "outcome_"
)

// JournalRecord is one journal entry together with its WAL position.
type JournalRecord struct {
	Index      uint64            `json:"index"`
	Experience domain.Experience `json:"experience"`
}

// WALStore journals experiences append-only. Outcome updates are written
// as separate entries so the history of an experience stays replayable.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes the journal under the provided directory.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultJournalDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "journal_",
		SegmentThreshold: journalSegmentLimit,
		MaxSegments:      journalMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init experience journal")
	}

	return &WALStore{wal: wal}, nil
}

// Append journals a newly stored experience.
func (s *WALStore) Append(exp domain.Experience) error {
	if s == nil || s.wal == nil {
		return errors.New("experience journal is not initialized")
	}
	if exp.ID == "" {
		return fmt.Errorf("experience id is required")
	}

	return s.write(experienceKeyPrefix+exp.ID, exp)
}

// AppendOutcome journals an outcome update for an existing experience.
func (s *WALStore) AppendOutcome(exp domain.Experience) error {
	if s == nil || s.wal == nil {
		return errors.New("experience journal is not initialized")
	}
	if exp.ID == "" {
		return fmt.Errorf("experience id is required")
	}

	return s.write(outcomeUpdateKeyPrefix+exp.ID, exp)
}

func (s *WALStore) write(key string, exp domain.Experience) error {
	payload, err := json.Marshal(exp)
	if err != nil {
		return errors.Wrap(err, "marshal experience")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// RecordsAfter returns all journal entries written after the provided
// WAL index, oldest first.
func (s *WALStore) RecordsAfter(index uint64) ([]JournalRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("experience journal is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]JournalRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil || (!strings.HasPrefix(key, experienceKeyPrefix) && !strings.HasPrefix(key, outcomeUpdateKeyPrefix)) {
			continue
		}
		var exp domain.Experience
		if err := json.Unmarshal(payload, &exp); err != nil {
			return nil, errors.Wrap(err, "decode experience record")
		}
		records = append(records, JournalRecord{Index: idx, Experience: exp})
	}

	return records, nil
}

// CurrentIndex returns the latest journal index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("experience journal is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
