package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
)

// EquityStore is an in-memory implementation of storage.EquityStore.
type EquityStore struct {
	mu   sync.RWMutex
	data map[string]*domain.EquitySample // keyed by (run_id, timestamp)
}

// NewEquityStore creates a new in-memory equity store.
func NewEquityStore() *EquityStore {
	return &EquityStore{
		data: make(map[string]*domain.EquitySample),
	}
}

func equityKey(e *domain.EquitySample) string {
	return fmt.Sprintf("%s|%d", e.RunID, e.Timestamp.UnixNano())
}

// InsertBulk adds samples. Fails entire batch on duplicate (run_id, timestamp).
func (s *EquityStore) InsertBulk(_ context.Context, samples []*domain.EquitySample) error {
	if len(samples) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(samples))

	for _, e := range samples {
		if e == nil || e.RunID == "" {
			return storage.ErrInvalidInput
		}
		key := equityKey(e)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, e := range samples {
		sampleCopy := *e
		s.data[equityKey(e)] = &sampleCopy
	}

	return nil
}

// GetByRun retrieves all samples of a run, ordered by timestamp ASC.
func (s *EquityStore) GetByRun(_ context.Context, runID string) ([]*domain.EquitySample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EquitySample
	for _, e := range s.data {
		if e.RunID == runID {
			sampleCopy := *e
			result = append(result, &sampleCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	return result, nil
}

var _ storage.EquityStore = (*EquityStore)(nil)
