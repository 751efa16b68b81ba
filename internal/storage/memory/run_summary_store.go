package memory

import (
	"context"
	"sort"
	"sync"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
)

// RunSummaryStore is an in-memory implementation of storage.RunSummaryStore.
type RunSummaryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PerformanceMetrics // keyed by run_id
}

// NewRunSummaryStore creates a new in-memory run summary store.
func NewRunSummaryStore() *RunSummaryStore {
	return &RunSummaryStore{
		data: make(map[string]*domain.PerformanceMetrics),
	}
}

// Insert adds a summary. Returns ErrDuplicateKey if run_id exists.
func (s *RunSummaryStore) Insert(_ context.Context, m *domain.PerformanceMetrics) error {
	if m == nil || m.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[m.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	summaryCopy := *m
	s.data[m.RunID] = &summaryCopy
	return nil
}

// GetByRunID retrieves a summary. Returns ErrNotFound if not exists.
func (s *RunSummaryStore) GetByRunID(_ context.Context, runID string) (*domain.PerformanceMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	summaryCopy := *m
	return &summaryCopy, nil
}

// GetAll retrieves all summaries ordered by run_id ASC.
func (s *RunSummaryStore) GetAll(_ context.Context) ([]*domain.PerformanceMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.PerformanceMetrics, 0, len(s.data))
	for _, m := range s.data {
		summaryCopy := *m
		result = append(result, &summaryCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].RunID < result[j].RunID
	})

	return result, nil
}

var _ storage.RunSummaryStore = (*RunSummaryStore)(nil)
