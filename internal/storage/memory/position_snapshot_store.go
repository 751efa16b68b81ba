package memory

import (
	"context"
	"sort"
	"sync"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
)

// PositionSnapshotStore is an in-memory implementation of storage.PositionSnapshotStore.
type PositionSnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PositionSnapshot // keyed by snapshot_id
}

// NewPositionSnapshotStore creates a new in-memory snapshot store.
func NewPositionSnapshotStore() *PositionSnapshotStore {
	return &PositionSnapshotStore{
		data: make(map[string]*domain.PositionSnapshot),
	}
}

// InsertBulk adds snapshots. Fails entire batch on duplicate snapshot_id.
func (s *PositionSnapshotStore) InsertBulk(_ context.Context, snaps []*domain.PositionSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(snaps))
	for _, p := range snaps {
		if p == nil || p.SnapshotID == "" || p.Source == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[p.SnapshotID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[p.SnapshotID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[p.SnapshotID] = struct{}{}
	}

	for _, p := range snaps {
		snapCopy := *p
		s.data[p.SnapshotID] = &snapCopy
	}

	return nil
}

// GetLatest retrieves the snapshots with the most recent taken_at for a source.
func (s *PositionSnapshotStore) GetLatest(_ context.Context, source string) ([]*domain.PositionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.PositionSnapshot
	for _, p := range s.data {
		if p.Source == source && (latest == nil || p.TakenAt.After(latest.TakenAt)) {
			latest = p
		}
	}

	result := []*domain.PositionSnapshot{}
	if latest == nil {
		return result, nil
	}
	for _, p := range s.data {
		if p.Source == source && p.TakenAt.Equal(latest.TakenAt) {
			snapCopy := *p
			result = append(result, &snapCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})

	return result, nil
}

var _ storage.PositionSnapshotStore = (*PositionSnapshotStore)(nil)
