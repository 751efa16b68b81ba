package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
)

// AuditStore is an in-memory implementation of storage.AuditStore.
type AuditStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AuditEvent // keyed by event_id
}

// NewAuditStore creates a new in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{
		data: make(map[string]*domain.AuditEvent),
	}
}

func copyEvent(e *domain.AuditEvent) *domain.AuditEvent {
	eventCopy := *e
	eventCopy.Metadata = maps.Clone(e.Metadata)
	return &eventCopy
}

// Insert appends an event. Returns ErrDuplicateKey if event_id exists.
func (s *AuditStore) Insert(_ context.Context, e *domain.AuditEvent) error {
	if e == nil || e.EventID == "" || e.EventType == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.EventID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[e.EventID] = copyEvent(e)
	return nil
}

// GetByType retrieves events of a type, ordered by timestamp ASC.
func (s *AuditStore) GetByType(_ context.Context, eventType string) ([]*domain.AuditEvent, error) {
	return s.filter(func(e *domain.AuditEvent) bool { return e.EventType == eventType }), nil
}

// GetByTimeRange retrieves events within [start, end] (inclusive), ordered by timestamp ASC.
func (s *AuditStore) GetByTimeRange(_ context.Context, start, end time.Time) ([]*domain.AuditEvent, error) {
	return s.filter(func(e *domain.AuditEvent) bool {
		return !e.Timestamp.Before(start) && !e.Timestamp.After(end)
	}), nil
}

func (s *AuditStore) filter(keep func(*domain.AuditEvent) bool) []*domain.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AuditEvent
	for _, e := range s.data {
		if keep(e) {
			result = append(result, copyEvent(e))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.Before(result[j].Timestamp)
		}
		return result[i].EventID < result[j].EventID
	})

	return result
}

var _ storage.AuditStore = (*AuditStore)(nil)
