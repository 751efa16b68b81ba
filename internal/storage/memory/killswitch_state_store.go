package memory

import (
	"context"
	"maps"
	"sync"

	"futures-risk-lab/internal/killswitch"
	"futures-risk-lab/internal/storage"
)

// KillSwitchStateStore is an in-memory implementation of storage.KillSwitchStateStore.
type KillSwitchStateStore struct {
	mu    sync.RWMutex
	state *killswitch.Status
}

// NewKillSwitchStateStore creates an empty state store.
func NewKillSwitchStateStore() *KillSwitchStateStore {
	return &KillSwitchStateStore{}
}

// Save overwrites the stored state.
func (s *KillSwitchStateStore) Save(_ context.Context, st killswitch.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.Context = maps.Clone(st.Context)
	s.state = &st
	return nil
}

// Load returns the stored state.
func (s *KillSwitchStateStore) Load(_ context.Context) (killswitch.Status, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return killswitch.Status{}, false, nil
	}
	st := *s.state
	st.Context = maps.Clone(st.Context)
	return st, true, nil
}

var _ storage.KillSwitchStateStore = (*KillSwitchStateStore)(nil)
