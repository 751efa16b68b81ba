package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"futures-risk-lab/internal/killswitch"
	"futures-risk-lab/internal/storage"
)

// KillSwitchStateStore implements storage.KillSwitchStateStore on the
// single-row agent_state table.
type KillSwitchStateStore struct {
	pool *Pool
}

// NewKillSwitchStateStore creates a new KillSwitchStateStore.
func NewKillSwitchStateStore(pool *Pool) *KillSwitchStateStore {
	return &KillSwitchStateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.KillSwitchStateStore = (*KillSwitchStateStore)(nil)

// Save overwrites the stored state.
func (s *KillSwitchStateStore) Save(ctx context.Context, st killswitch.Status) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode kill switch state: %w", err)
	}

	query := `
		INSERT INTO agent_state (id, kill_switch, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET kill_switch = EXCLUDED.kill_switch, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, raw); err != nil {
		return fmt.Errorf("save kill switch state: %w", err)
	}
	return nil
}

// Load returns the stored state.
func (s *KillSwitchStateStore) Load(ctx context.Context) (killswitch.Status, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT kill_switch FROM agent_state WHERE id = 1`).Scan(&raw)
	if err != nil {
		if isNotFoundError(err) {
			return killswitch.Status{}, false, nil
		}
		return killswitch.Status{}, false, fmt.Errorf("load kill switch state: %w", err)
	}

	var st killswitch.Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return killswitch.Status{}, false, fmt.Errorf("decode kill switch state: %w", err)
	}
	return st, true, nil
}
