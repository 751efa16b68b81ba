// Package sqlite keeps local agent state in a single-file database so a
// restarted trader can recover its kill switch without a server database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"futures-risk-lab/internal/killswitch"
	"futures-risk-lab/internal/storage"
	"futures-risk-lab/internal/storage/migrations"
)

// DB wraps a sqlite handle.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path and ensures the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer; sqlite serializes anyway and :memory: is per connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	stmts, err := migrations.Statements(migrations.SqliteFS, "sqlite")
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return &DB{DB: db}, nil
}

// KillSwitchStateStore implements storage.KillSwitchStateStore using sqlite.
type KillSwitchStateStore struct {
	db  *DB
	now func() time.Time
}

// NewKillSwitchStateStore creates a new KillSwitchStateStore.
func NewKillSwitchStateStore(db *DB) *KillSwitchStateStore {
	return &KillSwitchStateStore{db: db, now: time.Now}
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
		INSERT INTO agent_state (id, kill_switch, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kill_switch = excluded.kill_switch, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, string(raw), s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("save kill switch state: %w", err)
	}
	return nil
}

// Load returns the stored state.
func (s *KillSwitchStateStore) Load(ctx context.Context) (killswitch.Status, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT kill_switch FROM agent_state WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return killswitch.Status{}, false, nil
	}
	if err != nil {
		return killswitch.Status{}, false, fmt.Errorf("load kill switch state: %w", err)
	}

	var st killswitch.Status
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return killswitch.Status{}, false, fmt.Errorf("decode kill switch state: %w", err)
	}
	return st, true, nil
}
