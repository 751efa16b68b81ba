package clickhouse

import (
	"context"
	"fmt"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
)

// EquityStore implements storage.EquityStore using ClickHouse.
type EquityStore struct {
	conn *Conn
}

// NewEquityStore creates a new EquityStore.
func NewEquityStore(conn *Conn) *EquityStore {
	return &EquityStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EquityStore = (*EquityStore)(nil)

// InsertBulk adds samples. Fails entire batch on duplicate (run_id, timestamp).
func (s *EquityStore) InsertBulk(ctx context.Context, samples []*domain.EquitySample) error {
	if len(samples) == 0 {
		return nil
	}

	type key struct {
		runID string
		ts    int64
	}
	seen := make(map[key]struct{}, len(samples))
	runs := make(map[string]struct{})
	for _, e := range samples {
		if e == nil || e.RunID == "" {
			return storage.ErrInvalidInput
		}
		k := key{e.RunID, e.Timestamp.UnixMilli()}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
		runs[e.RunID] = struct{}{}
	}

	for runID := range runs {
		existing, err := s.GetByRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		for _, e := range existing {
			if _, dup := seen[key{runID, e.Timestamp.UnixMilli()}]; dup {
				return storage.ErrDuplicateKey
			}
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO equity_samples (
			run_id, timestamp, equity, realized_pnl, unrealized_pnl, open_positions
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range samples {
		err = batch.Append(
			e.RunID, e.Timestamp.UTC(),
			e.Equity, e.RealizedPnL, e.UnrealizedPnL, uint32(e.OpenPositions),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByRun retrieves all samples of a run, ordered by timestamp ASC.
func (s *EquityStore) GetByRun(ctx context.Context, runID string) ([]*domain.EquitySample, error) {
	query := `
		SELECT run_id, timestamp, equity, realized_pnl, unrealized_pnl, open_positions
		FROM equity_samples
		WHERE run_id = ?
		ORDER BY timestamp ASC
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query by run id: %w", err)
	}
	defer rows.Close()

	var samples []*domain.EquitySample
	for rows.Next() {
		var e domain.EquitySample
		var open uint32
		if err := rows.Scan(&e.RunID, &e.Timestamp, &e.Equity, &e.RealizedPnL, &e.UnrealizedPnL, &open); err != nil {
			return nil, fmt.Errorf("scan equity row: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		e.OpenPositions = int(open)
		samples = append(samples, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate equity rows: %w", err)
	}

	return samples, nil
}
