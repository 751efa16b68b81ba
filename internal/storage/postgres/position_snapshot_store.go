package postgres

import (
	"context"
	"fmt"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
)

// PositionSnapshotStore implements storage.PositionSnapshotStore using PostgreSQL.
type PositionSnapshotStore struct {
	pool *Pool
}

// NewPositionSnapshotStore creates a new PositionSnapshotStore.
func NewPositionSnapshotStore(pool *Pool) *PositionSnapshotStore {
	return &PositionSnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionSnapshotStore = (*PositionSnapshotStore)(nil)

// InsertBulk adds snapshots. Fails entire batch on duplicate snapshot_id.
func (s *PositionSnapshotStore) InsertBulk(ctx context.Context, snaps []*domain.PositionSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	for _, p := range snaps {
		if p == nil || p.SnapshotID == "" || p.Source == "" {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO position_snapshots (
			snapshot_id, taken_at, source, symbol, side, quantity,
			entry_price, leverage, stop_loss, take_profit, entry_time,
			current_price, unrealized_pnl
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	for _, p := range snaps {
		_, err := tx.Exec(ctx, query,
			p.SnapshotID, p.TakenAt, p.Source, p.Symbol, string(p.Side), p.Quantity,
			p.EntryPrice, p.Leverage, p.StopLoss, p.TakeProfit, p.EntryTime,
			p.CurrentPrice, p.UnrealizedPnL,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert position snapshot: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetLatest retrieves the snapshots with the most recent taken_at for a source.
func (s *PositionSnapshotStore) GetLatest(ctx context.Context, source string) ([]*domain.PositionSnapshot, error) {
	query := `
		SELECT
			snapshot_id, taken_at, source, symbol, side, quantity,
			entry_price, leverage, stop_loss, take_profit, entry_time,
			current_price, unrealized_pnl
		FROM position_snapshots
		WHERE source = $1
		  AND taken_at = (SELECT max(taken_at) FROM position_snapshots WHERE source = $1)
		ORDER BY symbol ASC
	`

	rows, err := s.pool.Query(ctx, query, source)
	if err != nil {
		return nil, fmt.Errorf("get latest snapshots: %w", err)
	}
	defer rows.Close()

	result := []*domain.PositionSnapshot{}
	for rows.Next() {
		var p domain.PositionSnapshot
		var side string
		err := rows.Scan(
			&p.SnapshotID, &p.TakenAt, &p.Source, &p.Symbol, &side, &p.Quantity,
			&p.EntryPrice, &p.Leverage, &p.StopLoss, &p.TakeProfit, &p.EntryTime,
			&p.CurrentPrice, &p.UnrealizedPnL,
		)
		if err != nil {
			return nil, fmt.Errorf("scan position snapshot row: %w", err)
		}
		p.Side = domain.Side(side)
		p.TakenAt = p.TakenAt.UTC()
		p.EntryTime = p.EntryTime.UTC()
		result = append(result, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position snapshot rows: %w", err)
	}
	return result, nil
}
