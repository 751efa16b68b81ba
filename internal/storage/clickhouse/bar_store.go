package clickhouse

import (
	"context"
	"fmt"
	"time"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
)

// BarStore implements storage.BarStore using ClickHouse.
type BarStore struct {
	conn *Conn
}

// NewBarStore creates a new BarStore.
func NewBarStore(conn *Conn) *BarStore {
	return &BarStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// InsertBulk adds bars for a symbol. Fails entire batch on duplicate (symbol, timestamp).
func (s *BarStore) InsertBulk(ctx context.Context, symbol string, bars []domain.Bar) error {
	if symbol == "" {
		return storage.ErrInvalidInput
	}
	if len(bars) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[int64]struct{}, len(bars))
	for _, b := range bars {
		k := b.Timestamp.UnixMilli()
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	first, last := bars[0].Timestamp, bars[0].Timestamp
	for _, b := range bars {
		if b.Timestamp.Before(first) {
			first = b.Timestamp
		}
		if b.Timestamp.After(last) {
			last = b.Timestamp
		}
	}
	existing, err := s.GetByTimeRange(ctx, symbol, first, last)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	for _, b := range existing {
		if _, dup := seen[b.Timestamp.UnixMilli()]; dup {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO market_data (
			symbol, timestamp, open, high, low, close, volume, funding_rate
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, b := range bars {
		err = batch.Append(
			symbol, b.Timestamp.UTC(),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.FundingRate,
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

// GetByTimeRange retrieves bars within [start, end] (inclusive), ordered by timestamp ASC.
func (s *BarStore) GetByTimeRange(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	query := `
		SELECT timestamp, open, high, low, close, volume, funding_rate
		FROM market_data
		WHERE symbol = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// scanBars scans multiple rows.
func scanBars(rows chRows) ([]domain.Bar, error) {
	var bars []domain.Bar

	for rows.Next() {
		var b domain.Bar
		err := rows.Scan(
			&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.FundingRate,
		)
		if err != nil {
			return nil, fmt.Errorf("scan market data row: %w", err)
		}
		b.Timestamp = b.Timestamp.UTC()
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate market data rows: %w", err)
	}

	return bars, nil
}
