package storage

import (
	"context"
	"time"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/killswitch"
)

// TradeStore provides access to closed trade records.
// Trades are written once, after they leave the open state.
type TradeStore interface {
	// Insert adds a closed trade. Returns ErrDuplicateKey if trade_id exists,
	// ErrInvalidInput for an open trade or an empty ID.
	Insert(ctx context.Context, t *domain.Trade) error

	// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, trades []*domain.Trade) error

	// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.Trade, error)

	// GetByRun retrieves all trades of a run, ordered by entry_time ASC, trade_id ASC.
	GetByRun(ctx context.Context, runID string) ([]*domain.Trade, error)
}

// EquityStore provides access to equity curve samples.
type EquityStore interface {
	// InsertBulk adds samples. Fails entire batch on duplicate (run_id, timestamp).
	InsertBulk(ctx context.Context, samples []*domain.EquitySample) error

	// GetByRun retrieves all samples of a run, ordered by timestamp ASC.
	GetByRun(ctx context.Context, runID string) ([]*domain.EquitySample, error)
}

// RunSummaryStore provides access to per-run performance summaries.
type RunSummaryStore interface {
	// Insert adds a summary. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, m *domain.PerformanceMetrics) error

	// GetByRunID retrieves a summary. Returns ErrNotFound if not exists.
	GetByRunID(ctx context.Context, runID string) (*domain.PerformanceMetrics, error)

	// GetAll retrieves all summaries ordered by run_id ASC.
	GetAll(ctx context.Context) ([]*domain.PerformanceMetrics, error)
}

// BarStore provides access to market data bars.
type BarStore interface {
	// InsertBulk adds bars for a symbol. Fails entire batch on duplicate (symbol, timestamp).
	InsertBulk(ctx context.Context, symbol string, bars []domain.Bar) error

	// GetByTimeRange retrieves bars within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// AuditStore provides access to the audit log.
type AuditStore interface {
	// Insert appends an event. Returns ErrDuplicateKey if event_id exists.
	Insert(ctx context.Context, e *domain.AuditEvent) error

	// GetByType retrieves events of a type, ordered by timestamp ASC.
	GetByType(ctx context.Context, eventType string) ([]*domain.AuditEvent, error)

	// GetByTimeRange retrieves events within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.AuditEvent, error)
}

// PositionSnapshotStore provides access to position snapshots.
type PositionSnapshotStore interface {
	// InsertBulk adds snapshots. Fails entire batch on duplicate snapshot_id.
	InsertBulk(ctx context.Context, snaps []*domain.PositionSnapshot) error

	// GetLatest retrieves the snapshots with the most recent taken_at for a
	// source, ordered by symbol ASC. Returns an empty slice if none exist.
	GetLatest(ctx context.Context, source string) ([]*domain.PositionSnapshot, error)
}

// KillSwitchStateStore persists the kill switch across restarts.
// Unlike the other stores it holds a single mutable record.
type KillSwitchStateStore interface {
	// Save overwrites the stored state.
	Save(ctx context.Context, s killswitch.Status) error

	// Load returns the stored state. ok is false if nothing was saved yet.
	Load(ctx context.Context) (s killswitch.Status, ok bool, err error)
}
