package clickhouse

import (
	"context"
	"fmt"
	"time"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
)

// RunSummaryStore implements storage.RunSummaryStore using ClickHouse.
type RunSummaryStore struct {
	conn *Conn
}

// NewRunSummaryStore creates a new RunSummaryStore.
func NewRunSummaryStore(conn *Conn) *RunSummaryStore {
	return &RunSummaryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RunSummaryStore = (*RunSummaryStore)(nil)

const runSummaryColumns = `
	run_id, strategy, symbol, start_time, end_time,
	initial_capital, final_capital,
	total_trades, winning_trades, losing_trades, win_rate,
	total_pnl, total_pnl_percent, total_fees, net_pnl,
	average_win, average_loss, largest_win, largest_loss,
	profit_factor, sharpe_ratio, max_drawdown, max_drawdown_percent,
	recovery_factor, average_trade_duration_ms
`

// Insert adds a summary. Returns ErrDuplicateKey if run_id exists.
func (s *RunSummaryStore) Insert(ctx context.Context, m *domain.PerformanceMetrics) error {
	if m == nil || m.RunID == "" {
		return storage.ErrInvalidInput
	}

	exists, err := s.conn.exists(ctx, `SELECT count(*) FROM run_summaries WHERE run_id = ?`, m.RunID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO run_summaries (`+runSummaryColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		m.RunID, m.Strategy, m.Symbol, m.StartTime.UTC(), m.EndTime.UTC(),
		m.InitialCapital, m.FinalCapital,
		uint32(m.TotalTrades), uint32(m.WinningTrades), uint32(m.LosingTrades), m.WinRate,
		m.TotalPnL, m.TotalPnLPercent, m.TotalFees, m.NetPnL,
		m.AverageWin, m.AverageLoss, m.LargestWin, m.LargestLoss,
		m.ProfitFactor, m.SharpeRatio, m.MaxDrawdown, m.MaxDrawdownPercent,
		m.RecoveryFactor, m.AverageTradeDuration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByRunID retrieves a summary. Returns ErrNotFound if not exists.
func (s *RunSummaryStore) GetByRunID(ctx context.Context, runID string) (*domain.PerformanceMetrics, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+runSummaryColumns+` FROM run_summaries WHERE run_id = ? LIMIT 1`, runID)
	if err != nil {
		return nil, fmt.Errorf("query by run id: %w", err)
	}
	defer rows.Close()

	summaries, err := scanRunSummaries(rows)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, storage.ErrNotFound
	}
	return summaries[0], nil
}

// GetAll retrieves all summaries ordered by run_id ASC.
func (s *RunSummaryStore) GetAll(ctx context.Context) ([]*domain.PerformanceMetrics, error) {
	rows, err := s.conn.Query(ctx, `SELECT `+runSummaryColumns+` FROM run_summaries ORDER BY run_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}
	defer rows.Close()

	return scanRunSummaries(rows)
}

func scanRunSummaries(rows chRows) ([]*domain.PerformanceMetrics, error) {
	var summaries []*domain.PerformanceMetrics

	for rows.Next() {
		var m domain.PerformanceMetrics
		var total, wins, losses uint32
		var durationMs int64

		err := rows.Scan(
			&m.RunID, &m.Strategy, &m.Symbol, &m.StartTime, &m.EndTime,
			&m.InitialCapital, &m.FinalCapital,
			&total, &wins, &losses, &m.WinRate,
			&m.TotalPnL, &m.TotalPnLPercent, &m.TotalFees, &m.NetPnL,
			&m.AverageWin, &m.AverageLoss, &m.LargestWin, &m.LargestLoss,
			&m.ProfitFactor, &m.SharpeRatio, &m.MaxDrawdown, &m.MaxDrawdownPercent,
			&m.RecoveryFactor, &durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run summary row: %w", err)
		}

		m.StartTime = m.StartTime.UTC()
		m.EndTime = m.EndTime.UTC()
		m.TotalTrades = int(total)
		m.WinningTrades = int(wins)
		m.LosingTrades = int(losses)
		m.AverageTradeDuration = time.Duration(durationMs) * time.Millisecond
		summaries = append(summaries, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run summary rows: %w", err)
	}

	return summaries, nil
}
