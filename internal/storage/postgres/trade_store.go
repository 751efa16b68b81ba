package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const insertTradeQuery = `
	INSERT INTO trades (
		trade_id, run_id, symbol, side, leverage,
		entry_time, entry_price, quantity, stop_loss, take_profit,
		exit_time, exit_price, fees, pnl, pnl_percent, status,
		strategy, signal_confidence, signal_reason
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15, $16,
		$17, $18, $19
	)
`

const selectTradeColumns = `
	SELECT
		trade_id, run_id, symbol, side, leverage,
		entry_time, entry_price, quantity, stop_loss, take_profit,
		exit_time, exit_price, fees, pnl, pnl_percent, status,
		strategy, signal_confidence, signal_reason
	FROM trades
`

func tradeArgs(t *domain.Trade) []any {
	return []any{
		t.TradeID, t.RunID, t.Symbol, string(t.Side), t.Leverage,
		t.EntryTime, t.EntryPrice, t.Quantity, t.StopLoss, t.TakeProfit,
		*t.ExitTime, *t.ExitPrice, t.Fees, *t.PnL, *t.PnLPercent, string(t.Status),
		t.Strategy, t.SignalConfidence, t.SignalReason,
	}
}

// validTrade reports whether t is closed with every exit field set.
func validTrade(t *domain.Trade) bool {
	return t != nil && t.TradeID != "" && !t.IsOpen() &&
		t.ExitTime != nil && t.ExitPrice != nil && t.PnL != nil && t.PnLPercent != nil
}

// Insert adds a closed trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	if !validTrade(t) {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, insertTradeQuery, tradeArgs(t)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeStore) InsertBulk(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	for _, t := range trades {
		if !validTrade(t) {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range trades {
		if _, err := tx.Exec(ctx, insertTradeQuery, tradeArgs(t)...); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(ctx context.Context, tradeID string) (*domain.Trade, error) {
	row := s.pool.QueryRow(ctx, selectTradeColumns+` WHERE trade_id = $1`, tradeID)
	t, err := scanTrade(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by id: %w", err)
	}
	return t, nil
}

// GetByRun retrieves all trades of a run, ordered by entry_time ASC, trade_id ASC.
func (s *TradeStore) GetByRun(ctx context.Context, runID string) ([]*domain.Trade, error) {
	rows, err := s.pool.Query(ctx, selectTradeColumns+`
		WHERE run_id = $1
		ORDER BY entry_time ASC, trade_id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("get trades by run: %w", err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}

// scanTrade scans a single row into a Trade.
func scanTrade(row pgx.Row) (*domain.Trade, error) {
	var t domain.Trade
	var side, status string
	var exitPrice, pnl, pnlPct float64
	var exitTime time.Time

	err := row.Scan(
		&t.TradeID, &t.RunID, &t.Symbol, &side, &t.Leverage,
		&t.EntryTime, &t.EntryPrice, &t.Quantity, &t.StopLoss, &t.TakeProfit,
		&exitTime, &exitPrice, &t.Fees, &pnl, &pnlPct, &status,
		&t.Strategy, &t.SignalConfidence, &t.SignalReason,
	)
	if err != nil {
		return nil, err
	}

	t.Side = domain.Side(side)
	t.Status = domain.TradeStatus(status)
	t.EntryTime = t.EntryTime.UTC()
	exitTime = exitTime.UTC()
	t.ExitTime = &exitTime
	t.ExitPrice = &exitPrice
	t.PnL = &pnl
	t.PnLPercent = &pnlPct
	return &t, nil
}
