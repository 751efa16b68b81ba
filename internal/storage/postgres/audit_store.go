package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/storage"
)

// AuditStore implements storage.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *Pool
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(pool *Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AuditStore = (*AuditStore)(nil)

// Insert appends an event. Returns ErrDuplicateKey if event_id exists.
func (s *AuditStore) Insert(ctx context.Context, e *domain.AuditEvent) error {
	if e == nil || e.EventID == "" || e.EventType == "" {
		return storage.ErrInvalidInput
	}

	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: metadata: %v", storage.ErrInvalidInput, err)
	}

	query := `
		INSERT INTO audit_logs (event_id, timestamp, event_type, severity, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.pool.Exec(ctx, query, e.EventID, e.Timestamp, e.EventType, e.Severity, e.Description, raw)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// GetByType retrieves events of a type, ordered by timestamp ASC.
func (s *AuditStore) GetByType(ctx context.Context, eventType string) ([]*domain.AuditEvent, error) {
	query := `
		SELECT event_id, timestamp, event_type, severity, description, metadata
		FROM audit_logs
		WHERE event_type = $1
		ORDER BY timestamp ASC, event_id ASC
	`
	rows, err := s.pool.Query(ctx, query, eventType)
	if err != nil {
		return nil, fmt.Errorf("get audit events by type: %w", err)
	}
	defer rows.Close()

	return scanAuditEvents(rows)
}

// GetByTimeRange retrieves events within [start, end] (inclusive), ordered by timestamp ASC.
func (s *AuditStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.AuditEvent, error) {
	query := `
		SELECT event_id, timestamp, event_type, severity, description, metadata
		FROM audit_logs
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp ASC, event_id ASC
	`
	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get audit events by time range: %w", err)
	}
	defer rows.Close()

	return scanAuditEvents(rows)
}

func scanAuditEvents(rows pgx.Rows) ([]*domain.AuditEvent, error) {
	var events []*domain.AuditEvent

	for rows.Next() {
		var e domain.AuditEvent
		var raw []byte
		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.EventType, &e.Severity, &e.Description, &raw); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return events, nil
}
