package domain

import "time"

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// AuditEvent is an append-only record of a safety-relevant event.
type AuditEvent struct {
	EventID     string
	Timestamp   time.Time
	EventType   string // trade_open, trade_close, kill_switch_trip, reconciliation, ...
	Severity    string
	Description string
	Metadata    map[string]any
}
