package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - call_uuid is required; every event belongs to one call.
// - Audit is best-effort; do not block call handling on audit failures.
type Event struct {
	ID       string    `json:"id" db:"id"`
	CallUUID string    `json:"call_uuid" db:"call_uuid"`
	UserID   string    `json:"user_id,omitempty" db:"user_id"`
	Type     EventType `json:"type" db:"type"`

	PrevStatus string `json:"prev_status,omitempty" db:"prev_status"`
	Status     string `json:"status,omitempty" db:"status"`

	// Hangup details as reported by the telephony provider.
	HangupCause  string `json:"hangup_cause,omitempty" db:"hangup_cause"`
	HangupSource string `json:"hangup_source,omitempty" db:"hangup_source"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallCreated   EventType = "call_created"
	EventTypeCallStatus    EventType = "call_status"
	EventTypeCallHangup    EventType = "call_hangup"
	EventTypeCallFinalized EventType = "call_finalized"
)
