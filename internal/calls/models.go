package calls

import (
	"encoding/json"
	"time"
)

// Record is the durable representation of one outreach attempt.
//
// Invariants:
// - CallUUID never changes once created.
// - Status only moves forward; a terminal status is final.
// - EndedAt is set exactly once, when Status becomes terminal.
// - HangupCause/HangupSource come only from the telephony provider callback.
type Record struct {
	CallUUID      string `json:"call_uuid" db:"call_uuid"`
	PhoneNumber   string `json:"phone_number" db:"phone_number"`
	CustomerName  string `json:"customer_name" db:"customer_name"`
	InvoiceNumber string `json:"invoice_number" db:"invoice_number"`
	UserID        string `json:"user_id" db:"user_id"`

	Status Status `json:"status" db:"status"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	HangupCause  string `json:"hangup_cause,omitempty" db:"hangup_cause"`
	HangupSource string `json:"hangup_source,omitempty" db:"hangup_source"`

	CustomData CustomData `json:"custom_data,omitempty" db:"custom_data"`

	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`
}

// CustomData carries the customer fields used to personalise a call.
// Values are opaque to the lifecycle; a few well-known keys are read for
// transcript headers and prompts.
type CustomData map[string]any

const (
	KeyCustomerName       = "customer_name"
	KeyInvoiceNumber      = "invoice_number"
	KeyInvoiceDate        = "invoice_date"
	KeyTotalAmount        = "total_amount"
	KeyOutstandingBalance = "outstanding_balance"
)

// String returns the value for key rendered as text, or "" when absent.
func (d CustomData) String(key string) string {
	v, ok := d[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// StringOr is String with a fallback for missing or empty values.
func (d CustomData) StringOr(key, fallback string) string {
	if s := d.String(key); s != "" {
		return s
	}
	return fallback
}

func (d CustomData) Clone() CustomData {
	if d == nil {
		return nil
	}
	out := make(CustomData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Status is the lifecycle label of a call record.
type Status string

// Network-level statuses, driven by the queue, the provider callbacks and the
// pipeline connection.
const (
	StatusQueued          Status = "queued"
	StatusInitiated       Status = "initiated"
	StatusCalling         Status = "calling"
	StatusConnected       Status = "connected"
	StatusGreetingPlaying Status = "greeting_playing"
	StatusInProgress      Status = "in_progress"
)

// Conversational outcomes produced by the classifier.
const (
	StatusAbandonedPreGreeting  Status = "abandoned_pre_greeting"
	StatusNoResponse            Status = "no_response"
	StatusAbandonedEarly        Status = "abandoned_early"
	StatusAbandonedPostGreeting Status = "abandoned_post_greeting"
	StatusCompletedPartial      Status = "completed_partial"
	StatusCompletedConversation Status = "completed_conversation"
)

// Failure outcomes set before a conversation ever starts.
const (
	StatusFailed       Status = "failed"
	StatusDeclined     Status = "declined"
	StatusInvalid      Status = "invalid"
	StatusOutOfService Status = "out_of_service"
	StatusNonexistent  Status = "nonexistent"
	StatusUnallocated  Status = "unallocated"
	StatusNotReachable Status = "not_reachable"
)

// progress ranks non-terminal statuses; transitions may not go backwards.
var progress = map[Status]int{
	StatusQueued:          0,
	StatusInitiated:       1,
	StatusCalling:         2,
	StatusConnected:       3,
	StatusGreetingPlaying: 4,
	StatusInProgress:      5,
}

var terminal = map[Status]struct{}{
	StatusAbandonedPreGreeting:  {},
	StatusNoResponse:            {},
	StatusAbandonedEarly:        {},
	StatusAbandonedPostGreeting: {},
	StatusCompletedPartial:      {},
	StatusCompletedConversation: {},
	StatusFailed:                {},
	StatusDeclined:              {},
	StatusInvalid:               {},
	StatusOutOfService:          {},
	StatusNonexistent:           {},
	StatusUnallocated:           {},
	StatusNotReachable:          {},
}

func (s Status) IsTerminal() bool {
	_, ok := terminal[s]
	return ok
}

func (s Status) IsValid() bool {
	if s.IsTerminal() {
		return true
	}
	_, ok := progress[s]
	return ok
}

// IsFailure reports whether s means the customer was never reached.
func (s Status) IsFailure() bool {
	switch s {
	case StatusFailed, StatusDeclined, StatusInvalid, StatusOutOfService,
		StatusNonexistent, StatusUnallocated, StatusNotReachable:
		return true
	}
	return false
}

// CanTransition reports whether a record in status from may move to status to.
// Terminal statuses never move. Non-terminal statuses move forward or stay.
func CanTransition(from, to Status) bool {
	if !to.IsValid() || from.IsTerminal() {
		return false
	}
	if to.IsTerminal() {
		return true
	}
	fr, ok := progress[from]
	if !ok {
		return false
	}
	return progress[to] >= fr
}

// Statuses returns every known status, non-terminal first.
func Statuses() []Status {
	return []Status{
		StatusQueued, StatusInitiated, StatusCalling, StatusConnected, StatusGreetingPlaying, StatusInProgress,
		StatusAbandonedPreGreeting, StatusNoResponse, StatusAbandonedEarly, StatusAbandonedPostGreeting,
		StatusCompletedPartial, StatusCompletedConversation,
		StatusFailed, StatusDeclined, StatusInvalid, StatusOutOfService, StatusNonexistent, StatusUnallocated, StatusNotReachable,
	}
}
