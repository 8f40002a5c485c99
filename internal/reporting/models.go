package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// OutcomeReportRequest requests aggregated call outcomes.
// An empty UserID means every owner; callers must enforce owner isolation
// before building the request.
type OutcomeReportRequest struct {
	UserID string    `json:"user_id,omitempty"`
	Range  TimeRange `json:"range"`
}

type OutcomeReport struct {
	UserID string    `json:"user_id,omitempty"`
	Range  TimeRange `json:"range"`

	TotalCalls int `json:"total_calls"`
	// InFlightCalls have not reached a terminal status yet.
	InFlightCalls int `json:"in_flight_calls"`
	// ConnectedCalls reached the conversational pipeline.
	ConnectedCalls int `json:"connected_calls"`
	// MeaningfulCalls ended as completed_conversation.
	MeaningfulCalls int `json:"meaningful_calls"`
	// FailedCalls never reached the customer.
	FailedCalls int `json:"failed_calls"`

	ByStatus map[string]int `json:"by_status"`

	SummarizedCalls int            `json:"summarized_calls"`
	Tags            map[string]int `json:"tags"`
	// CutOffDates counts calls with a validated payment commitment date.
	CutOffDates int `json:"cut_off_dates"`
}
