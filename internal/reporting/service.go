package reporting

import (
	"context"
	"errors"

	"reminder-voice/internal/calls"
	"reminder-voice/internal/transcript"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// CallLister reads call records. *calls.Service implements it.
type CallLister interface {
	List(ctx context.Context, f calls.ListFilter) ([]calls.Record, error)
}

// TranscriptLister reads transcript metadata. *transcript.Store implements it.
type TranscriptLister interface {
	List(userID string) ([]transcript.Meta, error)
}

type Service struct {
	calls       CallLister
	transcripts TranscriptLister
}

// NewService builds a report service. transcripts may be nil, in which case
// summary tag counts stay empty.
func NewService(c CallLister, t TranscriptLister) *Service {
	return &Service{calls: c, transcripts: t}
}

func (s *Service) Outcomes(ctx context.Context, req OutcomeReportRequest) (OutcomeReport, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return OutcomeReport{}, ErrInvalidRequest
	}
	if s.calls == nil {
		return OutcomeReport{}, errors.New("reporting: call store not configured")
	}

	rows, err := s.calls.List(ctx, calls.ListFilter{UserID: req.UserID, From: req.Range.From, To: req.Range.To})
	if err != nil {
		return OutcomeReport{}, err
	}

	out := OutcomeReport{
		UserID:   req.UserID,
		Range:    req.Range,
		ByStatus: map[string]int{},
		Tags:     map[string]int{},
	}
	inRange := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		inRange[r.CallUUID] = struct{}{}
		out.TotalCalls++
		out.ByStatus[string(r.Status)]++
		switch {
		case !r.Status.IsTerminal():
			out.InFlightCalls++
		case r.Status.IsFailure():
			out.FailedCalls++
		default:
			out.ConnectedCalls++
		}
		if r.Status == calls.StatusCompletedConversation {
			out.MeaningfulCalls++
		}
	}

	if s.transcripts == nil || len(rows) == 0 {
		return out, nil
	}
	metas, err := s.transcripts.List(req.UserID)
	if err != nil {
		return OutcomeReport{}, err
	}
	for _, m := range metas {
		if _, ok := inRange[m.CallUUID]; !ok {
			continue
		}
		if m.HasSummary {
			out.SummarizedCalls++
		}
		for _, e := range m.Outcomes {
			out.Tags[string(e.Tag)]++
		}
		if m.CutOffDate != "" {
			out.CutOffDates++
		}
	}
	return out, nil
}
