package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"reminder-voice/internal/calls"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListForCall(ctx context.Context, callUUID string) ([]Event, error)
}

// Service records the call audit trail.
//
// Audit is internal-only and best-effort: failures are logged, never
// returned to the call lifecycle.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CallUUID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) ForCall(ctx context.Context, callUUID string) ([]Event, error) {
	return s.repo.ListForCall(ctx, callUUID)
}

// OnTransition implements calls.Observer.
func (s *Service) OnTransition(ctx context.Context, prev calls.Status, rec calls.Record) {
	e, ok := eventFor(prev, rec)
	if !ok {
		return
	}
	if err := s.Append(ctx, e); err != nil {
		s.log.Warn("audit append failed", "call_uuid", rec.CallUUID, "type", e.Type, "err", err)
	}
}

func eventFor(prev calls.Status, rec calls.Record) (Event, bool) {
	e := Event{
		CallUUID:   rec.CallUUID,
		UserID:     rec.UserID,
		PrevStatus: string(prev),
		Status:     string(rec.Status),
	}
	switch {
	case prev == "":
		e.Type = EventTypeCallCreated
		e.Message = "call queued"
	case rec.Status.IsTerminal() && !prev.IsTerminal():
		e.Type = EventTypeCallFinalized
		e.HangupCause = rec.HangupCause
		e.HangupSource = rec.HangupSource
		e.Message = "call finalized"
	case prev == rec.Status && rec.HangupCause != "":
		e.Type = EventTypeCallHangup
		e.HangupCause = rec.HangupCause
		e.HangupSource = rec.HangupSource
		e.Message = "provider hangup"
	case prev != rec.Status:
		e.Type = EventTypeCallStatus
	default:
		return Event{}, false
	}
	return e, true
}
