package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidArgument = errors.New("calls: invalid argument")
	ErrTerminal        = errors.New("calls: call already terminal")
	ErrBackwards       = errors.New("calls: status transition not allowed")
)

// Observer is told about every applied record change.
// Observers run after the write and must not block for long.
type Observer interface {
	OnTransition(ctx context.Context, prev Status, rec Record)
}

// NewCall is the input for Create.
type NewCall struct {
	PhoneNumber string
	UserID      string
	CustomData  CustomData
}

// Service owns every write to call records.
type Service struct {
	repo      Repository
	cache     StatusCache
	observers []Observer
	log       *slog.Logger
	clock     func() time.Time
	newID     func() string
}

type Option func(*Service)

func WithCache(c StatusCache) Option { return func(s *Service) { s.cache = c } }

func WithObservers(obs ...Observer) Option {
	return func(s *Service) { s.observers = append(s.observers, obs...) }
}

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.clock = now } }

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		cache: NewMemoryCache(),
		log:   slog.Default(),
		clock: time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, in NewCall) (Record, error) {
	phone := strings.TrimSpace(in.PhoneNumber)
	if phone == "" {
		return Record{}, fmt.Errorf("%w: phone_number required", ErrInvalidArgument)
	}
	if in.UserID == "" {
		return Record{}, fmt.Errorf("%w: user_id required", ErrInvalidArgument)
	}
	data := in.CustomData.Clone()
	if data == nil {
		data = CustomData{}
	}
	rec := Record{
		CallUUID:      s.newID(),
		PhoneNumber:   phone,
		CustomerName:  data.String(KeyCustomerName),
		InvoiceNumber: data.String(KeyInvoiceNumber),
		UserID:        in.UserID,
		Status:        StatusQueued,
		CreatedAt:     s.clock().UTC(),
		CustomData:    data,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return Record{}, err
	}
	s.cacheSet(ctx, rec.CallUUID, rec.Status)
	s.notify(ctx, "", rec)
	return rec, nil
}

func (s *Service) Get(ctx context.Context, callUUID string) (Record, error) {
	return s.repo.Get(ctx, callUUID)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Record, error) {
	return s.repo.List(ctx, f)
}

// Status reads through the cache for in-flight calls.
func (s *Service) Status(ctx context.Context, callUUID string) (Status, error) {
	if st, ok, err := s.cache.Get(ctx, callUUID); err == nil && ok {
		return st, nil
	} else if err != nil {
		s.log.Warn("status cache read failed", "call_uuid", callUUID, "err", err)
	}
	rec, err := s.repo.Get(ctx, callUUID)
	if err != nil {
		return "", err
	}
	if !rec.Status.IsTerminal() {
		s.cacheSet(ctx, callUUID, rec.Status)
	}
	return rec.Status, nil
}

// MarkProgress moves a call forward to a non-terminal status.
// Returns ErrTerminal if the call already ended and ErrBackwards for
// regressions; both leave the row untouched.
func (s *Service) MarkProgress(ctx context.Context, callUUID string, to Status) (Record, error) {
	if to.IsTerminal() || !to.IsValid() {
		return Record{}, fmt.Errorf("%w: %q is not a progress status", ErrInvalidArgument, to)
	}
	rec, err := s.update(ctx, callUUID, func(r *Record) error {
		if r.Status.IsTerminal() {
			return ErrTerminal
		}
		if !CanTransition(r.Status, to) {
			return ErrBackwards
		}
		if r.Status == to {
			return ErrNoChange
		}
		r.Status = to
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return rec, nil
	}
	return rec, err
}

// MarkDialed records the provider's call id and moves the call to calling.
func (s *Service) MarkDialed(ctx context.Context, callUUID, providerCallID string) (Record, error) {
	return s.update(ctx, callUUID, func(r *Record) error {
		if r.Status.IsTerminal() {
			return ErrTerminal
		}
		r.ProviderCallID = providerCallID
		if CanTransition(r.Status, StatusCalling) {
			r.Status = StatusCalling
		}
		return nil
	})
}

// MarkAnswered handles the provider's answer callback: the greeting starts
// playing. A call already past the greeting keeps its status. A non-empty
// providerCallID replaces the id stored at dial time.
func (s *Service) MarkAnswered(ctx context.Context, callUUID, providerCallID string) (Record, error) {
	rec, err := s.update(ctx, callUUID, func(r *Record) error {
		if r.Status.IsTerminal() {
			return ErrTerminal
		}
		changed := false
		if providerCallID != "" && r.ProviderCallID != providerCallID {
			r.ProviderCallID = providerCallID
			changed = true
		}
		if r.Status != StatusGreetingPlaying && CanTransition(r.Status, StatusGreetingPlaying) {
			r.Status = StatusGreetingPlaying
			changed = true
		}
		if !changed {
			return ErrNoChange
		}
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return rec, nil
	}
	return rec, err
}

// Finalize sets a terminal status. The first terminal write wins: when the
// call is already terminal it returns applied=false and no error.
func (s *Service) Finalize(ctx context.Context, callUUID string, status Status) (Record, bool, error) {
	if !status.IsTerminal() {
		return Record{}, false, fmt.Errorf("%w: %q is not terminal", ErrInvalidArgument, status)
	}
	rec, err := s.update(ctx, callUUID, func(r *Record) error {
		if r.Status.IsTerminal() {
			return ErrNoChange
		}
		now := s.clock().UTC()
		r.Status = status
		r.EndedAt = &now
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return rec, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// MarkFailed finalizes a call that never reached the customer.
func (s *Service) MarkFailed(ctx context.Context, callUUID string, reason error) (Record, bool, error) {
	s.log.Warn("call failed", "call_uuid", callUUID, "err", reason)
	return s.Finalize(ctx, callUUID, StatusFailed)
}

// Hangup is the provider's own report of how a call ended.
type Hangup struct {
	Cause  string
	Source string
}

// ApplyHangup stores the provider hangup details the first time they arrive.
// When finalize is true and the call is not yet terminal, the status is
// derived from the cause with StatusForHangup. finalized reports whether this
// call moved the record to a terminal status.
func (s *Service) ApplyHangup(ctx context.Context, callUUID string, h Hangup, finalize bool) (rec Record, finalized bool, err error) {
	rec, err = s.update(ctx, callUUID, func(r *Record) error {
		changed := false
		if r.HangupCause == "" && h.Cause != "" {
			r.HangupCause = h.Cause
			changed = true
		}
		if r.HangupSource == "" && h.Source != "" {
			r.HangupSource = h.Source
			changed = true
		}
		if finalize && !r.Status.IsTerminal() {
			now := s.clock().UTC()
			r.Status = StatusForHangup(r.Status, h.Cause)
			r.EndedAt = &now
			finalized = true
			changed = true
		}
		if !changed {
			return ErrNoChange
		}
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return rec, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, finalized, nil
}

func (s *Service) update(ctx context.Context, callUUID string, fn UpdateFunc) (Record, error) {
	var prev Status
	rec, err := s.repo.Update(ctx, callUUID, func(r *Record) error {
		prev = r.Status
		return fn(r)
	})
	if err != nil {
		return rec, err
	}
	if rec.Status.IsTerminal() {
		if err := s.cache.Invalidate(ctx, callUUID); err != nil {
			s.log.Warn("status cache invalidate failed", "call_uuid", callUUID, "err", err)
		}
	} else {
		s.cacheSet(ctx, callUUID, rec.Status)
	}
	s.notify(ctx, prev, rec)
	return rec, nil
}

func (s *Service) cacheSet(ctx context.Context, callUUID string, st Status) {
	if err := s.cache.Set(ctx, callUUID, st); err != nil {
		s.log.Warn("status cache write failed", "call_uuid", callUUID, "err", err)
	}
}

func (s *Service) notify(ctx context.Context, prev Status, rec Record) {
	for _, o := range s.observers {
		o.OnTransition(ctx, prev, rec)
	}
}
