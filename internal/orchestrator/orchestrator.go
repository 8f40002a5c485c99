// Package orchestrator drives one call at a time through its lifecycle: it
// dials through the telephony provider, owns the per-call state while the
// conversational pipeline runs, and finalizes the call exactly once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reminder-voice/internal/callstate"
	"reminder-voice/internal/calls"
	"reminder-voice/internal/events"
	"reminder-voice/internal/prompts"
	"reminder-voice/internal/summary"
	"reminder-voice/internal/telephony"
	"reminder-voice/internal/transcript"
	"reminder-voice/pkg/logger"
)

var (
	ErrNoSession = errors.New("orchestrator: no active session for call")
	ErrFinished  = errors.New("orchestrator: call already finished")
)

// CallStore is the call record access the orchestrator needs.
// *calls.Service implements it.
type CallStore interface {
	Get(ctx context.Context, callUUID string) (calls.Record, error)
	MarkDialed(ctx context.Context, callUUID, providerCallID string) (calls.Record, error)
	MarkAnswered(ctx context.Context, callUUID, providerCallID string) (calls.Record, error)
	MarkProgress(ctx context.Context, callUUID string, to calls.Status) (calls.Record, error)
	Finalize(ctx context.Context, callUUID string, status calls.Status) (calls.Record, bool, error)
	ApplyHangup(ctx context.Context, callUUID string, h calls.Hangup, finalize bool) (calls.Record, bool, error)
}

// TranscriptPaths maps a call record to its transcript file.
type TranscriptPaths interface {
	PathFor(rec calls.Record) string
}

// OutcomePublisher announces finished calls.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, ev events.OutcomeEvent)
}

type Deps struct {
	Calls       CallStore
	Provider    telephony.Provider
	Transcripts TranscriptPaths
	Summaries   *summary.Generator
	Outcomes    OutcomePublisher
}

type Config struct {
	// PublicURL is the externally reachable base of the webhook routes.
	PublicURL  string
	FromNumber string
	Policy     prompts.Policy
	// HangupTimeout bounds the provider hangup request.
	HangupTimeout time.Duration
}

type Orchestrator struct {
	calls    CallStore
	provider telephony.Provider
	paths    TranscriptPaths
	gen      *summary.Generator
	outcomes OutcomePublisher
	cfg      Config
	log      *slog.Logger
	now      func() time.Time

	// afterFunc schedules the delayed provider hangup.
	afterFunc func(d time.Duration, f func())

	mu       sync.Mutex
	sessions map[string]*session

	// pending tracks finalizations started from provider callbacks.
	pending sync.WaitGroup
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.log = l } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func New(d Deps, cfg Config, opts ...Option) *Orchestrator {
	cfg.Policy = cfg.Policy.WithDefaults()
	if cfg.HangupTimeout <= 0 {
		cfg.HangupTimeout = 10 * time.Second
	}
	o := &Orchestrator{
		calls:    d.Calls,
		provider: d.Provider,
		paths:    d.Transcripts,
		gen:      d.Summaries,
		outcomes: d.Outcomes,
		cfg:      cfg,
		log:      slog.Default(),
		now:      time.Now,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
		sessions: map[string]*session{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.gen == nil {
		o.gen = summary.NewGenerator(nil, summary.WithLogger(o.log))
	}
	return o
}

// session is everything the orchestrator holds for one call. All fields are
// guarded by mu.
type session struct {
	mu       sync.Mutex
	callUUID string
	phase    Phase
	rec      calls.Record
	state    *callstate.State
	writer   *transcript.Writer
	idle     int
	log      *slog.Logger
}

func (o *Orchestrator) newSession(rec calls.Record) *session {
	return &session{
		callUUID: rec.CallUUID,
		phase:    PhaseDialing,
		rec:      rec,
		log:      logger.ForCall(o.log, rec.CallUUID),
	}
}

func (o *Orchestrator) lookup(callUUID string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[callUUID]
}

// lookupOrCreate returns the registered session, or registers one built from
// rec when the call was dialed by another process.
func (o *Orchestrator) lookupOrCreate(rec calls.Record) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[rec.CallUUID]; ok {
		return s
	}
	s := o.newSession(rec)
	o.sessions[rec.CallUUID] = s
	return s
}

func (o *Orchestrator) drop(callUUID string) {
	o.mu.Lock()
	delete(o.sessions, callUUID)
	o.mu.Unlock()
}

// Phase reports the phase of an active session.
func (o *Orchestrator) Phase(callUUID string) (Phase, bool) {
	s := o.lookup(callUUID)
	if s == nil {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, true
}

// Active is the number of calls with a live session.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// Dial places the outbound call for a queued record. A provider error is
// returned to the caller, which marks the call failed.
func (o *Orchestrator) Dial(ctx context.Context, rec calls.Record) error {
	if o.provider == nil {
		return telephony.ErrNotConfigured
	}
	s := o.lookupOrCreate(rec)
	answerURL, hangupURL := telephony.CallbackURLs(o.cfg.PublicURL, rec.CallUUID)

	res, err := o.provider.Dial(ctx, telephony.DialRequest{
		CallUUID:  rec.CallUUID,
		To:        rec.PhoneNumber,
		From:      o.cfg.FromNumber,
		AnswerURL: answerURL,
		HangupURL: hangupURL,
	})
	if err != nil {
		o.drop(rec.CallUUID)
		return fmt.Errorf("orchestrator: dial %s: %w", o.provider.Name(), err)
	}
	if _, err := o.calls.MarkDialed(ctx, rec.CallUUID, res.ProviderCallID); err != nil {
		o.drop(rec.CallUUID)
		return err
	}
	s.log.Info("call dialed", "provider", o.provider.Name(), "provider_call_id", res.ProviderCallID)
	return nil
}

// Answered handles the provider's answer callback.
func (o *Orchestrator) Answered(ctx context.Context, callUUID string, ev telephony.CallbackEvent) error {
	_, err := o.calls.MarkAnswered(ctx, callUUID, ev.ProviderCallID)
	return err
}

// SessionStart is what the pipeline needs to start talking.
type SessionStart struct {
	CallUUID     string             `json:"call_uuid"`
	Greeting     string             `json:"greeting"`
	SystemPrompt string             `json:"system_prompt"`
	Language     callstate.Language `json:"language"`
}

// Connect starts the call state when the pipeline stream opens: the clock
// starts, the transcript header is written and the greeting is marked as
// playing.
func (o *Orchestrator) Connect(ctx context.Context, callUUID string) (SessionStart, error) {
	rec, err := o.calls.Get(ctx, callUUID)
	if err != nil {
		return SessionStart{}, err
	}
	if rec.Status.IsTerminal() {
		return SessionStart{}, ErrFinished
	}

	s := o.lookupOrCreate(rec)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseTerminal {
		return SessionStart{}, ErrFinished
	}
	if err := s.advance(PhaseConnected); err != nil {
		return SessionStart{}, err
	}

	s.rec = rec
	s.writer = transcript.NewWriter(o.paths.PathFor(rec))
	s.state = callstate.New(callstate.Params{
		CallUUID:       rec.CallUUID,
		UserID:         rec.UserID,
		CustomData:     rec.CustomData,
		TranscriptPath: s.writer.Path(),
		Sink:           s.writer,
		Now:            o.now,
	})
	s.state.Start()
	if err := s.writer.WriteHeader(transcript.HeaderFromRecord(rec, s.state.StartedAt())); err != nil {
		s.log.Error("transcript header write failed", "path", s.writer.Path(), "err", err)
	}

	s.state.MarkGreetingStarted()
	if err := s.advance(PhaseGreetingPlaying); err != nil {
		return SessionStart{}, err
	}
	if _, err := o.calls.MarkProgress(ctx, callUUID, calls.StatusInProgress); err != nil && !errors.Is(err, calls.ErrBackwards) {
		s.log.Warn("mark in progress failed", "err", err)
	}

	greeting := prompts.Greeting(rec.CustomData)
	s.log.Info("pipeline connected", "transcript", s.writer.Path())
	return SessionStart{
		CallUUID:     callUUID,
		Greeting:     greeting,
		SystemPrompt: prompts.SystemPrompt(rec.CustomData, greeting, o.now()),
		Language:     s.state.Language(),
	}, nil
}

// active returns the locked session for a call that is in conversation or
// still playing the greeting. The caller must unlock it.
func (o *Orchestrator) active(callUUID string) (*session, error) {
	s := o.lookup(callUUID)
	if s == nil {
		return nil, ErrNoSession
	}
	s.mu.Lock()
	switch s.phase {
	case PhaseGreetingPlaying, PhaseInConversation:
		return s, nil
	case PhaseFinalizing, PhaseTerminal:
		s.mu.Unlock()
		return nil, ErrFinished
	}
	phase := s.phase
	s.mu.Unlock()
	return nil, fmt.Errorf("%w: call is %s", ErrNoSession, phase)
}

// GreetingCompleted is idempotent.
func (o *Orchestrator) GreetingCompleted(ctx context.Context, callUUID string) error {
	s, err := o.active(callUUID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	if !s.state.MarkGreetingCompleted() {
		return nil
	}
	s.log.Info("greeting completed")
	return s.advance(PhaseInConversation)
}

// Turn records one completed conversational turn. Assistant turns also
// update the detected language and feed the end-of-call detector.
func (o *Orchestrator) Turn(ctx context.Context, callUUID string, t callstate.Turn) error {
	s, err := o.active(callUUID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	return o.recordTurn(s, t)
}

func (o *Orchestrator) recordTurn(s *session, t callstate.Turn) error {
	if t.Speaker == callstate.SpeakerUser {
		s.idle = 0
	}
	if err := s.state.RecordTurn(t); err != nil {
		if errors.Is(err, callstate.ErrUnknownSpeaker) {
			return err
		}
		s.log.Error("transcript turn write failed", "err", err)
	}
	if t.Speaker == callstate.SpeakerAssistant {
		s.state.DetectAndUpdateLanguage(t.Text)
		o.detectEndCall(s, t.Text)
	}
	return nil
}

// Idle reacts to a silence timeout from the pipeline. The returned line is
// spoken to the customer; keepOpen is false once the closing line was used,
// and the closing line schedules the hangup.
func (o *Orchestrator) Idle(ctx context.Context, callUUID string) (line string, keepOpen bool, err error) {
	s, err := o.active(callUUID)
	if err != nil {
		return "", false, err
	}
	defer s.mu.Unlock()

	s.idle++
	line, keepOpen = o.cfg.Policy.IdleLine(s.idle)
	s.log.Info("user idle", "count", s.idle)
	if err := o.recordTurn(s, callstate.Turn{Speaker: callstate.SpeakerAssistant, Text: line, At: o.now()}); err != nil {
		return "", false, err
	}
	return line, keepOpen, nil
}

// detectEndCall schedules the provider hangup once per call, after the
// grace delay, when the assistant says a closing or escalation phrase.
func (o *Orchestrator) detectEndCall(s *session, text string) {
	if s.state.HangupTriggered() {
		return
	}
	kw, ok := o.cfg.Policy.MatchEndCall(text)
	if !ok {
		return
	}
	s.state.MarkGoodbye()
	if !s.state.TriggerHangup() {
		return
	}
	s.log.Info("end-call phrase detected, scheduling hangup", "keyword", kw, "grace", o.cfg.Policy.HangupGrace.String())
	callUUID := s.callUUID
	o.afterFunc(o.cfg.Policy.HangupGrace, func() { o.hangup(callUUID) })
}

func (o *Orchestrator) hangup(callUUID string) {
	log := logger.ForCall(o.log, callUUID)
	if o.provider == nil {
		log.Error("cannot hang up: no telephony provider")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.HangupTimeout)
	defer cancel()

	rec, err := o.calls.Get(ctx, callUUID)
	if err != nil {
		log.Error("cannot hang up: call lookup failed", "err", err)
		return
	}
	if rec.Status.IsTerminal() {
		return
	}
	if rec.ProviderCallID == "" {
		log.Error("cannot hang up: no provider call id")
		return
	}
	if err := o.provider.Hangup(ctx, rec.ProviderCallID); err != nil {
		log.Error("provider hangup failed", "err", err)
		return
	}
	log.Info("provider hangup requested", "provider_call_id", rec.ProviderCallID)
}

// Disconnect handles the pipeline closing its stream.
func (o *Orchestrator) Disconnect(ctx context.Context, callUUID string) error {
	s := o.lookup(callUUID)
	if s == nil {
		return nil
	}
	return o.finalize(ctx, s)
}

// ProviderHangup handles the provider's hangup callback. The cause is
// stored the first time it arrives. A call the pipeline never reached is
// finalized from the cause. A connected session is finalized in the
// background so the webhook is acknowledged without waiting on the
// summarizer; Wait blocks until that work is done.
func (o *Orchestrator) ProviderHangup(ctx context.Context, callUUID string, ev telephony.CallbackEvent) error {
	h := calls.Hangup{Cause: ev.Cause, Source: ev.Source}
	log := logger.ForCall(o.log, callUUID)

	if s := o.lookup(callUUID); s != nil {
		s.mu.Lock()
		if s.phase != PhaseDialing {
			s.mu.Unlock()
			if _, _, err := o.calls.ApplyHangup(ctx, callUUID, h, false); err != nil {
				log.Error("store hangup cause failed", "err", err)
			}
			o.pending.Add(1)
			go func() {
				defer o.pending.Done()
				if err := o.finalize(context.WithoutCancel(ctx), s); err != nil {
					log.Error("finalize after provider hangup failed", "err", err)
				}
			}()
			return nil
		}
		defer o.drop(callUUID)
		defer s.mu.Unlock()
		defer func() { _ = s.advance(PhaseTerminal) }()
	}

	rec, finalized, err := o.calls.ApplyHangup(ctx, callUUID, h, true)
	if err != nil {
		return err
	}
	if finalized {
		log.Info("call ended before the pipeline connected", "status", rec.Status, "cause", h.Cause)
	}
	return nil
}

// Wait blocks until background finalizations have finished.
func (o *Orchestrator) Wait() { o.pending.Wait() }

// finalize classifies the call, closes the transcript and writes the
// terminal status, in that order. Only the first caller does any work.
func (o *Orchestrator) finalize(ctx context.Context, s *session) (err error) {
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseDialing || s.phase >= PhaseFinalizing {
		return nil
	}
	if err := s.advance(PhaseFinalizing); err != nil {
		return err
	}
	defer o.drop(s.callUUID)
	defer func() { _ = s.advance(PhaseTerminal) }()

	status := calls.StatusFailed
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("orchestrator: finalize panic: %v", p)
			s.log.Error("finalize panicked", "err", err)
			_ = s.writer.AppendError(err)
			if _, _, ferr := o.calls.Finalize(ctx, s.callUUID, status); ferr != nil {
				s.log.Error("finalize after panic failed", "err", ferr)
			}
		}
	}()

	m := s.state.Metrics()
	firstReply, replied := s.state.FirstUserTurnAfter()
	status = callstate.Classify(m)
	if rec, err := o.calls.Get(ctx, s.callUUID); err == nil && rec.Status.IsTerminal() {
		s.log.Info("call already terminal, keeping recorded status", "status", rec.Status, "classified", status)
		status = rec.Status
	}

	if err := s.writer.WriteFooter(transcript.Footer{
		EndedAt:           o.now(),
		Status:            status,
		Duration:          m.Duration,
		UserTurns:         m.UserTurns,
		BotTurns:          m.BotTurns,
		GreetingCompleted: m.GreetingCompleted,
		Language:          s.state.Language(),
		FirstUserReply:    firstReply,
		UserReplied:       replied,
	}); err != nil {
		s.log.Error("transcript footer write failed", "err", err)
	}

	res, gerr := o.gen.Generate(ctx, s.writer, summary.Input{
		CallUUID:    s.callUUID,
		Outcome:     status,
		Metrics:     m,
		InvoiceDate: s.rec.CustomData.String(calls.KeyInvoiceDate),
		CallDate:    s.state.StartedAt(),
	})
	if gerr != nil {
		s.log.Warn("summary degraded", "kind", res.Kind, "err", gerr)
	}

	final, applied, err := o.calls.Finalize(ctx, s.callUUID, status)
	if err != nil {
		s.log.Error("call record finalize failed", "status", status, "err", err)
		return err
	}

	if o.outcomes != nil {
		tags := make([]string, 0, len(res.Outcomes))
		for _, t := range res.Outcomes {
			tags = append(tags, string(t))
		}
		o.outcomes.PublishOutcome(ctx, events.OutcomeEvent{
			CallUUID:    final.CallUUID,
			UserID:      final.UserID,
			Status:      final.Status,
			SummaryKind: string(res.Kind),
			Tags:        tags,
			CutOffDate:  res.CutOffDate,
		})
	}

	attrs := []any{
		"status", final.Status,
		"applied", applied,
		"summary", string(res.Kind),
		"user_turns", m.UserTurns,
		"bot_turns", m.BotTurns,
		"duration_s", m.Duration.Seconds(),
		"goodbye_detected", s.state.GoodbyeDetected(),
	}
	if replied {
		attrs = append(attrs, "first_user_reply_s", firstReply.Seconds())
	}
	s.log.Info("call finalized", attrs...)
	return nil
}
