package callstate

import (
	"errors"
	"fmt"
	"time"

	"reminder-voice/internal/calls"
)

// Speaker tags who produced a conversational turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

func (s Speaker) Valid() bool {
	return s == SpeakerUser || s == SpeakerAssistant
}

// Label is the speaker tag used in transcripts.
func (s Speaker) Label() string {
	switch s {
	case SpeakerUser:
		return "USER"
	case SpeakerAssistant:
		return "ASSISTANT"
	}
	return "UNKNOWN"
}

// Turn is one completed conversational turn.
type Turn struct {
	Speaker Speaker
	Text    string
	At      time.Time
}

var ErrUnknownSpeaker = errors.New("callstate: unknown speaker")

// TurnSink persists turns as they are recorded.
type TurnSink interface {
	AppendTurn(t Turn) error
}

// Params seeds a State at connect time.
type Params struct {
	CallUUID       string
	UserID         string
	CustomData     calls.CustomData
	TranscriptPath string
	Sink           TurnSink
	Now            func() time.Time
}

// State accumulates the metrics of one active call.
//
// A State belongs to exactly one call and is not safe for concurrent use; the
// owning session serializes access.
type State struct {
	CallUUID       string
	UserID         string
	CustomData     calls.CustomData
	TranscriptPath string

	language Language

	userTurns int
	botTurns  int

	greetingStarted   bool
	greetingCompleted bool

	startedAt      time.Time
	firstUserAfter time.Duration
	sawUser        bool

	hangupTriggered bool
	goodbyeDetected bool

	sink TurnSink
	now  func() time.Time
}

func New(p Params) *State {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &State{
		CallUUID:       p.CallUUID,
		UserID:         p.UserID,
		CustomData:     p.CustomData.Clone(),
		TranscriptPath: p.TranscriptPath,
		language:       BaseLanguage,
		sink:           p.Sink,
		now:            now,
	}
}

// Start records the connect time. Only the first call has an effect.
func (s *State) Start() {
	if s.startedAt.IsZero() {
		s.startedAt = s.now()
	}
}

func (s *State) StartedAt() time.Time { return s.startedAt }

// Duration is the elapsed time since Start, or zero if the call never started.
func (s *State) Duration() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	d := s.now().Sub(s.startedAt)
	if d < 0 {
		return 0
	}
	return d
}

// MarkGreetingStarted reports whether the flag changed.
func (s *State) MarkGreetingStarted() bool {
	if s.greetingStarted {
		return false
	}
	s.greetingStarted = true
	return true
}

// MarkGreetingCompleted reports whether the flag changed.
func (s *State) MarkGreetingCompleted() bool {
	if s.greetingCompleted {
		return false
	}
	s.greetingCompleted = true
	return true
}

func (s *State) GreetingStarted() bool   { return s.greetingStarted }
func (s *State) GreetingCompleted() bool { return s.greetingCompleted }

// RecordTurn counts the turn and hands it to the sink.
func (s *State) RecordTurn(t Turn) error {
	switch t.Speaker {
	case SpeakerUser:
		s.userTurns++
		if !s.sawUser {
			s.sawUser = true
			s.firstUserAfter = s.Duration()
		}
	case SpeakerAssistant:
		s.botTurns++
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSpeaker, t.Speaker)
	}
	if t.At.IsZero() {
		t.At = s.now()
	}
	if s.sink == nil {
		return nil
	}
	return s.sink.AppendTurn(t)
}

// FirstUserTurnAfter is the time from connect to the first user turn.
func (s *State) FirstUserTurnAfter() (time.Duration, bool) {
	return s.firstUserAfter, s.sawUser
}

func (s *State) UserTurns() int { return s.userTurns }
func (s *State) BotTurns() int  { return s.botTurns }

func (s *State) Language() Language { return s.language }

// DetectAndUpdateLanguage detects the language of text and stores it.
// Text with no letters keeps the current language.
func (s *State) DetectAndUpdateLanguage(text string) Language {
	s.language = DetectLanguage(text, s.language)
	return s.language
}

// MarkGoodbye records that a closing phrase was heard.
func (s *State) MarkGoodbye() { s.goodbyeDetected = true }

func (s *State) GoodbyeDetected() bool { return s.goodbyeDetected }

// TriggerHangup returns true only the first time it is called.
func (s *State) TriggerHangup() bool {
	if s.hangupTriggered {
		return false
	}
	s.hangupTriggered = true
	return true
}

func (s *State) HangupTriggered() bool { return s.hangupTriggered }

// Metrics snapshots the classifier inputs.
func (s *State) Metrics() Metrics {
	return Metrics{
		GreetingStarted:   s.greetingStarted,
		GreetingCompleted: s.greetingCompleted,
		UserTurns:         s.userTurns,
		BotTurns:          s.botTurns,
		Duration:          s.Duration(),
	}
}
