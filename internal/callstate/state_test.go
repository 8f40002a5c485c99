package callstate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSink struct {
	turns []Turn
	err   error
}

func (s *sliceSink) AppendTurn(t Turn) error {
	if s.err != nil {
		return s.err
	}
	s.turns = append(s.turns, t)
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, Tamil, DetectLanguage("வணக்கம்", English))
	assert.Equal(t, Hindi, DetectLanguage("123, ... !?", Hindi))
	assert.Equal(t, BaseLanguage, DetectLanguage("...", ""))
	assert.Equal(t, English, DetectLanguage("hello there", Tamil))
	assert.Equal(t, Telugu, DetectLanguage("నమస్కారం 42", English))
	assert.Equal(t, Kannada, DetectLanguage("ನಮಸ್ಕಾರ", English))
	assert.Equal(t, Malayalam, DetectLanguage("നമസ്കാരം", English))
	assert.Equal(t, Hindi, DetectLanguage("नमस्ते", English))
	// Tamil is checked before Devanagari.
	assert.Equal(t, Tamil, DetectLanguage("नमस्ते வணக்கம்", English))
}

func TestState_DetectAndUpdateLanguageKeepsPrior(t *testing.T) {
	s := New(Params{CallUUID: "c"})
	assert.Equal(t, BaseLanguage, s.Language())
	assert.Equal(t, Hindi, s.DetectAndUpdateLanguage("नमस्ते"))
	assert.Equal(t, Hindi, s.DetectAndUpdateLanguage(", 2026."))
	assert.Equal(t, English, s.DetectAndUpdateLanguage("okay"))
}

func TestState_GreetingFlagsAreIdempotent(t *testing.T) {
	s := New(Params{CallUUID: "c"})
	assert.True(t, s.MarkGreetingStarted())
	assert.False(t, s.MarkGreetingStarted())

	assert.True(t, s.MarkGreetingCompleted())
	once := s.Metrics()
	assert.False(t, s.MarkGreetingCompleted())
	assert.Equal(t, once, s.Metrics())
}

func TestState_RecordTurnCountsAndWrites(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)}
	sink := &sliceSink{}
	s := New(Params{CallUUID: "c", Sink: sink, Now: clock.Now})
	s.Start()

	clock.Advance(4 * time.Second)
	require.NoError(t, s.RecordTurn(Turn{Speaker: SpeakerAssistant, Text: "Hello"}))
	clock.Advance(3 * time.Second)
	require.NoError(t, s.RecordTurn(Turn{Speaker: SpeakerUser, Text: "Hi"}))
	clock.Advance(5 * time.Second)
	require.NoError(t, s.RecordTurn(Turn{Speaker: SpeakerUser, Text: "Yes"}))

	assert.Equal(t, 2, s.UserTurns())
	assert.Equal(t, 1, s.BotTurns())
	first, ok := s.FirstUserTurnAfter()
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, first)
	assert.Equal(t, 12*time.Second, s.Duration())
	require.Len(t, sink.turns, 3)
	assert.Equal(t, SpeakerUser, sink.turns[1].Speaker)
	assert.False(t, sink.turns[0].At.IsZero())

	err := s.RecordTurn(Turn{Speaker: "system", Text: "x"})
	assert.ErrorIs(t, err, ErrUnknownSpeaker)
	assert.Equal(t, 2, s.UserTurns())
}

func TestState_RecordTurnSinkErrorStillCounts(t *testing.T) {
	boom := errors.New("disk full")
	s := New(Params{CallUUID: "c", Sink: &sliceSink{err: boom}})
	err := s.RecordTurn(Turn{Speaker: SpeakerUser, Text: "hi"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, s.UserTurns())
}

func TestState_DurationZeroBeforeStart(t *testing.T) {
	s := New(Params{CallUUID: "c"})
	assert.Zero(t, s.Duration())
	assert.Zero(t, s.Metrics().Duration)
}

func TestState_TriggerHangupOnce(t *testing.T) {
	s := New(Params{CallUUID: "c"})
	assert.True(t, s.TriggerHangup())
	assert.False(t, s.TriggerHangup())
	assert.True(t, s.HangupTriggered())
}
