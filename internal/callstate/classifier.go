package callstate

import (
	"time"

	"reminder-voice/internal/calls"
)

// Thresholds shared by Classify and IsMeaningful. Changing one changes both.
const (
	MeaningfulMinUserTurns = 3
	MeaningfulMinDuration  = 30 * time.Second

	earlyHangupBelow      = 10 * time.Second
	postGreetingHangupMax = 20 * time.Second
)

// Metrics is the snapshot of a call the classifier works on.
type Metrics struct {
	GreetingStarted   bool
	GreetingCompleted bool
	UserTurns         int
	BotTurns          int
	Duration          time.Duration
}

// IsMeaningful gates the paid summarizer.
func IsMeaningful(m Metrics) bool {
	return m.UserTurns >= MeaningfulMinUserTurns || m.Duration >= MeaningfulMinDuration
}

// Classify maps end-of-call metrics to a conversational outcome.
// Rules are evaluated in order and the first match wins.
func Classify(m Metrics) calls.Status {
	switch {
	case m.GreetingStarted && !m.GreetingCompleted:
		return calls.StatusAbandonedPreGreeting
	case m.UserTurns == 0:
		return calls.StatusNoResponse
	case m.Duration < earlyHangupBelow:
		return calls.StatusAbandonedEarly
	case m.UserTurns == 1 && m.Duration < postGreetingHangupMax:
		return calls.StatusAbandonedPostGreeting
	case !IsMeaningful(m):
		return calls.StatusCompletedPartial
	default:
		return calls.StatusCompletedConversation
	}
}
