package orchestrator

import (
	"errors"
	"fmt"
)

// Phase is where a call session is in its lifecycle.
type Phase int

const (
	PhaseDialing Phase = iota
	PhaseConnected
	PhaseGreetingPlaying
	PhaseInConversation
	PhaseFinalizing
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseDialing:
		return "dialing"
	case PhaseConnected:
		return "connected"
	case PhaseGreetingPlaying:
		return "greeting_playing"
	case PhaseInConversation:
		return "in_conversation"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseTerminal:
		return "terminal"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// transitions is the complete table of allowed phase changes. Any phase
// short of Finalizing may be cut off by a disconnect.
var transitions = map[Phase][]Phase{
	PhaseDialing:         {PhaseConnected, PhaseTerminal},
	PhaseConnected:       {PhaseGreetingPlaying, PhaseFinalizing},
	PhaseGreetingPlaying: {PhaseInConversation, PhaseFinalizing},
	PhaseInConversation:  {PhaseFinalizing},
	PhaseFinalizing:      {PhaseTerminal},
}

var ErrBadTransition = errors.New("orchestrator: invalid phase transition")

func canTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// advance moves s to the next phase or reports why it cannot.
func (s *session) advance(to Phase) error {
	if !canTransition(s.phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, s.phase, to)
	}
	s.log.Debug("call phase", "from", s.phase.String(), "to", to.String())
	s.phase = to
	return nil
}
