package prompts

import (
	"strings"
	"time"
)

const (
	DefaultIdleNudge   = "Are you still there?"
	DefaultIdleClosing = "Thank you for your time. Have a great day."
	DefaultHangupGrace = 3 * time.Second
)

// DefaultEndCallKeywords are the closing and escalation phrases that end a
// call once the assistant has said them.
var DefaultEndCallKeywords = []string{
	"have a good day",
	"have a great day",
	"have a nice day",
	"have a wonderful day",
	"goodbye",
	"good bye",
	"bye",
	"take care",
	"speak to a human",
	"talk to a human",
	"human agent",
	"speak to someone",
	"talk to someone",
	"real person",
	"speak to manager",
	"talk to manager",
	"supervisor",
	"connect me to",
	"transfer me to",
}

// Policy is the per-deployment end-of-call behaviour.
type Policy struct {
	EndCallKeywords []string
	IdleNudge       string
	IdleClosing     string
	// HangupGrace lets the closing audio finish before the provider hangup.
	HangupGrace time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		EndCallKeywords: append([]string(nil), DefaultEndCallKeywords...),
		IdleNudge:       DefaultIdleNudge,
		IdleClosing:     DefaultIdleClosing,
		HangupGrace:     DefaultHangupGrace,
	}
}

// WithDefaults fills empty fields from DefaultPolicy. Keywords are
// lower-cased and trimmed; blanks are dropped.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if len(p.EndCallKeywords) == 0 {
		p.EndCallKeywords = d.EndCallKeywords
	}
	kw := make([]string, 0, len(p.EndCallKeywords))
	for _, k := range p.EndCallKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	p.EndCallKeywords = kw
	if strings.TrimSpace(p.IdleNudge) == "" {
		p.IdleNudge = d.IdleNudge
	}
	if strings.TrimSpace(p.IdleClosing) == "" {
		p.IdleClosing = d.IdleClosing
	}
	if p.HangupGrace < 0 {
		p.HangupGrace = 0
	} else if p.HangupGrace == 0 {
		p.HangupGrace = d.HangupGrace
	}
	return p
}

// MatchEndCall returns the first end-call keyword contained in text.
func (p Policy) MatchEndCall(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, k := range p.EndCallKeywords {
		if k != "" && strings.Contains(lower, k) {
			return k, true
		}
	}
	return "", false
}

// IdleLine is the line spoken after the n-th consecutive idle timeout, and
// whether the call should stay open afterwards.
func (p Policy) IdleLine(n int) (line string, keepOpen bool) {
	if n <= 1 {
		return p.IdleNudge, true
	}
	return p.IdleClosing, false
}
