package calls

import "strings"

// causeStatus maps normalised provider hangup causes to failure statuses.
// Keys are lower-case with separators removed so both Plivo ("Busy Line") and
// Twilio ("no-answer") spellings match.
var causeStatus = map[string]Status{
	"busyline":                  StatusDeclined,
	"busy":                      StatusDeclined,
	"rejected":                  StatusDeclined,
	"callrejected":              StatusDeclined,
	"canceled":                  StatusDeclined,
	"invaliddestinationaddress": StatusInvalid,
	"invalidnumberformat":       StatusInvalid,
	"invalidnumber":             StatusInvalid,
	"destinationoutoforder":     StatusOutOfService,
	"outofservice":              StatusOutOfService,
	"unknowndestination":        StatusNonexistent,
	"noroutetodestination":      StatusNonexistent,
	"unallocatednumber":         StatusUnallocated,
	"noanswer":                  StatusNotReachable,
	"ringtimeout":               StatusNotReachable,
	"networkunreachable":        StatusNotReachable,
	"unreachable":               StatusNotReachable,
	"subscriberabsent":          StatusNotReachable,
	"failed":                    StatusFailed,
	"networkerror":              StatusFailed,
}

func normaliseCause(cause string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(cause) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FailureForCause returns the failure status a provider hangup cause implies.
func FailureForCause(cause string) (Status, bool) {
	s, ok := causeStatus[normaliseCause(cause)]
	return s, ok
}

// StatusForHangup decides the terminal status for a provider hangup that
// arrives while no pipeline session owns the call.
//
// Known failure causes map directly. A hangup after the provider answered and
// started the greeting means the customer left before the greeting finished.
// Anything else before the stream connected is a generic failure.
func StatusForHangup(current Status, cause string) Status {
	if s, ok := FailureForCause(cause); ok {
		return s
	}
	switch current {
	case StatusConnected, StatusGreetingPlaying:
		return StatusAbandonedPreGreeting
	case StatusInProgress:
		return StatusNoResponse
	}
	return StatusFailed
}
