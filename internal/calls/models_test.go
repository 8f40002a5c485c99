package calls

import "testing"

func TestStatusValuesAreClassified(t *testing.T) {
	for _, s := range Statuses() {
		if s == "" {
			t.Fatalf("expected non-empty status")
		}
		if !s.IsValid() {
			t.Fatalf("expected %q to be valid", s)
		}
	}
	if Status("ringing").IsValid() {
		t.Fatalf("unknown status must not be valid")
	}
}

func TestCanTransition_TerminalIsFinal(t *testing.T) {
	for _, from := range Statuses() {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range Statuses() {
			if CanTransition(from, to) {
				t.Fatalf("terminal %q must not move to %q", from, to)
			}
		}
	}
}

func TestCanTransition_ForwardOnly(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusCalling, true},
		{StatusCalling, StatusGreetingPlaying, true},
		{StatusGreetingPlaying, StatusGreetingPlaying, true},
		{StatusInProgress, StatusGreetingPlaying, false},
		{StatusCalling, StatusQueued, false},
		{StatusQueued, StatusFailed, true},
		{StatusInProgress, StatusCompletedConversation, true},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestStatusForHangup(t *testing.T) {
	cases := []struct {
		current Status
		cause   string
		want    Status
	}{
		{StatusCalling, "Busy Line", StatusDeclined},
		{StatusCalling, "no-answer", StatusNotReachable},
		{StatusCalling, "Unallocated Number", StatusUnallocated},
		{StatusCalling, "Invalid Destination Address", StatusInvalid},
		{StatusCalling, "Destination Out Of Order", StatusOutOfService},
		{StatusCalling, "Unknown Destination", StatusNonexistent},
		{StatusGreetingPlaying, "Normal Hangup", StatusAbandonedPreGreeting},
		{StatusCalling, "Normal Hangup", StatusFailed},
	}
	for _, tc := range cases {
		if got := StatusForHangup(tc.current, tc.cause); got != tc.want {
			t.Fatalf("%s/%q: expected %s, got %s", tc.current, tc.cause, tc.want, got)
		}
	}
}

func TestCustomDataString(t *testing.T) {
	d := CustomData{"customer_name": "Asha", "total_amount": 1250.5, "empty": nil}
	if d.String("customer_name") != "Asha" {
		t.Fatalf("expected name")
	}
	if d.String("total_amount") != "1250.5" {
		t.Fatalf("expected number rendered, got %q", d.String("total_amount"))
	}
	if d.StringOr("empty", "unknown") != "unknown" {
		t.Fatalf("expected fallback")
	}
}
