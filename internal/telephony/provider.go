package telephony

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Provider is the provider-agnostic boundary used by the queue and the
// orchestrator.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Request/response types stay provider-agnostic.
type Provider interface {
	Name() string

	// Dial starts an outbound call. It returns once the provider accepted
	// the request, not when the callee answers.
	Dial(ctx context.Context, req DialRequest) (DialResult, error)

	// Hangup ends an active call.
	Hangup(ctx context.Context, providerCallID string) error

	// AnswerXML renders the document returned from the answer callback:
	// play the greeting, then stream media to the pipeline.
	AnswerXML(req AnswerRequest) (string, error)

	// ParseCallback reads an answer or hangup callback body.
	ParseCallback(r *http.Request) (CallbackEvent, error)
}

// DialRequest describes one outbound call.
type DialRequest struct {
	CallUUID string `json:"call_uuid"`

	// To and From are E.164 where possible.
	To   string `json:"to"`
	From string `json:"from"`

	AnswerURL string `json:"answer_url"`
	HangupURL string `json:"hangup_url"`
}

type DialResult struct {
	ProviderCallID string `json:"provider_call_id"`
}

// AnswerRequest carries what the answer document needs.
type AnswerRequest struct {
	CallUUID string

	// GreetingURL is optional pre-rendered greeting audio.
	GreetingURL string

	// StreamURL is the pipeline websocket (wss://.../ws/<call_uuid>).
	StreamURL string
}

// CallbackEvent is a provider-agnostic view of a status callback.
type CallbackEvent struct {
	ProviderCallID string `json:"provider_call_id"`
	Status         string `json:"status"`
	Cause          string `json:"cause,omitempty"`
	Source         string `json:"source,omitempty"`
}

var (
	ErrNotConfigured = errors.New("telephony: provider not configured")
	ErrStreamURL     = errors.New("telephony: stream url required")
)

// StreamURL derives the pipeline websocket URL from the public base URL.
func StreamURL(publicURL, callUUID string) string {
	base := strings.TrimSuffix(publicURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/" + callUUID
}

// CallbackURLs returns the answer and hangup webhook URLs for a call.
func CallbackURLs(publicURL, callUUID string) (answer, hangup string) {
	base := strings.TrimSuffix(publicURL, "/")
	return base + "/webhooks/answer/" + callUUID, base + "/webhooks/hangup/" + callUUID
}
