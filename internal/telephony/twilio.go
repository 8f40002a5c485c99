package telephony

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// twilioCalls is the slice of the Twilio REST API the adapter uses.
type twilioCalls interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
}

// TwilioProvider dials and hangs up through twilio-go.
type TwilioProvider struct {
	calls twilioCalls
}

func NewTwilioProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("%w: twilio account sid and auth token required", ErrNotConfigured)
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioProvider{calls: client.Api}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

// Dial has no context support in twilio-go; the SDK client carries its own timeout.
func (p *TwilioProvider) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	if err := ctx.Err(); err != nil {
		return DialResult{}, err
	}
	params := &api.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.From)
	params.SetUrl(req.AnswerURL)
	params.SetMethod(http.MethodPost)
	if req.HangupURL != "" {
		params.SetStatusCallback(req.HangupURL)
		params.SetStatusCallbackMethod(http.MethodPost)
		params.SetStatusCallbackEvent([]string{"completed"})
	}

	call, err := p.calls.CreateCall(params)
	if err != nil {
		return DialResult{}, fmt.Errorf("telephony: twilio create call: %w", err)
	}
	if call == nil || call.Sid == nil {
		return DialResult{}, fmt.Errorf("telephony: twilio response missing call sid")
	}
	return DialResult{ProviderCallID: *call.Sid}, nil
}

func (p *TwilioProvider) Hangup(ctx context.Context, providerCallID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if providerCallID == "" {
		return fmt.Errorf("telephony: twilio hangup: empty call sid")
	}
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := p.calls.UpdateCall(providerCallID, params); err != nil {
		return fmt.Errorf("telephony: twilio hangup: %w", err)
	}
	return nil
}

func (p *TwilioProvider) AnswerXML(req AnswerRequest) (string, error) {
	return RenderTwiMLAnswer(req)
}

// twilioFailureStatuses are CallStatus values that mean the callee was never
// reached. They double as the hangup cause.
var twilioFailureStatuses = map[string]bool{
	"busy":      true,
	"no-answer": true,
	"failed":    true,
	"canceled":  true,
}

// ParseCallback reads Twilio's form-encoded voice and status callbacks.
// Twilio sends application/x-www-form-urlencoded by default.
func (p *TwilioProvider) ParseCallback(r *http.Request) (CallbackEvent, error) {
	if err := r.ParseForm(); err != nil {
		return CallbackEvent{}, err
	}
	ev := CallbackEvent{
		ProviderCallID: strings.TrimSpace(r.PostFormValue("CallSid")),
		Status:         strings.TrimSpace(r.PostFormValue("CallStatus")),
	}
	switch {
	case twilioFailureStatuses[ev.Status]:
		ev.Cause = ev.Status
	case ev.Status == "completed":
		ev.Cause = "NORMAL_CLEARING"
	}
	return ev, nil
}
