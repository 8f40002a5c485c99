package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reminder-voice/internal/calls"

	api "github.com/twilio/twilio-go/rest/api/v2010"
)

func TestPlivoDialAndHangup(t *testing.T) {
	var got plivoCallRequest
	var deleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "MA123" || pass != "secret" {
			t.Errorf("missing basic auth")
		}
		switch r.Method {
		case http.MethodPost:
			if r.URL.Path != "/Account/MA123/Call/" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"message":"call fired","request_uuid":"req-9","api_id":"a"}`))
		case http.MethodDelete:
			deleted = r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	p, err := NewPlivoProvider(PlivoConfig{AuthID: "MA123", AuthToken: "secret", BaseURL: srv.URL, CallsPerSecond: 100})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	res, err := p.Dial(context.Background(), DialRequest{
		CallUUID:  "c-1",
		To:        "+919800000001",
		From:      "+918000000000",
		AnswerURL: "https://x/webhooks/answer/c-1",
		HangupURL: "https://x/webhooks/hangup/c-1",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.ProviderCallID != "req-9" {
		t.Fatalf("expected request uuid, got %q", res.ProviderCallID)
	}
	if got.To != "+919800000001" || got.AnswerMethod != "POST" || got.HangupMethod != "POST" {
		t.Fatalf("unexpected payload: %+v", got)
	}

	if err := p.Hangup(context.Background(), "call-7"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if deleted != "/Account/MA123/Call/call-7/" {
		t.Fatalf("unexpected hangup path %q", deleted)
	}
}

func TestPlivoDialError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid to"}`))
	}))
	defer srv.Close()

	p, _ := NewPlivoProvider(PlivoConfig{AuthID: "a", AuthToken: "b", BaseURL: srv.URL})
	_, err := p.Dial(context.Background(), DialRequest{To: "x"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestNewProvidersRequireCredentials(t *testing.T) {
	if _, err := NewPlivoProvider(PlivoConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := NewTwilioProvider(TwilioConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func formRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/hangup/c-1", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestPlivoParseCallback(t *testing.T) {
	p := &PlivoProvider{}
	ev, err := p.ParseCallback(formRequest("CallUUID=abc&CallStatus=completed&HangupCause=Busy+Line&HangupSource=Callee"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.ProviderCallID != "abc" || ev.Cause != "Busy Line" || ev.Source != "Callee" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if s, ok := calls.FailureForCause(ev.Cause); !ok || s != calls.StatusDeclined {
		t.Fatalf("expected busy line to map to declined, got %q", s)
	}
}

type fakeTwilioCalls struct {
	created *api.CreateCallParams
	updated string
	status  string
	err     error
}

func (f *fakeTwilioCalls) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	f.created = params
	if f.err != nil {
		return nil, f.err
	}
	sid := "CA123"
	return &api.ApiV2010Call{Sid: &sid}, nil
}

func (f *fakeTwilioCalls) UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error) {
	f.updated = sid
	if params.Status != nil {
		f.status = *params.Status
	}
	return &api.ApiV2010Call{Sid: &sid}, f.err
}

func TestTwilioDialAndHangup(t *testing.T) {
	fake := &fakeTwilioCalls{}
	p := &TwilioProvider{calls: fake}

	res, err := p.Dial(context.Background(), DialRequest{To: "+1555", From: "+1666", AnswerURL: "https://x/a", HangupURL: "https://x/h"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.ProviderCallID != "CA123" {
		t.Fatalf("expected call sid, got %q", res.ProviderCallID)
	}
	if fake.created.To == nil || *fake.created.To != "+1555" || fake.created.StatusCallback == nil || *fake.created.StatusCallback != "https://x/h" {
		t.Fatalf("unexpected create params")
	}

	if err := p.Hangup(context.Background(), "CA123"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if fake.updated != "CA123" || fake.status != "completed" {
		t.Fatalf("expected completed update, got %q %q", fake.updated, fake.status)
	}
}

func TestTwilioDialError(t *testing.T) {
	p := &TwilioProvider{calls: &fakeTwilioCalls{err: errors.New("boom")}}
	if _, err := p.Dial(context.Background(), DialRequest{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTwilioParseCallback(t *testing.T) {
	p := &TwilioProvider{}
	ev, err := p.ParseCallback(formRequest("CallSid=CA1&CallStatus=no-answer"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.Cause != "no-answer" {
		t.Fatalf("expected no-answer cause, got %+v", ev)
	}
	if s, ok := calls.FailureForCause(ev.Cause); !ok || s != calls.StatusNotReachable {
		t.Fatalf("expected not_reachable, got %q", s)
	}

	ev, _ = p.ParseCallback(formRequest("CallSid=CA1&CallStatus=completed"))
	if _, ok := calls.FailureForCause(ev.Cause); ok {
		t.Fatalf("normal completion must not map to a failure")
	}
}
