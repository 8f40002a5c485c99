package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reminder-voice/internal/calls"

	"github.com/gin-gonic/gin"
)

type fakeEvents struct {
	answerErr error
	answered  []string
	hangups   []CallbackEvent
}

func (f *fakeEvents) Answered(_ context.Context, callUUID string, _ CallbackEvent) error {
	f.answered = append(f.answered, callUUID)
	return f.answerErr
}

func (f *fakeEvents) ProviderHangup(_ context.Context, _ string, ev CallbackEvent) error {
	f.hangups = append(f.hangups, ev)
	return calls.ErrNotFound
}

func newWebhookRouter(ev *fakeEvents) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := WebhookHandler{
		Provider:    &PlivoProvider{},
		Events:      ev,
		PublicURL:   "https://calls.example.com",
		GreetingURL: "https://calls.example.com/audio/greeting.wav",
	}
	r := gin.New()
	r.POST("/webhooks/answer/:call_uuid", h.Answer)
	r.POST("/webhooks/hangup/:call_uuid", h.Hangup)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookAnswerReturnsStreamXML(t *testing.T) {
	ev := &fakeEvents{}
	w := post(newWebhookRouter(ev), "/webhooks/answer/c-1", "CallUUID=p-1&CallStatus=in-progress")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(w.Body.String(), "wss://calls.example.com/ws/c-1") {
		t.Fatalf("expected stream url, got %s", w.Body.String())
	}
	if len(ev.answered) != 1 || ev.answered[0] != "c-1" {
		t.Fatalf("expected answered event, got %v", ev.answered)
	}
}

func TestWebhookAnswerUnknownAndFinishedCalls(t *testing.T) {
	w := post(newWebhookRouter(&fakeEvents{answerErr: calls.ErrNotFound}), "/webhooks/answer/x", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = post(newWebhookRouter(&fakeEvents{answerErr: calls.ErrTerminal}), "/webhooks/answer/x", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Hangup>") {
		t.Fatalf("expected hangup xml, got %d %s", w.Code, w.Body.String())
	}
}

func TestWebhookHangupAlwaysAcknowledges(t *testing.T) {
	ev := &fakeEvents{}
	w := post(newWebhookRouter(ev), "/webhooks/hangup/c-1", "CallUUID=p-1&HangupCause=NO_ANSWER&HangupSource=Plivo")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(ev.hangups) != 1 || ev.hangups[0].Cause != "NO_ANSWER" || ev.hangups[0].Source != "Plivo" {
		t.Fatalf("unexpected hangups: %+v", ev.hangups)
	}
}
