package summary

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reminder-voice/internal/callstate"
	"reminder-voice/internal/calls"
	"reminder-voice/internal/outcome"
	"reminder-voice/internal/transcript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 6, 4, 30, 0, 0, time.UTC)

type fakeSummarizer struct {
	reply   string
	err     error
	calls   int
	prompts []string
}

func (f *fakeSummarizer) Summarize(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func newTranscript(t *testing.T, turns ...string) *transcript.Writer {
	t.Helper()
	rec := calls.Record{
		CallUUID: "c-1",
		UserID:   "u1",
		CustomData: calls.CustomData{
			calls.KeyCustomerName:       "Meena",
			calls.KeyInvoiceNumber:      "INV-9",
			calls.KeyInvoiceDate:        "2025-12-20",
			calls.KeyOutstandingBalance: "15000",
		},
	}
	w := transcript.NewWriter(transcript.Path(t.TempDir(), rec.UserID, "INV-9", rec.CallUUID))
	require.NoError(t, w.WriteHeader(transcript.HeaderFromRecord(rec, t0)))
	for i, text := range turns {
		sp := callstate.SpeakerAssistant
		if i%2 == 1 {
			sp = callstate.SpeakerUser
		}
		require.NoError(t, w.AppendTurn(callstate.Turn{Speaker: sp, Text: text, At: t0.Add(time.Duration(i) * time.Second)}))
	}
	return w
}

func summaryOf(t *testing.T, w *transcript.Writer) string {
	t.Helper()
	content, err := w.Read()
	require.NoError(t, err)
	return transcript.Split(content).Summary
}

func TestGenerate_NotMeaningfulUsesTemplate(t *testing.T) {
	fake := &fakeSummarizer{reply: "unused"}
	g := NewGenerator(fake)
	w := newTranscript(t, "Hello, this is a reminder", "Hello?")

	m := callstate.Metrics{GreetingStarted: true, GreetingCompleted: true, UserTurns: 1, BotTurns: 1, Duration: 5 * time.Second}
	res, err := g.Generate(context.Background(), w, Input{CallUUID: "c-1", Outcome: callstate.Classify(m), Metrics: m})
	require.NoError(t, err)

	assert.Equal(t, KindTemplate, res.Kind)
	assert.Zero(t, fake.calls)
	s := summaryOf(t, w)
	assert.True(t, strings.HasPrefix(s, transcript.TitleTemplateSummary))
	assert.Contains(t, s, "- FAILED: Customer hung up immediately (< 10 seconds)")
	assert.Contains(t, s, "**Outcome:** abandoned_early")
	assert.Contains(t, s, "**Duration:** 5 seconds")
}

func TestGenerate_TooFewTurnLines(t *testing.T) {
	fake := &fakeSummarizer{reply: "unused"}
	g := NewGenerator(fake)
	w := newTranscript(t, "Hello", "Yes")

	m := callstate.Metrics{GreetingStarted: true, GreetingCompleted: true, UserTurns: 1, BotTurns: 1, Duration: 40 * time.Second}
	res, err := g.Generate(context.Background(), w, Input{CallUUID: "c-1", Outcome: callstate.Classify(m), Metrics: m})
	require.NoError(t, err)

	assert.Equal(t, KindTooShort, res.Kind)
	assert.Zero(t, fake.calls)
	s := summaryOf(t, w)
	assert.Contains(t, s, "Conversation too short for detailed analysis")
	assert.Contains(t, s, "TOO_SHORT (2 turn lines)")
	assert.Equal(t, []outcome.Tag{outcome.NoCommitment}, res.Outcomes)
}

func meaningful() callstate.Metrics {
	return callstate.Metrics{GreetingStarted: true, GreetingCompleted: true, UserTurns: 3, BotTurns: 4, Duration: 75 * time.Second}
}

func conversation(t *testing.T) *transcript.Writer {
	return newTranscript(t,
		"Hello, calling about your pending invoice",
		"Yes, I know",
		"When can you make the payment?",
		"I will pay by January 15",
		"Thank you",
		"Bye",
	)
}

func TestGenerate_ModelSummaryWithValidDate(t *testing.T) {
	fake := &fakeSummarizer{reply: "**EXTRACTED_DATE:** 2026-01-15\n\n**CALL OUTCOMES:**\n- CUT_OFF_DATE_PROVIDED: Payment by January 15, 2026\n\n1. **Customer Verified:** Yes"}
	g := NewGenerator(fake)
	w := conversation(t)

	res, err := g.Generate(context.Background(), w, Input{CallUUID: "c-1", Outcome: calls.StatusCompletedConversation, Metrics: meaningful(), CallDate: t0})
	require.NoError(t, err)

	assert.Equal(t, KindAI, res.Kind)
	assert.False(t, res.Correction.Applied)
	assert.Equal(t, []outcome.Tag{outcome.CutOffDateProvided}, res.Outcomes)
	require.Equal(t, 1, fake.calls)

	prompt := fake.prompts[0]
	assert.Contains(t, prompt, "USER: I will pay by January 15")
	assert.Contains(t, prompt, "January 6, 2026 (Tuesday)")
	assert.NotContains(t, prompt, "Invoice Date:")
	assert.NotContains(t, prompt, "Outstanding Balance")
	for _, tag := range outcome.Vocabulary {
		assert.Contains(t, prompt, string(tag))
	}

	s := summaryOf(t, w)
	assert.True(t, strings.HasPrefix(s, transcript.TitleAISummary))
	assert.Contains(t, s, "CUT_OFF_DATE_PROVIDED")
}

func TestGenerate_InvoiceDateCommitmentIsCorrected(t *testing.T) {
	fake := &fakeSummarizer{reply: "**EXTRACTED_DATE:** 2025-12-20\n\n**CALL OUTCOMES:**\n- CUT_OFF_DATE_PROVIDED: December 20, 2025\n\n1. **Customer Verified:** Yes"}
	g := NewGenerator(fake)
	w := conversation(t)

	// Invoice date comes from the transcript header when not passed in.
	res, err := g.Generate(context.Background(), w, Input{CallUUID: "c-1", Outcome: calls.StatusCompletedConversation, Metrics: meaningful(), CallDate: t0})
	require.NoError(t, err)

	assert.True(t, res.Correction.Applied)
	assert.Equal(t, []outcome.Tag{outcome.NoCommitment}, res.Outcomes)
	s := summaryOf(t, w)
	assert.NotContains(t, s, "CUT_OFF_DATE_PROVIDED")
	assert.Contains(t, s, "**EXTRACTED_DATE:** NONE")
	assert.Contains(t, s, "- NO_COMMITMENT: Date mentioned was the invoice date")
}

func TestGenerate_ProviderErrorWritesMarker(t *testing.T) {
	fake := &fakeSummarizer{err: errors.New("503 upstream")}
	g := NewGenerator(fake)
	w := conversation(t)

	res, err := g.Generate(context.Background(), w, Input{CallUUID: "c-1", Outcome: calls.StatusCompletedConversation, Metrics: meaningful()})
	require.Error(t, err)
	assert.Equal(t, KindError, res.Kind)

	s := summaryOf(t, w)
	assert.True(t, strings.HasPrefix(s, transcript.TitleErrorSummary))
	assert.Contains(t, s, "503 upstream")
	assert.True(t, w.HasSummary())
}

func TestGenerate_EmptyReplyIsAnError(t *testing.T) {
	g := NewGenerator(&fakeSummarizer{reply: "  \n"})
	w := conversation(t)
	_, err := g.Generate(context.Background(), w, Input{Outcome: calls.StatusCompletedConversation, Metrics: meaningful()})
	assert.ErrorIs(t, err, errEmptySummary)
	assert.Contains(t, summaryOf(t, w), transcript.TitleErrorSummary)
}

func TestGenerate_NilSummarizerFallsBackToTemplate(t *testing.T) {
	g := NewGenerator(nil)
	w := conversation(t)
	res, err := g.Generate(context.Background(), w, Input{Outcome: calls.StatusCompletedConversation, Metrics: meaningful()})
	require.NoError(t, err)
	assert.Equal(t, KindTemplate, res.Kind)
}

func TestTemplateBody_FailureStatus(t *testing.T) {
	body := TemplateBody(calls.StatusDeclined, callstate.Metrics{}, false, 0)
	assert.Contains(t, body, "- FAILED: Call did not reach the customer (declined)")
	assert.Contains(t, body, "**Greeting Completed:** No")
}

func TestOpenAIClient_Summarize(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"**CALL OUTCOMES:**\n- NO_COMMITMENT: none"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL + "/", APIKey: "sk-test", RatePerSecond: 5})
	out, err := c.Summarize(context.Background(), "prompt body")
	require.NoError(t, err)
	assert.Contains(t, out, "NO_COMMITMENT")
	assert.Equal(t, DefaultModel, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "prompt body", got.Messages[1].Content)
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL}).Summarize(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")
}
