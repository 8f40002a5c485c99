package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"reminder-voice/internal/callstate"
	"reminder-voice/internal/calls"
	"reminder-voice/internal/events"
	"reminder-voice/internal/prompts"
	"reminder-voice/internal/summary"
	"reminder-voice/internal/telephony"
	"reminder-voice/internal/transcript"
	"reminder-voice/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aiReply = `**EXTRACTED_DATE:** January 20, 2026

**CALL OUTCOMES:**
- CUT_OFF_DATE_PROVIDED: Customer will pay on January 20, 2026

1. **Customer Verified:** Yes
2. **Customer Response:** Agreed to pay
3. **Commitments and Next Steps:** Payment on January 20
4. **Overall Outcome:** Positive
5. **Language:** English`

type fakeProvider struct {
	mu      sync.Mutex
	dialErr error
	dials   []telephony.DialRequest
	hangups []string
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Dial(_ context.Context, req telephony.DialRequest) (telephony.DialResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dials = append(p.dials, req)
	if p.dialErr != nil {
		return telephony.DialResult{}, p.dialErr
	}
	return telephony.DialResult{ProviderCallID: "prov-1"}, nil
}

func (p *fakeProvider) Hangup(_ context.Context, providerCallID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hangups = append(p.hangups, providerCallID)
	return nil
}

func (p *fakeProvider) AnswerXML(telephony.AnswerRequest) (string, error) { return "", nil }

func (p *fakeProvider) ParseCallback(*http.Request) (telephony.CallbackEvent, error) {
	return telephony.CallbackEvent{}, nil
}

func (p *fakeProvider) hungUp() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.hangups...)
}

type fakeSummarizer struct {
	mu    sync.Mutex
	reply string
	calls int
	// gate, when set, holds Summarize until it is closed.
	gate chan struct{}
}

func (f *fakeSummarizer) Summarize(context.Context, string) (string, error) {
	f.mu.Lock()
	f.calls++
	gate, reply := f.gate, f.reply
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return reply, nil
}

func (f *fakeSummarizer) hold() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	return f.gate
}

func (f *fakeSummarizer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeOutcomes struct {
	mu  sync.Mutex
	evs []events.OutcomeEvent
}

func (f *fakeOutcomes) PublishOutcome(_ context.Context, ev events.OutcomeEvent) {
	f.mu.Lock()
	f.evs = append(f.evs, ev)
	f.mu.Unlock()
}

// terminalCounter counts record writes that move a call to a terminal status.
type terminalCounter struct {
	mu sync.Mutex
	n  int
}

func (c *terminalCounter) OnTransition(_ context.Context, prev calls.Status, rec calls.Record) {
	if rec.Status.IsTerminal() && !prev.IsTerminal() {
		c.mu.Lock()
		c.n++
		c.mu.Unlock()
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc      *calls.Service
	prov     *fakeProvider
	sum      *fakeSummarizer
	outcomes *fakeOutcomes
	finals   *terminalCounter
	clk      *clock
	store    *transcript.Store
	o        *Orchestrator

	mu     sync.Mutex
	graces []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		prov:     &fakeProvider{},
		sum:      &fakeSummarizer{reply: aiReply},
		outcomes: &fakeOutcomes{},
		finals:   &terminalCounter{},
		clk:      &clock{t: time.Date(2026, 1, 6, 4, 30, 0, 0, time.UTC)},
		store:    transcript.NewStore(t.TempDir()),
	}
	h.svc = calls.NewService(calls.NewMemoryRepo(), calls.WithObservers(h.finals), calls.WithLogger(logger.Discard()))
	gen := summary.NewGenerator(h.sum, summary.WithLogger(logger.Discard()))
	h.o = New(Deps{
		Calls:       h.svc,
		Provider:    h.prov,
		Transcripts: h.store,
		Summaries:   gen,
		Outcomes:    h.outcomes,
	}, Config{PublicURL: "https://voice.example.com", FromNumber: "+918000000000"},
		WithLogger(logger.Discard()), WithClock(h.clk.now))
	// Run the hangup inline instead of after the grace delay.
	h.o.afterFunc = func(d time.Duration, f func()) {
		h.mu.Lock()
		h.graces = append(h.graces, d)
		h.mu.Unlock()
		f()
	}
	return h
}

func (h *harness) create(t *testing.T) calls.Record {
	t.Helper()
	rec, err := h.svc.Create(context.Background(), calls.NewCall{
		PhoneNumber: "+919800000001",
		UserID:      "u1",
		CustomData: calls.CustomData{
			calls.KeyCustomerName:       "Ravi",
			calls.KeyInvoiceNumber:      "INV/007:A",
			calls.KeyInvoiceDate:        "2025-12-20",
			calls.KeyOutstandingBalance: "15000",
		},
	})
	require.NoError(t, err)
	return rec
}

// connect dials, answers and opens the pipeline session.
func (h *harness) connect(t *testing.T, rec calls.Record) SessionStart {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.o.Dial(ctx, rec))
	require.NoError(t, h.o.Answered(ctx, rec.CallUUID, telephony.CallbackEvent{ProviderCallID: "prov-1"}))
	start, err := h.o.Connect(ctx, rec.CallUUID)
	require.NoError(t, err)
	return start
}

func (h *harness) converse(t *testing.T, callUUID string, userTurns int, step time.Duration) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < userTurns; i++ {
		require.NoError(t, h.o.Turn(ctx, callUUID, callstate.Turn{Speaker: callstate.SpeakerUser, Text: "I will pay soon", At: h.clk.now()}))
		h.clk.advance(step)
		require.NoError(t, h.o.Turn(ctx, callUUID, callstate.Turn{Speaker: callstate.SpeakerAssistant, Text: "When can you pay?", At: h.clk.now()}))
		h.clk.advance(step)
	}
}

func (h *harness) transcriptOf(t *testing.T, rec calls.Record) string {
	t.Helper()
	doc, err := h.store.Load(h.store.PathFor(rec))
	require.NoError(t, err)
	return doc.Content
}

func TestOrchestrator_CompletedConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t)

	start := h.connect(t, rec)
	assert.Contains(t, start.Greeting, "Hi Ravi, this is Sara from Hummingbird")
	assert.Contains(t, start.SystemPrompt, start.Greeting)
	assert.Equal(t, callstate.English, start.Language)

	h.prov.mu.Lock()
	require.Len(t, h.prov.dials, 1)
	assert.Equal(t, "https://voice.example.com/webhooks/answer/"+rec.CallUUID, h.prov.dials[0].AnswerURL)
	assert.Equal(t, "+918000000000", h.prov.dials[0].From)
	h.prov.mu.Unlock()

	h.clk.advance(4 * time.Second)
	require.NoError(t, h.o.GreetingCompleted(ctx, rec.CallUUID))
	phase, ok := h.o.Phase(rec.CallUUID)
	require.True(t, ok)
	assert.Equal(t, PhaseInConversation, phase)

	h.converse(t, rec.CallUUID, 4, 5*time.Second)
	require.NoError(t, h.o.Turn(ctx, rec.CallUUID, callstate.Turn{Speaker: callstate.SpeakerAssistant, Text: prompts.CommitmentReply}))
	h.clk.advance(time.Second)

	require.NoError(t, h.o.Disconnect(ctx, rec.CallUUID))

	got, err := h.svc.Get(ctx, rec.CallUUID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusCompletedConversation, got.Status)
	assert.NotNil(t, got.EndedAt)
	assert.Equal(t, 1, h.sum.count())
	assert.Equal(t, []string{"prov-1"}, h.prov.hungUp())
	assert.Equal(t, []time.Duration{prompts.DefaultHangupGrace}, h.graces)
	assert.Zero(t, h.o.Active())

	content := h.transcriptOf(t, rec)
	sec := transcript.Split(content)
	assert.True(t, strings.HasPrefix(sec.Summary, transcript.TitleAISummary))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(content), "5. **Language:** English"))
	assert.Contains(t, sec.Footer, "Status: completed_conversation")
	assert.Contains(t, sec.Footer, "Duration: 45.0s")
	assert.Contains(t, sec.Footer, "User Messages: 4")
	assert.Contains(t, sec.Footer, "First User Reply: 4.0s")

	require.Len(t, h.outcomes.evs, 1)
	assert.Equal(t, "ai", h.outcomes.evs[0].SummaryKind)
	assert.Equal(t, []string{"CUT_OFF_DATE_PROVIDED"}, h.outcomes.evs[0].Tags)
	assert.Equal(t, "2026-01-20", h.outcomes.evs[0].CutOffDate)
}

func TestOrchestrator_HangupDuringGreeting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t)
	h.connect(t, rec)

	h.clk.advance(5 * time.Second)
	require.NoError(t, h.o.ProviderHangup(ctx, rec.CallUUID, telephony.CallbackEvent{Cause: "NORMAL_CLEARING", Source: "Callee"}))
	// The pipeline's own disconnect arrives second and is ignored.
	require.NoError(t, h.o.Disconnect(ctx, rec.CallUUID))
	h.o.Wait()

	got, err := h.svc.Get(ctx, rec.CallUUID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusAbandonedPreGreeting, got.Status)
	assert.Equal(t, "NORMAL_CLEARING", got.HangupCause)
	assert.Equal(t, "Callee", got.HangupSource)
	assert.Zero(t, h.sum.count())

	sec := transcript.Split(h.transcriptOf(t, rec))
	assert.True(t, strings.HasPrefix(sec.Summary, transcript.TitleTemplateSummary))
	assert.Contains(t, sec.Summary, "**Outcome:** abandoned_pre_greeting")
	assert.Contains(t, sec.Summary, "**Greeting Completed:** No")
	assert.Contains(t, sec.Footer, "First User Reply: none")
}

func TestOrchestrator_FinalizesOnceUnderRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t)
	h.connect(t, rec)
	require.NoError(t, h.o.GreetingCompleted(ctx, rec.CallUUID))
	h.converse(t, rec.CallUUID, 3, 6*time.Second)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, h.o.Disconnect(ctx, rec.CallUUID))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, h.o.ProviderHangup(ctx, rec.CallUUID, telephony.CallbackEvent{Cause: "NORMAL_CLEARING", Source: "Caller"}))
	}()
	wg.Wait()
	require.NoError(t, h.o.Disconnect(ctx, rec.CallUUID))
	h.o.Wait()

	content := h.transcriptOf(t, rec)
	assert.Equal(t, 1, strings.Count(content, "\nStatus: "))
	assert.Equal(t, 1, strings.Count(content, transcript.SummaryMarker))
	assert.Equal(t, 1, h.sum.count())
	h.finals.mu.Lock()
	assert.Equal(t, 1, h.finals.n)
	h.finals.mu.Unlock()

	got, err := h.svc.Get(ctx, rec.CallUUID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusCompletedConversation, got.Status)
}

func TestOrchestrator_HangupBeforeConnectUsesCause(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t)
	require.NoError(t, h.o.Dial(ctx, rec))

	require.NoError(t, h.o.ProviderHangup(ctx, rec.CallUUID, telephony.CallbackEvent{Cause: "Busy Line", Source: "Callee"}))

	got, err := h.svc.Get(ctx, rec.CallUUID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusDeclined, got.Status)
	assert.Zero(t, h.o.Active())

	_, err = h.o.Connect(ctx, rec.CallUUID)
	assert.ErrorIs(t, err, ErrFinished)
}

func TestOrchestrator_DialFailure(t *testing.T) {
	h := newHarness(t)
	h.prov.dialErr = errors.New("provider 500")
	rec := h.create(t)

	err := h.o.Dial(context.Background(), rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, h.prov.dialErr)
	assert.Zero(t, h.o.Active())
}

func TestOrchestrator_HangupScheduledOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t)
	h.connect(t, rec)
	require.NoError(t, h.o.GreetingCompleted(ctx, rec.CallUUID))

	for _, text := range []string{"Thank you, have a great day!", "Goodbye!"} {
		require.NoError(t, h.o.Turn(ctx, rec.CallUUID, callstate.Turn{Speaker: callstate.SpeakerAssistant, Text: text}))
	}
	// A customer saying goodbye does not end the call by itself.
	require.NoError(t, h.o.Turn(ctx, rec.CallUUID, callstate.Turn{Speaker: callstate.SpeakerUser, Text: "bye"}))

	assert.Equal(t, []string{"prov-1"}, h.prov.hungUp())
	assert.Len(t, h.graces, 1)
}

func TestOrchestrator_IdleNudgeThenClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t)
	h.connect(t, rec)
	require.NoError(t, h.o.GreetingCompleted(ctx, rec.CallUUID))

	line, keep, err := h.o.Idle(ctx, rec.CallUUID)
	require.NoError(t, err)
	assert.Equal(t, prompts.DefaultIdleNudge, line)
	assert.True(t, keep)
	assert.Empty(t, h.prov.hungUp())

	line, keep, err = h.o.Idle(ctx, rec.CallUUID)
	require.NoError(t, err)
	assert.Equal(t, prompts.DefaultIdleClosing, line)
	assert.False(t, keep)
	assert.Equal(t, []string{"prov-1"}, h.prov.hungUp())

	require.NoError(t, h.o.Disconnect(ctx, rec.CallUUID))
	sec := transcript.Split(h.transcriptOf(t, rec))
	assert.Contains(t, sec.Conversation, "ASSISTANT: "+prompts.DefaultIdleNudge)
	assert.Contains(t, sec.Footer, "Status: no_response")
}

func TestOrchestrator_LanguageFollowsAssistant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t)
	h.connect(t, rec)
	require.NoError(t, h.o.GreetingCompleted(ctx, rec.CallUUID))

	require.NoError(t, h.o.Turn(ctx, rec.CallUUID, callstate.Turn{Speaker: callstate.SpeakerAssistant, Text: "வணக்கம், எப்போது பணம் செலுத்துவீர்கள்?"}))
	require.NoError(t, h.o.Turn(ctx, rec.CallUUID, callstate.Turn{Speaker: callstate.SpeakerAssistant, Text: "..."}))
	require.NoError(t, h.o.Disconnect(ctx, rec.CallUUID))

	sec := transcript.Split(h.transcriptOf(t, rec))
	assert.Contains(t, sec.Footer, "Language: TA")
}

func TestOrchestrator_EventsOutsideSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t)

	err := h.o.Turn(ctx, rec.CallUUID, callstate.Turn{Speaker: callstate.SpeakerUser, Text: "hi"})
	assert.ErrorIs(t, err, ErrNoSession)
	assert.NoError(t, h.o.Disconnect(ctx, rec.CallUUID))

	h.connect(t, rec)
	_, err = h.o.Connect(ctx, rec.CallUUID)
	assert.ErrorIs(t, err, ErrBadTransition)

	require.NoError(t, h.o.GreetingCompleted(ctx, rec.CallUUID))
	require.NoError(t, h.o.GreetingCompleted(ctx, rec.CallUUID))
	err = h.o.Turn(ctx, rec.CallUUID, callstate.Turn{Speaker: "system", Text: "x"})
	assert.ErrorIs(t, err, callstate.ErrUnknownSpeaker)
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, canTransition(PhaseDialing, PhaseConnected))
	assert.True(t, canTransition(PhaseGreetingPlaying, PhaseFinalizing))
	assert.False(t, canTransition(PhaseInConversation, PhaseGreetingPlaying))
	assert.False(t, canTransition(PhaseTerminal, PhaseFinalizing))
	assert.False(t, canTransition(PhaseFinalizing, PhaseFinalizing))
	assert.Equal(t, "in_conversation", PhaseInConversation.String())
}

func TestOrchestrator_ProviderHangupReturnsBeforeSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec := h.create(t)
	h.connect(t, rec)
	require.NoError(t, h.o.GreetingCompleted(ctx, rec.CallUUID))
	h.converse(t, rec.CallUUID, 3, 6*time.Second)

	gate := h.sum.hold()
	require.NoError(t, h.o.ProviderHangup(ctx, rec.CallUUID, telephony.CallbackEvent{Cause: "NORMAL_CLEARING", Source: "Caller"}))

	require.Eventually(t, func() bool { return h.sum.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	got, err := h.svc.Get(ctx, rec.CallUUID)
	require.NoError(t, err)
	assert.False(t, got.Status.IsTerminal(), "record stays open while the summary is pending")

	close(gate)
	h.o.Wait()

	got, err = h.svc.Get(ctx, rec.CallUUID)
	require.NoError(t, err)
	assert.Equal(t, calls.StatusCompletedConversation, got.Status)
	assert.Equal(t, "NORMAL_CLEARING", got.HangupCause)
	assert.Zero(t, h.o.Active())
}
