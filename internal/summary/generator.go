// Package summary closes a transcript with either a model-written summary or
// a free template summary.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"reminder-voice/internal/callstate"
	"reminder-voice/internal/calls"
	"reminder-voice/internal/outcome"
	"reminder-voice/internal/transcript"
	"reminder-voice/pkg/logger"
)

// MinTurnLines is the fewest extracted turn lines worth sending to the model.
const MinTurnLines = 3

// Summarizer turns a prompt into free text.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Kind says which summary block was written.
type Kind string

const (
	KindAI       Kind = "ai"
	KindTemplate Kind = "template"
	KindTooShort Kind = "too_short"
	KindError    Kind = "error"
)

// Input is what the generator knows about a finished call.
type Input struct {
	CallUUID    string
	Outcome     calls.Status
	Metrics     callstate.Metrics
	InvoiceDate string
	CallDate    time.Time
}

// Result reports the block written to the transcript.
type Result struct {
	Kind       Kind
	Outcomes   []outcome.Tag
	Correction outcome.Correction
	// CutOffDate is the promised payment date as YYYY-MM-DD, if any.
	CutOffDate string
}

type Generator struct {
	summarizer Summarizer
	timeout    time.Duration
	log        *slog.Logger
}

type Option func(*Generator)

func WithTimeout(d time.Duration) Option { return func(g *Generator) { g.timeout = d } }

func WithLogger(l *slog.Logger) Option { return func(g *Generator) { g.log = l } }

// NewGenerator builds a Generator. A nil summarizer means every call gets
// the template summary.
func NewGenerator(s Summarizer, opts ...Option) *Generator {
	g := &Generator{summarizer: s, timeout: 60 * time.Second, log: slog.Default()}
	for _, o := range opts {
		o(g)
	}
	return g
}

var errEmptySummary = errors.New("summary: empty response")

// Generate appends exactly one summary block to the transcript.
//
// Calls that are not meaningful, or whose transcript holds fewer than
// MinTurnLines turns, get a template summary and no model request. Any
// failure on the model path is logged and closes the transcript with an
// error block; the error is returned for the caller's records.
func (g *Generator) Generate(ctx context.Context, w *transcript.Writer, in Input) (res Result, err error) {
	log := logger.ForCall(g.log, in.CallUUID)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("summary: panic: %v", p)
			log.Error("summary generation panicked", "err", err)
			_ = w.AppendError(err)
			res = Result{Kind: KindError}
		}
	}()

	if !callstate.IsMeaningful(in.Metrics) || g.summarizer == nil {
		return g.template(w, in, KindTemplate, 0)
	}

	content, err := w.Read()
	if err != nil {
		return g.fail(log, w, fmt.Errorf("summary: read transcript: %w", err))
	}
	turns := transcript.ExtractTurns(content)
	if len(turns) < MinTurnLines {
		log.Info("transcript too short for model summary", "turn_lines", len(turns))
		return g.template(w, in, KindTooShort, len(turns))
	}

	invoiceDate := in.InvoiceDate
	if invoiceDate == "" {
		invoiceDate = headerField(content, "Invoice Date:")
	}
	callDate := in.CallDate
	if callDate.IsZero() {
		callDate = time.Now()
	}

	sctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	text, err := g.summarizer.Summarize(sctx, BuildPrompt(turns, callDate))
	if err != nil {
		return g.fail(log, w, fmt.Errorf("summary: provider: %w", err))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return g.fail(log, w, errEmptySummary)
	}

	corrected, c := outcome.Correct(text, invoiceDate)
	if c.Applied {
		log.Info("cut-off date replaced with no commitment", "reason", c.Reason)
	}
	if err := w.AppendSummary(transcript.TitleAISummary, corrected); err != nil {
		return Result{}, fmt.Errorf("summary: write: %w", err)
	}
	parsed := outcome.Parse(corrected)
	res = Result{Kind: KindAI, Outcomes: parsed.Tags(), Correction: c}
	if d, ok := outcome.CutOffDate(parsed); ok {
		res.CutOffDate = d.Format(time.DateOnly)
	}
	return res, nil
}

func (g *Generator) fail(log *slog.Logger, w *transcript.Writer, err error) (Result, error) {
	log.Error("summary generation failed", "err", err)
	if werr := w.AppendError(err); werr != nil {
		log.Error("error marker write failed", "err", werr)
	}
	return Result{Kind: KindError}, err
}

func (g *Generator) template(w *transcript.Writer, in Input, kind Kind, turnLines int) (Result, error) {
	body := TemplateBody(in.Outcome, in.Metrics, kind == KindTooShort, turnLines)
	if err := w.AppendSummary(transcript.TitleTemplateSummary, body); err != nil {
		return Result{}, fmt.Errorf("summary: write: %w", err)
	}
	return Result{Kind: kind, Outcomes: outcome.Parse(body).Tags()}, nil
}

func outcomeLine(status calls.Status, tooShort bool) string {
	switch status {
	case calls.StatusAbandonedPreGreeting:
		return "- FAILED: Customer hung up before greeting completed"
	case calls.StatusNoResponse:
		return "- FAILED: Customer did not respond"
	case calls.StatusAbandonedEarly:
		return "- FAILED: Customer hung up immediately (< 10 seconds)"
	case calls.StatusAbandonedPostGreeting:
		return "- FAILED: Customer hung up after greeting"
	case calls.StatusCompletedPartial:
		return "- NO_COMMITMENT: Brief conversation, no commitment"
	case calls.StatusCompletedConversation:
		if tooShort {
			return "- NO_COMMITMENT: Conversation too short for detailed analysis"
		}
		return "- NO_COMMITMENT: No summary available"
	}
	if status.IsFailure() {
		return fmt.Sprintf("- FAILED: Call did not reach the customer (%s)", status)
	}
	return fmt.Sprintf("- UNKNOWN: %s", status)
}

// TemplateBody is the free summary written without a model call.
func TemplateBody(status calls.Status, m callstate.Metrics, tooShort bool, turnLines int) string {
	var b strings.Builder
	b.WriteString("**CALL OUTCOMES:**\n")
	b.WriteString(outcomeLine(status, tooShort) + "\n\n")
	fmt.Fprintf(&b, "**Outcome:** %s\n", status)
	if tooShort {
		fmt.Fprintf(&b, "**Reason:** TOO_SHORT (%d turn lines)\n", turnLines)
	}
	fmt.Fprintf(&b, "**Duration:** %.0f seconds\n", m.Duration.Seconds())
	fmt.Fprintf(&b, "**User Messages:** %d\n", m.UserTurns)
	fmt.Fprintf(&b, "**Bot Messages:** %d\n", m.BotTurns)
	fmt.Fprintf(&b, "**Greeting Completed:** %s\n", map[bool]string{true: "Yes", false: "No"}[m.GreetingCompleted])
	return b.String()
}

func headerField(content, label string) string {
	for _, line := range strings.Split(transcript.Split(content).Metadata, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), label); ok {
			v = strings.TrimSpace(v)
			if v == "N/A" {
				return ""
			}
			return v
		}
	}
	return ""
}
