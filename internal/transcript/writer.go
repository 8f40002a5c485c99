package transcript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"reminder-voice/internal/callstate"
	"reminder-voice/internal/calls"
)

const (
	border             = "======================================================================"
	titleLine          = "=== MULTILINGUAL CALL TRANSCRIPT ==="
	conversationMarker = "CONVERSATION:"
	endedLabel         = "Ended:"

	// SummaryMarker prefixes every summary block title.
	SummaryMarker = "=== CALL SUMMARY"

	TitleAISummary       = "=== CALL SUMMARY (Generated by AI) ==="
	TitleTemplateSummary = "=== CALL SUMMARY ==="
	TitleErrorSummary    = "=== CALL SUMMARY (Unavailable) ==="
)

var (
	ErrHeaderMissing  = errors.New("transcript: header not written")
	ErrAlreadyWritten = errors.New("transcript: section already written")
)

// Header is the metadata block written when the call connects.
type Header struct {
	CallUUID           string
	UserID             string
	CustomerName       string
	InvoiceNumber      string
	InvoiceDate        string
	TotalAmount        string
	OutstandingBalance string
	StartedAt          time.Time
}

// HeaderFromRecord fills a Header from call custom data.
func HeaderFromRecord(rec calls.Record, startedAt time.Time) Header {
	d := rec.CustomData
	return Header{
		CallUUID:           rec.CallUUID,
		UserID:             rec.UserID,
		CustomerName:       d.StringOr(calls.KeyCustomerName, orNA(rec.CustomerName)),
		InvoiceNumber:      d.StringOr(calls.KeyInvoiceNumber, orNA(rec.InvoiceNumber)),
		InvoiceDate:        d.StringOr(calls.KeyInvoiceDate, "N/A"),
		TotalAmount:        d.StringOr(calls.KeyTotalAmount, "N/A"),
		OutstandingBalance: d.StringOr(calls.KeyOutstandingBalance, "N/A"),
		StartedAt:          startedAt,
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// Footer closes the conversation section.
type Footer struct {
	EndedAt           time.Time
	Status            calls.Status
	Duration          time.Duration
	UserTurns         int
	BotTurns          int
	GreetingCompleted bool
	Language          callstate.Language
	// FirstUserReply is the time from connect to the first user turn. It is
	// only written when UserReplied is set.
	FirstUserReply time.Duration
	UserReplied    bool
}

// Writer appends to one call's transcript file.
//
// Each write opens, appends and closes the file, so a crash never leaves a
// buffered tail behind. The header, footer and summary are each written at
// most once.
type Writer struct {
	mu   sync.Mutex
	path string

	header  bool
	footer  bool
	summary bool
}

func NewWriter(path string) *Writer { return &Writer{path: path} }

func (w *Writer) Path() string { return w.path }

func (w *Writer) WriteHeader(h Header) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.header {
		return ErrAlreadyWritten
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("transcript: mkdir: %w", err)
	}

	var b strings.Builder
	b.WriteString(border + "\n")
	b.WriteString(titleLine + "\n")
	b.WriteString(border + "\n\n")
	fmt.Fprintf(&b, "Call UUID: %s\n", h.CallUUID)
	fmt.Fprintf(&b, "User ID: %s\n", h.UserID)
	fmt.Fprintf(&b, "Customer Name: %s\n", h.CustomerName)
	fmt.Fprintf(&b, "Invoice Number: %s\n", h.InvoiceNumber)
	fmt.Fprintf(&b, "Invoice Date: %s\n", h.InvoiceDate)
	fmt.Fprintf(&b, "Total Amount: %s\n", h.TotalAmount)
	fmt.Fprintf(&b, "Outstanding Balance: %s\n", h.OutstandingBalance)
	fmt.Fprintf(&b, "Started: %s\n\n", h.StartedAt.Format(time.RFC3339))
	b.WriteString(border + "\n")
	b.WriteString(conversationMarker + "\n")
	b.WriteString(border + "\n\n")

	if err := os.WriteFile(w.path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("transcript: write header: %w", err)
	}
	w.header = true
	return nil
}

// AppendTurn writes one "[timestamp] SPEAKER: text" line.
func (w *Writer) AppendTurn(t callstate.Turn) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.header {
		return ErrHeaderMissing
	}
	if w.footer {
		return ErrAlreadyWritten
	}
	text := strings.ReplaceAll(strings.TrimSpace(t.Text), "\n", " ")
	line := fmt.Sprintf("[%s] %s: %s\n", t.At.Format(time.RFC3339), t.Speaker.Label(), text)
	return w.append(line)
}

func (w *Writer) WriteFooter(f Footer) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.header {
		return ErrHeaderMissing
	}
	if w.footer {
		return ErrAlreadyWritten
	}

	var b strings.Builder
	b.WriteString("\n" + border + "\n")
	fmt.Fprintf(&b, "%s %s\n", endedLabel, f.EndedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Status: %s\n", f.Status)
	fmt.Fprintf(&b, "Duration: %.1fs\n", f.Duration.Seconds())
	fmt.Fprintf(&b, "User Messages: %d\n", f.UserTurns)
	fmt.Fprintf(&b, "Bot Messages: %d\n", f.BotTurns)
	fmt.Fprintf(&b, "Greeting Completed: %s\n", yesNo(f.GreetingCompleted))
	if f.UserReplied {
		fmt.Fprintf(&b, "First User Reply: %.1fs\n", f.FirstUserReply.Seconds())
	} else {
		b.WriteString("First User Reply: none\n")
	}
	fmt.Fprintf(&b, "Language: %s\n", f.Language)
	b.WriteString(border + "\n")

	if err := w.append(b.String()); err != nil {
		return err
	}
	w.footer = true
	return nil
}

// AppendSummary writes the closing summary block. Only the first block is kept.
func (w *Writer) AppendSummary(title, body string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.header {
		return ErrHeaderMissing
	}
	if w.summary {
		return ErrAlreadyWritten
	}
	block := "\n" + title + "\n" + strings.TrimSpace(body) + "\n"
	if err := w.append(block); err != nil {
		return err
	}
	w.summary = true
	return nil
}

// AppendError closes the transcript with an error marker instead of a summary.
func (w *Writer) AppendError(cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return w.AppendSummary(TitleErrorSummary, "Summary generation failed: "+msg)
}

func (w *Writer) HasSummary() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.summary
}

// Read returns the current file content.
func (w *Writer) Read() (string, error) {
	b, err := os.ReadFile(w.path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (w *Writer) append(s string) error {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("transcript: open: %w", err)
	}
	if _, err := f.WriteString(s); err != nil {
		_ = f.Close()
		return fmt.Errorf("transcript: append: %w", err)
	}
	return f.Close()
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
