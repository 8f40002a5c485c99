package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"reminder-voice/internal/calls"
)

// StatusEvent is published on every applied call record change.
type StatusEvent struct {
	CallUUID       string       `json:"call_uuid"`
	UserID         string       `json:"user_id"`
	Status         calls.Status `json:"status"`
	PreviousStatus calls.Status `json:"previous_status,omitempty"`
	Terminal       bool         `json:"terminal"`
	HangupCause    string       `json:"hangup_cause,omitempty"`
	HangupSource   string       `json:"hangup_source,omitempty"`
	At             time.Time    `json:"at"`
}

// OutcomeEvent is published once a call's summary is written.
type OutcomeEvent struct {
	CallUUID    string       `json:"call_uuid"`
	UserID      string       `json:"user_id"`
	Status      calls.Status `json:"status"`
	SummaryKind string       `json:"summary_kind"`
	Tags        []string     `json:"tags"`
	CutOffDate  string       `json:"cut_off_date,omitempty"`
	At          time.Time    `json:"at"`
}

// StatusPublisher turns call record changes into bus messages. It is a
// calls.Observer; publish failures are logged and never fail the write.
type StatusPublisher struct {
	pub     Publisher
	prefix  string
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
}

func NewStatusPublisher(pub Publisher, topicPrefix string, log *slog.Logger) *StatusPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &StatusPublisher{
		pub:     pub,
		prefix:  strings.TrimSuffix(topicPrefix, "/"),
		timeout: 3 * time.Second,
		log:     log,
		now:     time.Now,
	}
}

func (p *StatusPublisher) StatusTopic(callUUID string) string {
	return p.prefix + "/calls/" + callUUID + "/status"
}

func (p *StatusPublisher) OutcomeTopic(callUUID string) string {
	return p.prefix + "/calls/" + callUUID + "/outcome"
}

func (p *StatusPublisher) OnTransition(ctx context.Context, prev calls.Status, rec calls.Record) {
	if prev == rec.Status && prev != "" {
		// Field-only change such as provider call id or hangup cause.
		if rec.HangupCause == "" {
			return
		}
	}
	p.send(ctx, p.StatusTopic(rec.CallUUID), StatusEvent{
		CallUUID:       rec.CallUUID,
		UserID:         rec.UserID,
		Status:         rec.Status,
		PreviousStatus: prev,
		Terminal:       rec.Status.IsTerminal(),
		HangupCause:    rec.HangupCause,
		HangupSource:   rec.HangupSource,
		At:             p.now().UTC(),
	})
}

// PublishOutcome announces the summary result of a finished call.
func (p *StatusPublisher) PublishOutcome(ctx context.Context, ev OutcomeEvent) {
	if ev.At.IsZero() {
		ev.At = p.now().UTC()
	}
	if ev.Tags == nil {
		ev.Tags = []string{}
	}
	p.send(ctx, p.OutcomeTopic(ev.CallUUID), ev)
}

func (p *StatusPublisher) send(ctx context.Context, topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Error("event encode failed", "topic", topic, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.pub.Publish(ctx, topic, payload); err != nil {
		p.log.Warn("event publish failed", "topic", topic, "err", err)
	}
}
