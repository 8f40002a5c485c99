// Package queue serializes outbound calls: one call is dialed and followed to
// a terminal status before the next one starts.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reminder-voice/internal/calls"
	"reminder-voice/pkg/logger"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxWait      = 600 * time.Second
	DefaultDialGap      = 1 * time.Second
)

// Store is the call record access the queue needs.
type Store interface {
	Create(ctx context.Context, in calls.NewCall) (calls.Record, error)
	Get(ctx context.Context, callUUID string) (calls.Record, error)
	MarkFailed(ctx context.Context, callUUID string, reason error) (calls.Record, bool, error)
}

// Dialer starts the outbound call for a queued record.
type Dialer interface {
	Dial(ctx context.Context, rec calls.Record) error
}

type Config struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	DialGap      time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.DialGap < 0 {
		c.DialGap = 0
	}
	return c
}

// Queue is a FIFO of call_uuids with a single consumer.
type Queue struct {
	store  Store
	dialer Dialer
	slot   Slot
	cfg    Config
	log    *slog.Logger

	mu      sync.Mutex
	pending []string
	wake    chan struct{}
	running bool
}

type Option func(*Queue)

// WithSlot gates each dial on a shared slot, for deployments with more
// than one replica.
func WithSlot(s Slot) Option { return func(q *Queue) { q.slot = s } }

func WithLogger(l *slog.Logger) Option { return func(q *Queue) { q.log = l } }

func New(store Store, dialer Dialer, cfg Config, opts ...Option) *Queue {
	q := &Queue{
		store:  store,
		dialer: dialer,
		cfg:    cfg.withDefaults(),
		log:    slog.Default(),
		wake:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

var ErrAlreadyRunning = errors.New("queue: consumer already running")

// Enqueue creates a queued call record and appends it to the tail. It
// returns without waiting for the call.
func (q *Queue) Enqueue(ctx context.Context, in calls.NewCall) (calls.Record, error) {
	q.mu.Lock()
	rec, err := q.store.Create(ctx, in)
	if err == nil {
		q.pending = append(q.pending, rec.CallUUID)
	}
	q.mu.Unlock()
	if err != nil {
		return calls.Record{}, err
	}
	q.signal()
	return rec, nil
}

// ItemError reports a rejected batch entry.
type ItemError struct {
	Index int
	Err   error
}

func (e ItemError) Error() string { return fmt.Sprintf("call %d: %v", e.Index, e.Err) }

func (e ItemError) Unwrap() error { return e.Err }

// EnqueueBatch enqueues every valid entry in order. The accepted calls sit
// next to each other in the queue; rejected entries are reported and skipped.
func (q *Queue) EnqueueBatch(ctx context.Context, in []calls.NewCall) ([]calls.Record, []ItemError) {
	out := make([]calls.Record, 0, len(in))
	var rejected []ItemError

	q.mu.Lock()
	for i, nc := range in {
		rec, err := q.store.Create(ctx, nc)
		if err != nil {
			rejected = append(rejected, ItemError{Index: i, Err: err})
			continue
		}
		q.pending = append(q.pending, rec.CallUUID)
		out = append(out, rec)
	}
	q.mu.Unlock()

	if len(out) > 0 {
		q.signal()
	}
	return out, rejected
}

// Len is the number of calls waiting to be dialed.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	id := q.pending[0]
	q.pending[0] = ""
	q.pending = q.pending[1:]
	return id, true
}

// Run is the consumer loop. It returns when ctx is cancelled. Only one Run
// may be active per Queue.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return ErrAlreadyRunning
	}
	q.running = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	q.log.Info("call queue consumer started")
	for {
		id, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				q.log.Info("call queue consumer stopped")
				return ctx.Err()
			case <-q.wake:
			}
			continue
		}

		q.process(ctx, id)

		if err := sleep(ctx, q.cfg.DialGap); err != nil {
			return err
		}
	}
}

// process dials one call and waits for it to finish. Nothing that happens
// to one call may stop the loop.
func (q *Queue) process(ctx context.Context, callUUID string) {
	log := logger.ForCall(q.log, callUUID)
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("queue: panic: %v", p)
			log.Error("call processing panicked", "err", err)
			q.fail(ctx, log, callUUID, err)
		}
	}()

	rec, err := q.store.Get(ctx, callUUID)
	if err != nil {
		log.Error("queued call lookup failed", "err", err)
		return
	}
	if rec.Status.IsTerminal() {
		log.Info("queued call already finished, skipping", "status", rec.Status)
		return
	}

	if q.slot != nil {
		release, err := q.slot.Acquire(ctx)
		if err != nil {
			log.Warn("dial slot unavailable, dialing without it", "err", err)
		} else {
			defer release()
		}
	}

	log.Info("dialing queued call", "phone_number", rec.PhoneNumber)
	if err := q.dialer.Dial(ctx, rec); err != nil {
		log.Error("dial failed", "err", err)
		q.fail(ctx, log, callUUID, err)
		return
	}

	final, err := q.wait(ctx, callUUID)
	switch {
	case err == nil:
		log.Info("call finished", "status", final)
	case errors.Is(err, errWaitCeiling):
		log.Warn("gave up waiting for call, advancing queue", "max_wait", q.cfg.MaxWait.String(), "status", final)
	default:
		log.Warn("wait for call interrupted", "err", err)
	}
}

func (q *Queue) fail(ctx context.Context, log *slog.Logger, callUUID string, reason error) {
	if _, _, err := q.store.MarkFailed(ctx, callUUID, reason); err != nil {
		log.Error("mark failed", "err", err)
	}
}

var errWaitCeiling = errors.New("queue: wait ceiling reached")

// wait polls the record store, never the cache, until the call is terminal
// or MaxWait passes.
func (q *Queue) wait(ctx context.Context, callUUID string) (calls.Status, error) {
	deadline := time.Now().Add(q.cfg.MaxWait)
	var last calls.Status
	for {
		rec, err := q.store.Get(ctx, callUUID)
		if err == nil {
			last = rec.Status
			if last.IsTerminal() {
				return last, nil
			}
		}
		if !time.Now().Before(deadline) {
			return last, errWaitCeiling
		}
		if err := sleep(ctx, min(q.cfg.PollInterval, time.Until(deadline))); err != nil {
			return last, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
