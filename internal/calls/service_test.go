package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu    sync.Mutex
	moves []Status
}

func (o *recordingObserver) OnTransition(_ context.Context, _ Status, rec Record) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.moves = append(o.moves, rec.Status)
}

func newTestService(t *testing.T) (*Service, *MemoryRepo, *MemoryCache, *recordingObserver) {
	t.Helper()
	repo := NewMemoryRepo()
	cache := NewMemoryCache()
	obs := &recordingObserver{}
	now := time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC)
	svc := NewService(repo, WithCache(cache), WithObservers(obs), WithClock(func() time.Time { return now }))
	return svc, repo, cache, obs
}

func TestService_CreateQueuesRecord(t *testing.T) {
	svc, _, cache, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Create(ctx, NewCall{
		PhoneNumber: " +919800000001 ",
		UserID:      "u1",
		CustomData:  CustomData{KeyCustomerName: "Ravi", KeyInvoiceNumber: "INV-1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.CallUUID)
	assert.Equal(t, StatusQueued, rec.Status)
	assert.Equal(t, "+919800000001", rec.PhoneNumber)
	assert.Equal(t, "Ravi", rec.CustomerName)
	assert.Equal(t, "INV-1", rec.InvoiceNumber)
	assert.Nil(t, rec.EndedAt)

	st, ok, _ := cache.Get(ctx, rec.CallUUID)
	assert.True(t, ok)
	assert.Equal(t, StatusQueued, st)
}

func TestService_CreateValidates(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.Create(context.Background(), NewCall{UserID: "u"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.Create(context.Background(), NewCall{PhoneNumber: "+1"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestService_FinalizeFirstTerminalWriteWins(t *testing.T) {
	svc, repo, cache, obs := newTestService(t)
	ctx := context.Background()
	rec, err := svc.Create(ctx, NewCall{PhoneNumber: "+1", UserID: "u"})
	require.NoError(t, err)

	out, applied, err := svc.Finalize(ctx, rec.CallUUID, StatusCompletedConversation)
	require.NoError(t, err)
	assert.True(t, applied)
	require.NotNil(t, out.EndedAt)
	endedAt := *out.EndedAt

	out, applied, err = svc.Finalize(ctx, rec.CallUUID, StatusFailed)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, StatusCompletedConversation, out.Status)
	assert.Equal(t, endedAt, *out.EndedAt)

	assert.Equal(t, 1, repo.Writes())
	_, ok, _ := cache.Get(ctx, rec.CallUUID)
	assert.False(t, ok, "terminal calls leave the cache")
	assert.Equal(t, []Status{StatusQueued, StatusCompletedConversation}, obs.moves)
}

func TestService_MarkProgressRejectsRegressionAndTerminal(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	rec, _ := svc.Create(ctx, NewCall{PhoneNumber: "+1", UserID: "u"})

	_, err := svc.MarkProgress(ctx, rec.CallUUID, StatusInProgress)
	require.NoError(t, err)
	_, err = svc.MarkProgress(ctx, rec.CallUUID, StatusGreetingPlaying)
	assert.ErrorIs(t, err, ErrBackwards)

	_, err = svc.MarkProgress(ctx, rec.CallUUID, StatusInProgress)
	assert.NoError(t, err, "same status is a no-op")

	_, _, err = svc.Finalize(ctx, rec.CallUUID, StatusNoResponse)
	require.NoError(t, err)
	_, err = svc.MarkProgress(ctx, rec.CallUUID, StatusInProgress)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestService_ApplyHangupKeepsFirstCause(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	rec, _ := svc.Create(ctx, NewCall{PhoneNumber: "+1", UserID: "u"})
	_, err := svc.MarkDialed(ctx, rec.CallUUID, "prov-1")
	require.NoError(t, err)

	out, finalized, err := svc.ApplyHangup(ctx, rec.CallUUID, Hangup{Cause: "Busy Line", Source: "Callee"}, true)
	require.NoError(t, err)
	assert.True(t, finalized)
	assert.Equal(t, StatusDeclined, out.Status)
	assert.Equal(t, "prov-1", out.ProviderCallID)

	out, finalized, err = svc.ApplyHangup(ctx, rec.CallUUID, Hangup{Cause: "Normal Hangup", Source: "Caller"}, true)
	require.NoError(t, err)
	assert.False(t, finalized)
	assert.Equal(t, "Busy Line", out.HangupCause)
	assert.Equal(t, "Callee", out.HangupSource)
	assert.Equal(t, StatusDeclined, out.Status)
}

func TestService_StatusReadsThrough(t *testing.T) {
	svc, _, cache, _ := newTestService(t)
	ctx := context.Background()
	rec, _ := svc.Create(ctx, NewCall{PhoneNumber: "+1", UserID: "u"})
	require.NoError(t, cache.Invalidate(ctx, rec.CallUUID))

	st, err := svc.Status(ctx, rec.CallUUID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, st)
	assert.Equal(t, 1, cache.Len())

	_, err = svc.Status(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestService_ConcurrentFinalizeAppliesOnce(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()
	rec, _ := svc.Create(ctx, NewCall{PhoneNumber: "+1", UserID: "u"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for _, st := range []Status{StatusCompletedPartial, StatusFailed, StatusNoResponse, StatusDeclined} {
		wg.Add(1)
		go func(st Status) {
			defer wg.Done()
			_, ok, err := svc.Finalize(ctx, rec.CallUUID, st)
			if err == nil && ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(st)
	}
	wg.Wait()
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, repo.Writes())
}

func TestService_MarkAnswered(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	rec, err := svc.Create(ctx, NewCall{PhoneNumber: "+1", UserID: "u"})
	require.NoError(t, err)
	_, err = svc.MarkDialed(ctx, rec.CallUUID, "req-1")
	require.NoError(t, err)

	got, err := svc.MarkAnswered(ctx, rec.CallUUID, "call-1")
	require.NoError(t, err)
	assert.Equal(t, StatusGreetingPlaying, got.Status)
	assert.Equal(t, "call-1", got.ProviderCallID)

	// A second answer callback after the stream connected keeps in_progress.
	_, err = svc.MarkProgress(ctx, rec.CallUUID, StatusInProgress)
	require.NoError(t, err)
	got, err = svc.MarkAnswered(ctx, rec.CallUUID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)

	_, _, err = svc.Finalize(ctx, rec.CallUUID, StatusCompletedPartial)
	require.NoError(t, err)
	_, err = svc.MarkAnswered(ctx, rec.CallUUID, "")
	assert.ErrorIs(t, err, ErrTerminal)
}
