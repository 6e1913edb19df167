package statusqueue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

type sentCall struct {
	requestID  string
	transition Transition
}

type stubSender struct {
	mu      sync.Mutex
	calls   []sentCall
	respond func(ctx context.Context, requestID string, t Transition) (SendResult, error)
}

func (s *stubSender) Send(ctx context.Context, requestID string, t Transition) (SendResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, sentCall{requestID: requestID, transition: t})
	s.mu.Unlock()
	if s.respond == nil {
		return SendResult{OK: true, EffectiveStatus: t.Target}, nil
	}
	return s.respond(ctx, requestID, t)
}

func (s *stubSender) sent() []sentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentCall(nil), s.calls...)
}

func unreachable() error {
	return pkgerrors.New(pkgerrors.CodeUnreachable, "connection refused")
}

func newQueue(t *testing.T, sender Sender, opts Options) (*Queue, *SQLiteStore) {
	t.Helper()
	store := openStore(t)
	opts.Logger = logger.Nop()
	q, err := New(store, sender, opts)
	require.NoError(t, err)
	return q, store
}

func TestEnqueueOrSendDeliversWhenReachable(t *testing.T) {
	sender := &stubSender{}
	q, _ := newQueue(t, sender, Options{})
	ctx := context.Background()
	a := uuid.New()

	out, err := q.EnqueueOrSend(ctx, Transition{AssignmentID: a, Target: enums.TripStatusLoading})
	require.NoError(t, err)
	require.False(t, out.Queued)
	require.Equal(t, enums.TripStatusLoading, out.EffectiveStatus)
	require.Len(t, sender.sent(), 1)
	require.Equal(t, out.ID, sender.sent()[0].requestID)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	known, err := q.LastKnown(ctx, a)
	require.NoError(t, err)
	require.Equal(t, enums.TripStatusLoading, known.Status)
}

func TestEnqueueOrSendQueuesWhenUnreachable(t *testing.T) {
	sender := &stubSender{respond: func(context.Context, string, Transition) (SendResult, error) {
		return SendResult{}, unreachable()
	}}
	q, _ := newQueue(t, sender, Options{})
	ctx := context.Background()

	out, err := q.EnqueueOrSend(ctx, Transition{AssignmentID: uuid.New(), Target: enums.TripStatusLoaded})
	require.NoError(t, err)
	require.True(t, out.Queued)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, out.ID, pending[0].ID)
	require.Equal(t, sender.sent()[0].requestID, pending[0].ID)
	require.Zero(t, pending[0].Attempts)
}

func TestEnqueueOrSendQueuesOnTimeout(t *testing.T) {
	sender := &stubSender{respond: func(ctx context.Context, _ string, _ Transition) (SendResult, error) {
		<-ctx.Done()
		return SendResult{}, ctx.Err()
	}}
	q, _ := newQueue(t, sender, Options{SendTimeout: 20 * time.Millisecond})

	out, err := q.EnqueueOrSend(context.Background(), Transition{AssignmentID: uuid.New(), Target: enums.TripStatusInTransit})
	require.NoError(t, err)
	require.True(t, out.Queued)
}

func TestEnqueueOrSendSurfacesDomainRejection(t *testing.T) {
	sender := &stubSender{respond: func(context.Context, string, Transition) (SendResult, error) {
		return SendResult{}, pkgerrors.New(pkgerrors.CodeInvalidTransition, "this trip is already delivered and awaiting confirmation").
			WithDetails(map[string]any{"effectiveStatus": "delivered_pending_confirmation"})
	}}
	q, _ := newQueue(t, sender, Options{})
	ctx := context.Background()
	a := uuid.New()

	_, err := q.EnqueueOrSend(ctx, Transition{AssignmentID: a, Target: enums.TripStatusLoading})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	known, err := q.LastKnown(ctx, a)
	require.NoError(t, err)
	require.Equal(t, enums.TripStatusDeliveredPendingConfirmation, known.Status)
}

func TestEnqueueOrSendQueuesBehindPendingItems(t *testing.T) {
	var down atomic.Bool
	down.Store(true)
	sender := &stubSender{respond: func(_ context.Context, _ string, t Transition) (SendResult, error) {
		if down.Load() {
			return SendResult{}, unreachable()
		}
		return SendResult{OK: true, EffectiveStatus: t.Target}, nil
	}}
	q, _ := newQueue(t, sender, Options{})
	ctx := context.Background()
	a := uuid.New()

	first, err := q.EnqueueOrSend(ctx, Transition{AssignmentID: a, Target: enums.TripStatusLoading})
	require.NoError(t, err)
	require.True(t, first.Queued)

	down.Store(false)
	second, err := q.EnqueueOrSend(ctx, Transition{AssignmentID: a, Target: enums.TripStatusLoaded})
	require.NoError(t, err)
	require.True(t, second.Queued)
	require.Len(t, sender.sent(), 1)

	report, err := q.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Sent)
	calls := sender.sent()
	require.Equal(t, first.ID, calls[1].requestID)
	require.Equal(t, second.ID, calls[2].requestID)
}

func TestDrainHoldsBackLaterItemsOfAFailingAssignment(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)
	a, b := uuid.New(), uuid.New()
	a1 := queued(a, enums.TripStatusLoading, base)
	a2 := queued(a, enums.TripStatusLoaded, base.Add(time.Second))
	b1 := queued(b, enums.TripStatusLoading, base.Add(2*time.Second))
	for _, item := range []QueuedTransition{a1, a2, b1} {
		require.NoError(t, store.Enqueue(ctx, item))
	}

	sender := &stubSender{respond: func(_ context.Context, requestID string, t Transition) (SendResult, error) {
		if requestID == a1.ID {
			return SendResult{}, unreachable()
		}
		return SendResult{OK: true, EffectiveStatus: t.Target}, nil
	}}
	q, err := New(store, sender, Options{Logger: logger.Nop()})
	require.NoError(t, err)

	report, err := q.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, DrainReport{Sent: 1, Retried: 1}, report)

	var ids []string
	for _, c := range sender.sent() {
		ids = append(ids, c.requestID)
	}
	require.Equal(t, []string{a1.ID, b1.ID}, ids)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, a1.ID, pending[0].ID)
	require.Equal(t, 1, pending[0].Attempts)
	require.Equal(t, a2.ID, pending[1].ID)
	require.Zero(t, pending[1].Attempts)
}

func TestDrainDropsAfterMaxAttempts(t *testing.T) {
	sender := &stubSender{respond: func(context.Context, string, Transition) (SendResult, error) {
		return SendResult{}, unreachable()
	}}
	var dropped []FailedTransition
	q, store := newQueue(t, sender, Options{
		MaxAttempts: 5,
		OnDropped:   func(f FailedTransition) { dropped = append(dropped, f) },
	})
	ctx := context.Background()
	item := queued(uuid.New(), enums.TripStatusLoading, time.Now())
	require.NoError(t, store.Enqueue(ctx, item))

	for i := 1; i < 5; i++ {
		report, err := q.Drain(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, report.Retried, "pass %d", i)
	}
	require.Empty(t, dropped)

	report, err := q.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Dropped)
	require.Len(t, dropped, 1)
	require.Equal(t, item.ID, dropped[0].ID)
	require.Equal(t, 5, dropped[0].Attempts)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
	failed, err := q.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	// the user acknowledged the failure and asked for another try
	requeued, err := q.Resync(ctx, item.ID)
	require.NoError(t, err)
	require.Zero(t, requeued.Attempts)
	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestDrainMovesRejectedReplayToFailed(t *testing.T) {
	sender := &stubSender{respond: func(context.Context, string, Transition) (SendResult, error) {
		return SendResult{}, pkgerrors.New(pkgerrors.CodeInvalidTransition, "this trip has already moved past loading")
	}}
	var dropped int
	q, store := newQueue(t, sender, Options{OnDropped: func(FailedTransition) { dropped++ }})
	ctx := context.Background()
	item := queued(uuid.New(), enums.TripStatusLoading, time.Now())
	require.NoError(t, store.Enqueue(ctx, item))

	report, err := q.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Dropped)
	require.Equal(t, 1, dropped)

	failed, err := q.Failed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Contains(t, failed[0].Reason, "INVALID_TRANSITION")
}

func TestDrainDoesNotOverlap(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	sender := &stubSender{respond: func(_ context.Context, _ string, t Transition) (SendResult, error) {
		close(entered)
		<-release
		return SendResult{OK: true, EffectiveStatus: t.Target}, nil
	}}
	q, store := newQueue(t, sender, Options{})
	ctx := context.Background()
	require.NoError(t, store.Enqueue(ctx, queued(uuid.New(), enums.TripStatusLoading, time.Now())))

	done := make(chan DrainReport)
	go func() {
		report, _ := q.Drain(ctx)
		done <- report
	}()
	<-entered

	report, err := q.Drain(ctx)
	require.NoError(t, err)
	require.True(t, report.Skipped)

	close(release)
	first := <-done
	require.Equal(t, 1, first.Sent)
}

func TestRunDrainsOnStartAndStopsWithContext(t *testing.T) {
	sender := &stubSender{}
	q, store := newQueue(t, sender, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, store.Enqueue(ctx, queued(uuid.New(), enums.TripStatusLoading, time.Now())))

	errCh := make(chan error)
	go func() { errCh <- q.Run(ctx, time.Hour) }()

	require.Eventually(t, func() bool {
		pending, err := store.Pending(context.Background())
		return err == nil && len(pending) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
}

// fakeAPI applies each idempotency key once, like the trips endpoint does.
type fakeAPI struct {
	down    atomic.Bool
	mu      sync.Mutex
	applied map[string]enums.TripStatus
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.down.Load() {
		<-r.Context().Done()
		return
	}
	var body transitionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	key := r.Header.Get("Idempotency-Key")

	f.mu.Lock()
	_, replayed := f.applied[key]
	if !replayed {
		f.applied[key] = enums.TripStatus(body.Status)
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": SendResult{OK: true, EffectiveStatus: enums.TripStatus(body.Status), Replayed: replayed},
	})
}

func TestTimedOutTransitionIsQueuedAndReplayedOnce(t *testing.T) {
	api := &fakeAPI{applied: map[string]enums.TripStatus{}}
	api.down.Store(true)
	srv := httptest.NewServer(api)
	defer srv.Close()

	sender, err := NewHTTPSender(srv.URL, "token", srv.Client())
	require.NoError(t, err)
	q, _ := newQueue(t, sender, Options{SendTimeout: 100 * time.Millisecond})
	ctx := context.Background()
	a := uuid.New()

	out, err := q.EnqueueOrSend(ctx, Transition{AssignmentID: a, Target: enums.TripStatusInTransit})
	require.NoError(t, err)
	require.True(t, out.Queued)
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Zero(t, pending[0].Attempts)

	api.down.Store(false)
	report, err := q.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Sent)

	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
	known, err := q.LastKnown(ctx, a)
	require.NoError(t, err)
	require.Equal(t, enums.TripStatusInTransit, known.Status)

	// the same item replayed again must not apply twice
	res, err := sender.Send(ctx, out.ID, Transition{AssignmentID: a, Target: enums.TripStatusInTransit})
	require.NoError(t, err)
	require.True(t, res.Replayed)
	api.mu.Lock()
	require.Len(t, api.applied, 1)
	api.mu.Unlock()
}
