package statusqueue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

const (
	DefaultSendTimeout = 15 * time.Second
	DefaultMaxAttempts = 5
)

// Transition is a status change the driver asked for.
type Transition struct {
	AssignmentID uuid.UUID
	Target       enums.TripStatus
	Notes        *string
	Lat          *float64
	Lng          *float64
}

// QueuedTransition is a transition waiting for the backend to become reachable.
// ID doubles as the request id, so replays of the same item are idempotent.
type QueuedTransition struct {
	ID           string           `json:"id" yaml:"id"`
	AssignmentID uuid.UUID        `json:"assignmentId" yaml:"assignmentId"`
	Target       enums.TripStatus `json:"targetStatus" yaml:"targetStatus"`
	Notes        *string          `json:"notes,omitempty" yaml:"notes,omitempty"`
	Lat          *float64         `json:"lat,omitempty" yaml:"lat,omitempty"`
	Lng          *float64         `json:"lng,omitempty" yaml:"lng,omitempty"`
	RequestedAt  time.Time        `json:"requestedAt" yaml:"requestedAt"`
	Attempts     int              `json:"attempts" yaml:"attempts"`
	LastError    string           `json:"lastError,omitempty" yaml:"lastError,omitempty"`
}

func (q QueuedTransition) transition() Transition {
	return Transition{AssignmentID: q.AssignmentID, Target: q.Target, Notes: q.Notes, Lat: q.Lat, Lng: q.Lng}
}

// FailedTransition was given up on and needs a manual resync.
type FailedTransition struct {
	QueuedTransition `yaml:",inline"`
	Reason           string    `json:"reason" yaml:"reason"`
	FailedAt         time.Time `json:"failedAt" yaml:"failedAt"`
}

// LastKnownStatus is the status the client last saw confirmed by the backend.
type LastKnownStatus struct {
	AssignmentID uuid.UUID        `json:"assignmentId" yaml:"assignmentId"`
	Status       enums.TripStatus `json:"status" yaml:"status"`
	UpdatedAt    time.Time        `json:"updatedAt" yaml:"updatedAt"`
}

// SendResult is what the backend answered for an applied transition.
type SendResult struct {
	OK              bool             `json:"ok"`
	EffectiveStatus enums.TripStatus `json:"effectiveStatus"`
	Replayed        bool             `json:"replayed"`
}

// Sender delivers a transition to the backend under the given request id.
type Sender interface {
	Send(ctx context.Context, requestID string, t Transition) (SendResult, error)
}

// Outcome of EnqueueOrSend.
type Outcome struct {
	Queued          bool             `json:"queued" yaml:"queued"`
	ID              string           `json:"id" yaml:"id"`
	EffectiveStatus enums.TripStatus `json:"effectiveStatus,omitempty" yaml:"effectiveStatus,omitempty"`
}

// DrainReport counts what a drain pass did.
type DrainReport struct {
	Sent    int  `json:"sent" yaml:"sent"`
	Retried int  `json:"retried" yaml:"retried"`
	Dropped int  `json:"dropped" yaml:"dropped"`
	Skipped bool `json:"skipped" yaml:"skipped"`
}

// Options tune a Queue.
type Options struct {
	SendTimeout time.Duration
	MaxAttempts int
	// OnDropped fires when an item is moved to the failed list.
	OnDropped func(FailedTransition)
	Logger    *logger.Logger
}

// Queue sends transitions and buffers the ones the backend could not take.
type Queue struct {
	store       Store
	sender      Sender
	sendTimeout time.Duration
	maxAttempts int
	onDropped   func(FailedTransition)
	logg        *logger.Logger
	now         func() time.Time
	draining    atomic.Bool
}

// New builds a queue over store and sender.
func New(store Store, sender Sender, opts Options) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("queue store required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender required")
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Queue{
		store:       store,
		sender:      sender,
		sendTimeout: opts.SendTimeout,
		maxAttempts: opts.MaxAttempts,
		onDropped:   opts.OnDropped,
		logg:        opts.Logger,
		now:         time.Now,
	}, nil
}

// EnqueueOrSend tries the transition right away. When the backend cannot be
// reached it stores the transition and reports it as queued. Domain
// rejections are returned as errors and nothing is stored.
func (q *Queue) EnqueueOrSend(ctx context.Context, t Transition) (Outcome, error) {
	if t.AssignmentID == uuid.Nil {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "assignment id required")
	}
	if !t.Target.IsValid() {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown trip status %q", t.Target))
	}

	item := QueuedTransition{
		ID:           uuid.NewString(),
		AssignmentID: t.AssignmentID,
		Target:       t.Target,
		Notes:        t.Notes,
		Lat:          t.Lat,
		Lng:          t.Lng,
		RequestedAt:  q.now().UTC(),
	}
	ctx = q.logg.WithFields(ctx, map[string]any{
		"assignment_id": t.AssignmentID.String(),
		"target_status": string(t.Target),
		"queue_item_id": item.ID,
	})

	// an earlier transition for the same assignment is still waiting
	waiting, err := q.hasPending(ctx, t.AssignmentID)
	if err != nil {
		return Outcome{}, err
	}
	if waiting {
		if err := q.store.Enqueue(ctx, item); err != nil {
			return Outcome{}, fmt.Errorf("enqueue transition: %w", err)
		}
		q.logg.Info(ctx, "transition queued behind pending items")
		return Outcome{Queued: true, ID: item.ID}, nil
	}

	res, err := q.send(ctx, item)
	if err == nil {
		q.remember(ctx, t.AssignmentID, res.EffectiveStatus)
		return Outcome{ID: item.ID, EffectiveStatus: res.EffectiveStatus}, nil
	}
	if !isUnreachable(err) {
		q.rememberRejection(ctx, t.AssignmentID, err)
		return Outcome{}, err
	}

	if err := q.store.Enqueue(ctx, item); err != nil {
		return Outcome{}, fmt.Errorf("enqueue transition: %w", err)
	}
	q.logg.Warn(q.logg.WithField(ctx, "error", err.Error()), "backend unreachable, transition queued")
	return Outcome{Queued: true, ID: item.ID}, nil
}

// Drain replays queued items oldest first. A retryable failure holds back the
// remaining items of the same assignment until the next pass. Concurrent calls
// return immediately with Skipped set.
func (q *Queue) Drain(ctx context.Context) (DrainReport, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return DrainReport{Skipped: true}, nil
	}
	defer q.draining.Store(false)

	items, err := q.store.Pending(ctx)
	if err != nil {
		return DrainReport{}, fmt.Errorf("list queued transitions: %w", err)
	}

	var report DrainReport
	blocked := make(map[uuid.UUID]bool)
	for _, item := range items {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if blocked[item.AssignmentID] {
			continue
		}
		itemCtx := q.logg.WithFields(ctx, map[string]any{
			"assignment_id": item.AssignmentID.String(),
			"target_status": string(item.Target),
			"queue_item_id": item.ID,
			"attempts":      item.Attempts,
		})

		res, sendErr := q.send(itemCtx, item)
		switch {
		case sendErr == nil:
			if err := q.store.Delete(itemCtx, item.ID); err != nil {
				return report, fmt.Errorf("delete sent transition: %w", err)
			}
			q.remember(itemCtx, item.AssignmentID, res.EffectiveStatus)
			report.Sent++
			q.logg.Info(itemCtx, "queued transition delivered")

		case isUnreachable(sendErr):
			blocked[item.AssignmentID] = true
			attempts, err := q.store.MarkAttempt(itemCtx, item.ID, sendErr.Error())
			if err != nil {
				return report, fmt.Errorf("record attempt: %w", err)
			}
			item.Attempts = attempts
			item.LastError = sendErr.Error()
			if attempts < q.maxAttempts {
				report.Retried++
				q.logg.Debug(itemCtx, "queued transition still unreachable")
				continue
			}
			if err := q.drop(itemCtx, item, fmt.Sprintf("gave up after %d attempts", attempts)); err != nil {
				return report, err
			}
			report.Dropped++

		default:
			q.rememberRejection(itemCtx, item.AssignmentID, sendErr)
			item.LastError = sendErr.Error()
			if err := q.drop(itemCtx, item, rejectionReason(sendErr)); err != nil {
				return report, err
			}
			report.Dropped++
		}
	}
	return report, nil
}

// Run drains once immediately and then on every tick until ctx is done.
func (q *Queue) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	q.drainAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			q.drainAndLog(ctx)
		}
	}
}

func (q *Queue) drainAndLog(ctx context.Context) {
	report, err := q.Drain(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		q.logg.Error(ctx, "queue drain failed", err)
		return
	}
	if report.Sent+report.Retried+report.Dropped > 0 {
		q.logg.Info(q.logg.WithFields(ctx, map[string]any{
			"sent":    report.Sent,
			"retried": report.Retried,
			"dropped": report.Dropped,
		}), "queue drained")
	}
}

func (q *Queue) Pending(ctx context.Context) ([]QueuedTransition, error) {
	return q.store.Pending(ctx)
}

func (q *Queue) Failed(ctx context.Context) ([]FailedTransition, error) {
	return q.store.Failed(ctx)
}

func (q *Queue) LastKnown(ctx context.Context, assignmentID uuid.UUID) (*LastKnownStatus, error) {
	return q.store.LastKnown(ctx, assignmentID)
}

// Resync puts a failed item back in the queue after the user acknowledged it.
func (q *Queue) Resync(ctx context.Context, id string) (*QueuedTransition, error) {
	item, err := q.store.Resync(ctx, id, q.now())
	if err != nil {
		return nil, err
	}
	q.logg.Info(q.logg.WithField(ctx, "queue_item_id", id), "failed transition re-queued")
	return item, nil
}

func (q *Queue) send(ctx context.Context, item QueuedTransition) (SendResult, error) {
	sendCtx, cancel := context.WithTimeout(ctx, q.sendTimeout)
	defer cancel()
	res, err := q.sender.Send(sendCtx, item.ID, item.transition())
	if err != nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) && pkgerrors.As(err) == nil {
		err = pkgerrors.Wrap(pkgerrors.CodeUnreachable, err, "transition timed out")
	}
	return res, err
}

func (q *Queue) hasPending(ctx context.Context, assignmentID uuid.UUID) (bool, error) {
	items, err := q.store.Pending(ctx)
	if err != nil {
		return false, fmt.Errorf("list queued transitions: %w", err)
	}
	for _, item := range items {
		if item.AssignmentID == assignmentID {
			return true, nil
		}
	}
	return false, nil
}

func (q *Queue) drop(ctx context.Context, item QueuedTransition, reason string) error {
	failedAt := q.now().UTC()
	if err := q.store.MoveToFailed(ctx, item, reason, failedAt); err != nil {
		return fmt.Errorf("move transition to failed: %w", err)
	}
	q.logg.Warn(q.logg.WithField(ctx, "reason", reason), "queued transition dropped, manual resync required")
	if q.onDropped != nil {
		q.onDropped(FailedTransition{QueuedTransition: item, Reason: reason, FailedAt: failedAt})
	}
	return nil
}

func (q *Queue) remember(ctx context.Context, assignmentID uuid.UUID, status enums.TripStatus) {
	if !status.IsValid() {
		return
	}
	if err := q.store.SetLastKnown(ctx, assignmentID, status, q.now()); err != nil {
		q.logg.Error(ctx, "cache last known status", err)
	}
}

// rememberRejection caches the effective status a rejection reported, so the
// UI can refresh to what the backend already has.
func (q *Queue) rememberRejection(ctx context.Context, assignmentID uuid.UUID, err error) {
	typed := pkgerrors.As(err)
	if typed == nil {
		return
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		return
	}
	if raw, ok := details["effectiveStatus"].(string); ok {
		q.remember(ctx, assignmentID, enums.TripStatus(raw))
	}
}

// isUnreachable reports whether err means the backend never gave a definitive answer.
func isUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	meta := pkgerrors.MetadataFor(typed.Code())
	switch meta.Category {
	case pkgerrors.CategoryUnreachable, pkgerrors.CategoryContention:
		return true
	}
	return meta.Retryable
}

func rejectionReason(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return fmt.Sprintf("%s: %s", typed.Code(), typed.Message())
	}
	return err.Error()
}
