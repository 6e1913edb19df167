package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/freightlane-backend/pkg/config"
	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/metrics"
	"github.com/angelmondragon/freightlane-backend/pkg/outbox/registry"
)

const (
	fallbackBatch       = 50
	fallbackPoll        = 500 * time.Millisecond
	fallbackSendTimeout = 15 * time.Second
	fallbackMaxAttempts = 10

	idleCeiling = 10 * time.Second
	jitter      = 250 * time.Millisecond

	retryBase = 2 * time.Second
	retryCap  = 5 * time.Minute
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error, retryAt time.Time) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type RelayParams struct {
	Outbox      config.OutboxConfig
	Logger      *logger.Logger
	DB          txRunner
	Publishers  publisherSource
	Sink        sink
	Events      eventStore
	DeadLetters deadLetters
	Registry    resolver
	Metrics     *metrics.EngineMetrics
	Clock       func() time.Time
}

// Relay moves committed outbox rows onto Pub/Sub. Each batch is claimed and
// settled inside one transaction, so a crash mid-batch leaves rows for the
// next claim.
type Relay struct {
	logg        *logger.Logger
	db          txRunner
	publishers  publisherSource
	sink        sink
	events      eventStore
	dead        deadLetters
	registry    resolver
	metrics     *metrics.EngineMetrics
	now         func() time.Time
	batch       int
	maxAttempts int
	poll        time.Duration
	sendTimeout time.Duration
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("relay: logger is required")
	case p.DB == nil:
		return nil, errors.New("relay: database client is required")
	case p.Events == nil:
		return nil, errors.New("relay: outbox repository is required")
	case p.DeadLetters == nil:
		return nil, errors.New("relay: dlq repository is required")
	case p.Registry == nil:
		return nil, errors.New("relay: event registry is required")
	case p.Sink == nil && p.Publishers == nil:
		return nil, errors.New("relay: pubsub client or sink is required")
	}

	r := &Relay{
		logg:        p.Logger,
		db:          p.DB,
		publishers:  p.Publishers,
		sink:        p.Sink,
		events:      p.Events,
		dead:        p.DeadLetters,
		registry:    p.Registry,
		metrics:     p.Metrics,
		now:         p.Clock,
		batch:       orDefault(p.Outbox.BatchSize, fallbackBatch),
		maxAttempts: orDefault(p.Outbox.MaxAttempts, fallbackMaxAttempts),
		poll:        time.Duration(p.Outbox.PollIntervalMS) * time.Millisecond,
		sendTimeout: p.Outbox.PublishTimeout,
	}
	if r.sink == nil {
		r.sink = pubsubSink{source: p.Publishers}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.poll <= 0 {
		r.poll = fallbackPoll
	}
	if r.sendTimeout <= 0 {
		r.sendTimeout = fallbackSendTimeout
	}
	return r, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Run polls until ctx ends. A full batch is followed immediately by another;
// an empty one waits a poll interval; a failing one backs off.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if r.publishers != nil {
		if err := r.publishers.Ping(ctx); err != nil {
			return fmt.Errorf("pubsub ping: %w", err)
		}
	}

	wait := r.poll
	for ctx.Err() == nil {
		busy, err := r.drainOnce(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox batch failed", err)
			wait = min(wait*2, idleCeiling)
		case busy:
			wait = r.poll
			continue
		default:
			wait = r.poll
		}
		if err := pause(ctx, wait+time.Duration(rand.Int64N(int64(jitter)))); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// drainOnce claims a batch and settles every row in it. The returned error is
// a bookkeeping failure; publish failures are recorded on the row.
func (r *Relay) drainOnce(ctx context.Context) (bool, error) {
	var claimed int
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.events.FetchUnpublishedForPublish(tx, r.batch, r.maxAttempts)
		if err != nil {
			return err
		}
		claimed = len(rows)
		for _, row := range rows {
			if err := r.settle(ctx, tx, row, r.deliver(ctx, row)); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed > 0, err
}

type verdict int

const (
	verdictPublished verdict = iota
	verdictRetry
	verdictDead
)

type delivery struct {
	verdict verdict
	reason  enums.OutboxDLQErrorReason
	topic   string
	eventID string
	err     error
}

func (r *Relay) deliver(ctx context.Context, row models.OutboxEvent) delivery {
	resolved, err := r.registry.Resolve(row)
	if err != nil {
		reason := enums.OutboxDLQReasonNonRetryable
		if !row.EventType.IsValid() {
			reason = enums.OutboxDLQReasonUnknownEvent
		}
		return delivery{verdict: verdictDead, reason: reason, err: err}
	}

	d := delivery{topic: resolved.Descriptor.Topic, eventID: resolved.Envelope.EventID}
	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	err = r.sink.Send(sendCtx, d.topic, wireMessage(row, d.eventID))

	var permanent registry.NonRetryableError
	switch {
	case err == nil:
		d.verdict = verdictPublished
	case errors.As(err, &permanent):
		d.verdict, d.reason, d.err = verdictDead, enums.OutboxDLQReasonNonRetryable, err
	case row.AttemptCount+1 >= r.maxAttempts:
		d.verdict, d.reason = verdictDead, enums.OutboxDLQReasonMaxAttempts
		d.err = fmt.Errorf("max publish attempts reached: %w", err)
	default:
		d.verdict, d.err = verdictRetry, err
	}
	return d
}

func (r *Relay) settle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, d delivery) error {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    row.EventType,
		"aggregate_id":  row.AggregateID.String(),
		"attempt_count": row.AttemptCount,
		"topic":         d.topic,
	})

	switch d.verdict {
	case verdictPublished:
		if err := r.events.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.metrics.OutboxPublish(string(row.EventType), "published")
		r.logg.Debug(ctx, "outbox event published")

	case verdictRetry:
		at := r.now().Add(retryDelay(row.AttemptCount + 1))
		if err := r.events.MarkFailedTx(tx, row.ID, d.err, at); err != nil {
			return fmt.Errorf("mark failure %s: %w", row.ID, err)
		}
		r.metrics.OutboxPublish(string(row.EventType), "retry")
		ctx = r.logg.WithFields(ctx, map[string]any{"next_attempt_at": at.UTC().Format(time.RFC3339), "error": d.err.Error()})
		r.logg.Warn(ctx, "outbox publish failed, will retry")

	case verdictDead:
		entry := row.DeadLetter(d.reason, d.err, r.now())
		if err := r.dead.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("dead-letter %s: %w", row.ID, err)
		}
		if err := r.events.MarkTerminalTx(tx, row.ID, d.err, r.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", row.ID, err)
		}
		r.metrics.OutboxPublish(string(row.EventType), "dead_lettered")
		ctx = r.logg.WithFields(ctx, map[string]any{"error_reason": d.reason, "error": d.err.Error()})
		r.logg.Warn(ctx, "outbox event dead-lettered")
	}
	return nil
}

// retryDelay doubles per attempt from retryBase: 2s, 4s, 8s, up to retryCap.
func retryDelay(attempt int) time.Duration {
	delay := retryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryCap {
			return retryCap
		}
	}
	return delay
}
