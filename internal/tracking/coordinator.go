package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/metrics"
)

// Coordinator keeps one authoritative position per observed subject and
// streams it to observers.
type Coordinator struct {
	repo     Repository
	live     LiveStore
	resolver Resolver
	now      func() time.Time
	metrics  *metrics.EngineMetrics
	logg     *logger.Logger

	onlineThreshold time.Duration
	coalesce        time.Duration
	tick            time.Duration
	poll            time.Duration
}

type CoordinatorParams struct {
	Repository       Repository
	Live             LiveStore
	Resolver         Resolver
	OnlineThreshold  time.Duration
	CoalesceInterval time.Duration
	TickInterval     time.Duration
	PollInterval     time.Duration
	Clock            func() time.Time
	Metrics          *metrics.EngineMetrics
	Logger           *logger.Logger
}

func NewCoordinator(params CoordinatorParams) (*Coordinator, error) {
	if params.Repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tracking repository required")
	}
	if params.Live == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "live location store required")
	}
	if params.OnlineThreshold <= 0 || params.TickInterval <= 0 || params.PollInterval <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tracking intervals must be positive")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	resolver := params.Resolver
	if resolver == nil {
		resolver = NewDefaultChain(params.Repository, params.Live, params.OnlineThreshold, logg)
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Coordinator{
		repo:            params.Repository,
		live:            params.Live,
		resolver:        resolver,
		now:             clock,
		metrics:         params.Metrics,
		logg:            logg,
		onlineThreshold: params.OnlineThreshold,
		coalesce:        params.CoalesceInterval,
		tick:            params.TickInterval,
		poll:            params.PollInterval,
	}, nil
}

// SubjectForAssignment scopes observation to one assignment of its order.
func (c *Coordinator) SubjectForAssignment(ctx context.Context, assignmentID uuid.UUID) (Subject, error) {
	a, err := c.repo.FindAssignment(ctx, assignmentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Subject{}, pkgerrors.New(pkgerrors.CodeNotFound, "assignment not found")
	}
	if err != nil {
		return Subject{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load assignment")
	}
	return Subject{OrderID: a.FreightOrderID, AssignmentID: &a.ID}, nil
}

// Current resolves the subject once. NotFound is returned when no source knows
// anything about it.
func (c *Coordinator) Current(ctx context.Context, subject Subject) (*CurrentPosition, error) {
	pos, ok, err := c.resolver.Resolve(ctx, subject, c.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no position is known for this freight order yet")
	}
	return pos, nil
}

// Observe streams positions for subject until ctx ends, then closes the
// channel. The channel holds at most one value; a slow reader only ever sees
// the latest position.
func (c *Coordinator) Observe(ctx context.Context, subject Subject) (<-chan CurrentPosition, error) {
	initial, ok, err := c.resolver.Resolve(ctx, subject, c.now())
	if err != nil {
		return nil, err
	}
	o := &observation{
		c:       c,
		subject: subject,
		out:     make(chan CurrentPosition, 1),
	}
	if !ok {
		initial = nil
	}
	go o.run(ctx, initial)
	return o.out, nil
}

type observation struct {
	c       *Coordinator
	subject Subject
	out     chan CurrentPosition

	current  *CurrentPosition
	locked   uuid.UUID
	feed     Feed
	lastEmit time.Time
	pending  bool
	flush    *time.Timer
}

func (o *observation) run(ctx context.Context, initial *CurrentPosition) {
	done := o.c.metrics.StreamOpened()
	defer done()
	defer close(o.out)
	defer o.unlock()

	ticker := time.NewTicker(o.c.tick)
	defer ticker.Stop()
	poller := time.NewTicker(o.c.poll)
	defer poller.Stop()
	o.flush = time.NewTimer(time.Hour)
	o.flush.Stop()
	defer o.flush.Stop()

	o.adopt(ctx, initial)

	for {
		var samples <-chan Sample
		if o.feed != nil {
			samples = o.feed.Samples()
		}
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-samples:
			if !ok {
				o.unlock()
				o.reresolve(ctx)
				continue
			}
			o.apply(sample)
		case <-poller.C:
			if o.feed == nil {
				o.reresolve(ctx)
			}
		case <-ticker.C:
			o.onTick(ctx)
		case <-o.flush.C:
			if o.pending {
				o.emit()
			}
		}
	}
}

// apply takes a pushed sample from the locked driver.
func (o *observation) apply(sample Sample) {
	if sample.DriverID != o.locked || o.current == nil {
		return
	}
	if !sample.RecordedAt.After(o.current.RecordedAt) {
		return
	}
	assignmentID := uuid.Nil
	if o.current.AssignmentID != nil {
		assignmentID = *o.current.AssignmentID
	}
	next := fromSample(o.subject, assignmentID, sample)
	next.refresh(o.c.now(), o.c.onlineThreshold)
	o.current = next
	o.schedule()
}

func (o *observation) onTick(ctx context.Context) {
	if o.current == nil {
		return
	}
	o.current.refresh(o.c.now(), o.c.onlineThreshold)
	if o.locked != uuid.Nil && !o.current.Online {
		o.c.logg.Info(ctx, "live feed went stale, re-resolving "+o.subject.String())
		o.unlock()
		o.reresolve(ctx)
		return
	}
	o.schedule()
}

func (o *observation) reresolve(ctx context.Context) {
	pos, ok, err := o.c.resolver.Resolve(ctx, o.subject, o.c.now())
	if err != nil {
		if ctx.Err() == nil {
			o.c.logg.Warn(ctx, "resolve position failed for "+o.subject.String()+": "+err.Error())
		}
		return
	}
	if !ok {
		return
	}
	o.adopt(ctx, pos)
}

// adopt replaces the current position and locks onto its driver's feed when
// the position is live.
func (o *observation) adopt(ctx context.Context, pos *CurrentPosition) {
	if pos == nil {
		return
	}
	changed := o.current == nil || !samePosition(*o.current, *pos)
	o.current = pos

	if driver := driverOf(pos); driver != uuid.Nil && driver != o.locked {
		o.unlock()
		feed, err := o.c.live.Subscribe(ctx, driver)
		if err != nil {
			o.c.logg.Warn(ctx, "subscribe to driver feed failed, polling instead: "+err.Error())
		} else {
			o.feed = feed
			o.locked = driver
		}
	}
	if changed {
		o.schedule()
	}
}

func (o *observation) unlock() {
	if o.feed != nil {
		_ = o.feed.Close()
	}
	o.feed = nil
	o.locked = uuid.Nil
}

// schedule emits now, or once the coalescing window since the last emission
// has passed. Only the newest position survives the wait.
func (o *observation) schedule() {
	wait := o.c.coalesce - time.Since(o.lastEmit)
	if o.lastEmit.IsZero() || wait <= 0 {
		o.emit()
		return
	}
	if !o.pending {
		o.pending = true
		o.flush.Reset(wait)
	}
}

func (o *observation) emit() {
	o.pending = false
	o.lastEmit = time.Now()
	pos := *o.current
	select {
	case o.out <- pos:
		return
	default:
	}
	select {
	case <-o.out:
	default:
	}
	select {
	case o.out <- pos:
	default:
	}
}

func samePosition(a, b CurrentPosition) bool {
	if a.Source != b.Source || a.Lat != b.Lat || a.Lng != b.Lng || !a.RecordedAt.Equal(b.RecordedAt) {
		return false
	}
	if (a.DriverID == nil) != (b.DriverID == nil) {
		return false
	}
	return a.DriverID == nil || *a.DriverID == *b.DriverID
}
