package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

// Resolver produces a position for a subject. ok is false when the resolver
// has nothing to offer and the next one should be asked.
type Resolver interface {
	Resolve(ctx context.Context, subject Subject, now time.Time) (*CurrentPosition, bool, error)
}

// LiveResolver picks the freshest live sample among the subject's active trips.
type LiveResolver struct {
	repo            Repository
	live            LiveStore
	onlineThreshold time.Duration
}

func NewLiveResolver(repo Repository, live LiveStore, onlineThreshold time.Duration) *LiveResolver {
	return &LiveResolver{repo: repo, live: live, onlineThreshold: onlineThreshold}
}

func (r *LiveResolver) Resolve(ctx context.Context, subject Subject, now time.Time) (*CurrentPosition, bool, error) {
	active, err := r.repo.ActiveTrips(ctx, subject)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active trips")
	}

	var best *CurrentPosition
	for _, trip := range active {
		sample, err := r.live.Latest(ctx, trip.DriverID)
		if err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read live location")
		}
		if sample == nil || now.Sub(sample.RecordedAt) >= r.onlineThreshold {
			continue
		}
		if best == nil || sample.RecordedAt.After(best.RecordedAt) {
			best = fromSample(subject, trip.AssignmentID, *sample)
		}
	}
	if best == nil {
		return nil, false, nil
	}
	best.refresh(now, r.onlineThreshold)
	return best, true, nil
}

// SnapshotResolver answers from recorded location history.
type SnapshotResolver struct {
	repo Repository
}

func NewSnapshotResolver(repo Repository) *SnapshotResolver {
	return &SnapshotResolver{repo: repo}
}

func (r *SnapshotResolver) Resolve(ctx context.Context, subject Subject, now time.Time) (*CurrentPosition, bool, error) {
	snap, err := r.repo.LatestSnapshot(ctx, subject)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read location history")
	}
	if snap == nil {
		return nil, false, nil
	}
	assignmentID, driverID := snap.AssignmentID, snap.DriverID
	pos := &CurrentPosition{
		FreightOrderID: subject.OrderID,
		AssignmentID:   &assignmentID,
		DriverID:       &driverID,
		Lat:            snap.Lat,
		Lng:            snap.Lng,
		Source:         enums.LocationSourceSnapshot,
		RecordedAt:     snap.CapturedAt,
	}
	pos.refresh(now, 0)
	return pos, true, nil
}

// FallbackResolver answers with the order's configured fallback point, or its
// origin when no fallback is set.
type FallbackResolver struct {
	repo Repository
}

func NewFallbackResolver(repo Repository) *FallbackResolver {
	return &FallbackResolver{repo: repo}
}

func (r *FallbackResolver) Resolve(ctx context.Context, subject Subject, now time.Time) (*CurrentPosition, bool, error) {
	order, err := r.repo.FindOrder(ctx, subject.OrderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "freight order not found")
	}
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load freight order")
	}
	point := order.FallbackPoint
	if point == nil {
		point = order.OriginPoint
	}
	if point == nil {
		return nil, false, nil
	}
	pos := &CurrentPosition{
		FreightOrderID: subject.OrderID,
		AssignmentID:   subject.AssignmentID,
		Lat:            point.Lat,
		Lng:            point.Lng,
		Source:         enums.LocationSourceFallback,
		RecordedAt:     order.UpdatedAt,
	}
	pos.refresh(now, 0)
	return pos, true, nil
}

// Chain asks each resolver in order and returns the first answer. A resolver
// that fails is logged and skipped; the chain fails only when every resolver
// failed. Client faults such as an unknown order end the chain at once.
type Chain struct {
	resolvers []Resolver
	logg      *logger.Logger
}

func NewChain(logg *logger.Logger, resolvers ...Resolver) *Chain {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Chain{resolvers: resolvers, logg: logg}
}

func (c *Chain) Resolve(ctx context.Context, subject Subject, now time.Time) (*CurrentPosition, bool, error) {
	var (
		firstErr error
		failed   int
	)
	for _, r := range c.resolvers {
		pos, ok, err := r.Resolve(ctx, subject, now)
		if err != nil {
			if pkgerrors.CategoryOf(err) == pkgerrors.CategoryClient {
				return nil, false, err
			}
			c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
				"resolver": fmt.Sprintf("%T", r),
				"order_id": subject.OrderID.String(),
				"error":    err.Error(),
			}), "position resolver failed, trying next")
			if firstErr == nil {
				firstErr = err
			}
			failed++
			continue
		}
		if ok {
			return pos, true, nil
		}
	}
	if failed > 0 && failed == len(c.resolvers) {
		return nil, false, firstErr
	}
	return nil, false, nil
}

// NewDefaultChain orders live before history before the static fallback.
func NewDefaultChain(repo Repository, live LiveStore, onlineThreshold time.Duration, logg *logger.Logger) *Chain {
	return NewChain(logg,
		NewLiveResolver(repo, live, onlineThreshold),
		NewSnapshotResolver(repo),
		NewFallbackResolver(repo),
	)
}

func driverOf(pos *CurrentPosition) uuid.UUID {
	if pos == nil || pos.DriverID == nil || pos.Source != enums.LocationSourceLive {
		return uuid.Nil
	}
	return *pos.DriverID
}
