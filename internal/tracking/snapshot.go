package tracking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
)

// Snapshotter copies fresh live samples of active trips into location history
// so observers still get a position after the live entry expires.
type Snapshotter struct {
	repo      Repository
	live      LiveStore
	freshness time.Duration
	batch     int
}

func NewSnapshotter(repo Repository, live LiveStore, freshness time.Duration, batch int) *Snapshotter {
	if batch <= 0 {
		batch = 500
	}
	return &Snapshotter{repo: repo, live: live, freshness: freshness, batch: batch}
}

// SnapshotActive records one history row per active trip whose driver has a
// sample younger than the freshness window. It returns the rows written.
func (s *Snapshotter) SnapshotActive(ctx context.Context, now time.Time) (int, error) {
	active, err := s.repo.AllActiveTrips(ctx, s.batch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active trips")
	}

	var (
		rows []models.LocationSnapshot
		errs error
	)
	for _, trip := range active {
		sample, err := s.live.Latest(ctx, trip.DriverID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if sample == nil || now.Sub(sample.RecordedAt) >= s.freshness {
			continue
		}
		rows = append(rows, models.LocationSnapshot{
			ID:             uuid.New(),
			FreightOrderID: trip.FreightOrderID,
			AssignmentID:   trip.AssignmentID,
			DriverID:       trip.DriverID,
			Lat:            sample.Lat,
			Lng:            sample.Lng,
			CapturedAt:     sample.RecordedAt.UTC(),
		})
	}

	written, err := s.repo.SaveSnapshots(ctx, rows)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	return int(written), errs
}
