package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

const defaultAutoConfirmBatch = 100

type autoConfirmer interface {
	AutoConfirmDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// deliveryAutoConfirmJob promotes deliveries nobody confirmed in time.
type deliveryAutoConfirmJob struct {
	logg  *logger.Logger
	trips autoConfirmer
	batch int
	now   func() time.Time
}

func NewDeliveryAutoConfirmJob(logg *logger.Logger, trips autoConfirmer, batch int) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if trips == nil {
		return nil, fmt.Errorf("trip service required")
	}
	if batch <= 0 {
		batch = defaultAutoConfirmBatch
	}
	return &deliveryAutoConfirmJob{logg: logg, trips: trips, batch: batch, now: time.Now}, nil
}

func (j *deliveryAutoConfirmJob) Name() string { return "delivery-auto-confirm" }

// Run keeps draining full batches so a backlog clears in one cycle.
func (j *deliveryAutoConfirmJob) Run(ctx context.Context) error {
	total := 0
	for {
		promoted, err := j.trips.AutoConfirmDue(ctx, j.now().UTC(), j.batch)
		total += promoted
		if err != nil {
			return fmt.Errorf("auto-confirm deliveries: %w", err)
		}
		if promoted < j.batch || ctx.Err() != nil {
			break
		}
	}
	j.logg.Info(j.logg.WithField(ctx, "promoted", total), "delivery auto-confirm complete")
	return nil
}

type snapshotter interface {
	SnapshotActive(ctx context.Context, now time.Time) (int, error)
}

// locationSnapshotJob copies live driver positions into history.
type locationSnapshotJob struct {
	logg *logger.Logger
	snap snapshotter
	now  func() time.Time
}

func NewLocationSnapshotJob(logg *logger.Logger, snap snapshotter) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshotter required")
	}
	return &locationSnapshotJob{logg: logg, snap: snap, now: time.Now}, nil
}

func (j *locationSnapshotJob) Name() string { return "location-snapshot" }

func (j *locationSnapshotJob) Run(ctx context.Context) error {
	written, err := j.snap.SnapshotActive(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("snapshot live locations: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "rows_written", written), "location snapshot complete")
	return nil
}
