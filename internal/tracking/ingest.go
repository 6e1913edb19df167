package tracking

import (
	"context"
	"time"

	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/metrics"
)

// Transport names accepted by the ingestor, used as a metrics label.
const (
	TransportHTTP = "http"
	TransportMQTT = "mqtt"
)

// Ingestor validates driver samples and writes them to the live store.
type Ingestor struct {
	live         LiveStore
	ttl          time.Duration
	maxClockSkew time.Duration
	now          func() time.Time
	metrics      *metrics.EngineMetrics
	logg         *logger.Logger
}

type IngestorParams struct {
	Live         LiveStore
	SampleTTL    time.Duration
	MaxClockSkew time.Duration
	Clock        func() time.Time
	Metrics      *metrics.EngineMetrics
	Logger       *logger.Logger
}

func NewIngestor(params IngestorParams) (*Ingestor, error) {
	if params.Live == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "live location store required")
	}
	if params.SampleTTL <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "sample ttl must be positive")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Ingestor{
		live:         params.Live,
		ttl:          params.SampleTTL,
		maxClockSkew: params.MaxClockSkew,
		now:          clock,
		metrics:      params.Metrics,
		logg:         logg,
	}, nil
}

// Record stores sample as the driver's latest position. It reports false
// without error when a newer sample is already stored.
func (i *Ingestor) Record(ctx context.Context, transport string, sample Sample) (bool, error) {
	if err := sample.validate(); err != nil {
		i.metrics.LocationSample(transport, "invalid")
		return false, err
	}
	now := i.now().UTC()
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = now
	}
	sample.RecordedAt = sample.RecordedAt.UTC()
	if sample.RecordedAt.Sub(now) > i.maxClockSkew {
		i.metrics.LocationSample(transport, "invalid")
		return false, pkgerrors.New(pkgerrors.CodeValidation, "sample is timestamped in the future").
			WithDetails(map[string]any{"recordedAt": sample.RecordedAt, "serverTime": now})
	}

	latest, err := i.live.Latest(ctx, sample.DriverID)
	if err != nil {
		i.metrics.LocationSample(transport, "error")
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read live location")
	}
	if latest != nil && !sample.RecordedAt.After(latest.RecordedAt) {
		i.metrics.LocationSample(transport, "stale")
		return false, nil
	}

	if err := i.live.Save(ctx, sample, i.ttl); err != nil {
		i.metrics.LocationSample(transport, "error")
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store live location")
	}
	i.metrics.LocationSample(transport, "accepted")
	i.logg.Debug(i.logg.WithDriverID(ctx, sample.DriverID.String()), "driver location recorded")
	return true, nil
}
