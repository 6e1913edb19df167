package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/freightlane-backend/internal/tracking"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

const driverFilter = "freightlane/drivers/+/location"

type captureRecorder struct {
	transport string
	samples   []tracking.Sample
	accept    bool
	err       error
}

func (c *captureRecorder) Record(_ context.Context, transport string, sample tracking.Sample) (bool, error) {
	c.transport = transport
	c.samples = append(c.samples, sample)
	return c.accept, c.err
}

func TestNewSampleHandlerValidatesFilter(t *testing.T) {
	_, err := newSampleHandler("freightlane/drivers/location", &captureRecorder{}, nil)
	require.Error(t, err)
	_, err = newSampleHandler("freightlane/drivers/+/+", &captureRecorder{}, nil)
	require.Error(t, err)
	_, err = newSampleHandler("freightlane/#", &captureRecorder{}, nil)
	require.Error(t, err)
	_, err = newSampleHandler(driverFilter, &captureRecorder{}, nil)
	require.NoError(t, err)
}

func TestDriverFromTopic(t *testing.T) {
	h, err := newSampleHandler(driverFilter, &captureRecorder{}, logger.Nop())
	require.NoError(t, err)

	driver := uuid.New()
	got, err := h.driverFromTopic("freightlane/drivers/" + driver.String() + "/location")
	require.NoError(t, err)
	require.Equal(t, driver, got)

	_, err = h.driverFromTopic("freightlane/trucks/" + driver.String() + "/location")
	require.Error(t, err)
	_, err = h.driverFromTopic("freightlane/drivers/not-a-uuid/location")
	require.Error(t, err)
	_, err = h.driverFromTopic("freightlane/drivers/" + driver.String())
	require.Error(t, err)
}

func TestHandleRecordsSampleForTopicDriver(t *testing.T) {
	rec := &captureRecorder{accept: true}
	h, err := newSampleHandler(driverFilter, rec, logger.Nop())
	require.NoError(t, err)

	driver := uuid.New()
	payload := []byte(`{"lat":-23.55,"lng":-46.63,"speedKph":72.5,"recordedAt":"2026-05-04T10:00:00Z"}`)
	require.NoError(t, h.handle(context.Background(), "freightlane/drivers/"+driver.String()+"/location", payload))

	require.Equal(t, tracking.TransportMQTT, rec.transport)
	require.Len(t, rec.samples, 1)
	sample := rec.samples[0]
	require.Equal(t, driver, sample.DriverID)
	require.InDelta(t, -23.55, sample.Lat, 1e-9)
	require.NotNil(t, sample.SpeedKPH)
	require.Equal(t, time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC), sample.RecordedAt.UTC())
}

func TestHandleRejectsMismatchedAndMalformedPayloads(t *testing.T) {
	rec := &captureRecorder{accept: true}
	h, err := newSampleHandler(driverFilter, rec, logger.Nop())
	require.NoError(t, err)
	topic := "freightlane/drivers/" + uuid.NewString() + "/location"

	err = h.handle(context.Background(), topic, []byte(`{"driverId":"`+uuid.NewString()+`","lat":1,"lng":2}`))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	err = h.handle(context.Background(), topic, []byte(`{"lat":`))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	err = h.handle(context.Background(), "other/topic", []byte(`{}`))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	require.Empty(t, rec.samples)
}

func TestHandlePropagatesRecorderErrors(t *testing.T) {
	rec := &captureRecorder{err: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("redis down"), "store live location")}
	h, err := newSampleHandler(driverFilter, rec, logger.Nop())
	require.NoError(t, err)

	err = h.handle(context.Background(), "freightlane/drivers/"+uuid.NewString()+"/location", []byte(`{"lat":1,"lng":2}`))
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
}

func TestHandleIgnoresStaleSamples(t *testing.T) {
	rec := &captureRecorder{accept: false}
	h, err := newSampleHandler(driverFilter, rec, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, h.handle(context.Background(), "freightlane/drivers/"+uuid.NewString()+"/location", []byte(`{"lat":1,"lng":2}`)))
	require.Len(t, rec.samples, 1)
}
