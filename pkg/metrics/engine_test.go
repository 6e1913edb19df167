package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestEngineMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)

	m.Allocation("ok")
	m.Allocation("ok")
	m.Allocation("PRICE_BELOW_FLOOR")
	m.Transition("loading", "applied")
	m.ContentionRetry("trip_transition")
	m.LocationSample("mqtt", "accepted")
	m.OutboxPublish("assignment_created", "")
	closeStream := m.StreamOpened()

	require.Equal(t, 2.0, testutil.ToFloat64(m.allocations.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.allocations.WithLabelValues("PRICE_BELOW_FLOOR")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.outboxPublished.WithLabelValues("assignment_created", "unknown")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.activeStreams))

	closeStream()
	require.Equal(t, 0.0, testutil.ToFloat64(m.activeStreams))

	count, err := testutil.GatherAndCount(reg, "freightlane_trip_transitions_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestNilEngineMetricsIsSafe(t *testing.T) {
	var m *EngineMetrics
	m.Allocation("ok")
	m.Transition("loading", "applied")
	m.StreamOpened()()
	require.Nil(t, NewEngineMetrics(nil))
}
