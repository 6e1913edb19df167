package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics counts allocation, transition and tracking activity.
// A nil *EngineMetrics is valid and records nothing.
type EngineMetrics struct {
	allocations       *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	contentionRetries *prometheus.CounterVec
	locationSamples   *prometheus.CounterVec
	activeStreams     prometheus.Gauge
	outboxPublished   *prometheus.CounterVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		return nil
	}
	m := &EngineMetrics{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freightlane_allocations_total",
			Help: "Allocation attempts by outcome code.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freightlane_trip_transitions_total",
			Help: "Trip transition attempts by target status and outcome.",
		}, []string{"target", "outcome"}),
		contentionRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freightlane_contention_retries_total",
			Help: "Transactions retried after lock or serialization contention.",
		}, []string{"operation"}),
		locationSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freightlane_location_samples_total",
			Help: "Driver location samples ingested by transport.",
		}, []string{"transport", "outcome"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "freightlane_position_streams_active",
			Help: "Open current-position streams.",
		}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freightlane_outbox_publish_total",
			Help: "Outbox publish attempts by event type and outcome.",
		}, []string{"event_type", "outcome"}),
	}
	reg.MustRegister(m.allocations, m.transitions, m.contentionRetries, m.locationSamples, m.activeStreams, m.outboxPublished)
	return m
}

func (m *EngineMetrics) Allocation(outcome string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *EngineMetrics) Transition(target, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(target), normalizeLabel(outcome)).Inc()
}

func (m *EngineMetrics) ContentionRetry(operation string) {
	if m == nil {
		return
	}
	m.contentionRetries.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *EngineMetrics) LocationSample(transport, outcome string) {
	if m == nil {
		return
	}
	m.locationSamples.WithLabelValues(normalizeLabel(transport), normalizeLabel(outcome)).Inc()
}

// StreamOpened returns the matching close func.
func (m *EngineMetrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.activeStreams.Inc()
	return m.activeStreams.Dec
}

func (m *EngineMetrics) OutboxPublish(eventType, outcome string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
