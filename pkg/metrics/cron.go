package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronJobMetrics tracks scheduled maintenance: how each job ended, how long it
// took, and when it last succeeded. A nil *CronJobMetrics records nothing.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	skipped     prometheus.Counter
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return nil
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "freightlane_cron_job_runs_total",
			Help: "Cron job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "freightlane_cron_job_duration_seconds",
			Help:    "Cron job run time.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "freightlane_cron_job_last_success_timestamp_seconds",
			Help: "Unix time of the job's last successful run.",
		}, []string{"job"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freightlane_cron_cycles_skipped_total",
			Help: "Cycles skipped because another worker held the lock.",
		}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess, m.skipped)
	return m
}

// JobFinished records one run of job that ended at finishedAt.
func (m *CronJobMetrics) JobFinished(job string, took time.Duration, finishedAt time.Time, err error) {
	if m == nil {
		return
	}
	job = normalizeLabel(job)
	m.duration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		m.runs.WithLabelValues(job, "failure").Inc()
		return
	}
	m.runs.WithLabelValues(job, "success").Inc()
	m.lastSuccess.WithLabelValues(job).Set(float64(finishedAt.Unix()))
}

func (m *CronJobMetrics) CycleSkipped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
