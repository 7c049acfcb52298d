// Package jobmetrics instruments background job runs.
package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	skipped  *prometheus.CounterVec
}

// NewMetrics builds the job collectors and registers them on registerer.
// A nil registerer leaves them unregistered, which suits one-off CLI runs.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockengine_jobs_total",
			Help: "Job executions by job and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockengine_jobs_failures_total",
			Help: "Failed job executions by job.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockengine_job_duration_seconds",
			Help:    "Wall time of job executions.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockengine_jobs_skipped_total",
			Help: "Job runs skipped before doing work, by reason.",
		}, []string{"job", "reason"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.runs, m.failures, m.duration, m.skipped)
	}
	return m
}

// Tracker times a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run outcome and returns err unchanged, so handlers can
// `return tracker.End(err)`.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	status := statusSuccess
	if err != nil {
		status = statusFailure
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// Skip counts a run that never started, e.g. because the sweep lock was held.
func (m *Metrics) Skip(job, reason string) {
	if m != nil {
		m.skipped.WithLabelValues(job, reason).Inc()
	}
}
