package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	reportRows *prometheus.CounterVec
	inputRows  *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddReportRows counts aggregated rows produced at level ("product" or "account").
func (m *Metrics) AddReportRows(level string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.reportRows.WithLabelValues(level).Add(float64(count))
}

// AddInputRows counts export rows by outcome: "used", "skipped" or "rejected".
func (m *Metrics) AddInputRows(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.inputRows.WithLabelValues(outcome).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revreport_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revreport_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "revreport_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	reportRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revreport_report_rows_total",
		Help: "Aggregated report rows written, by level.",
	}, []string{"level"})
	inputRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revreport_input_rows_total",
		Help: "Export rows read, by outcome.",
	}, []string{"outcome"})
	registerer.MustRegister(runs, failures, duration, reportRows, inputRows)
	return &Metrics{runs: runs, failures: failures, duration: duration, reportRows: reportRows, inputRows: inputRows}
}
