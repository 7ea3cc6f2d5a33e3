package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics contains Prometheus metrics for the job queue.
type QueueMetrics struct {
	registry *prometheus.Registry

	submissionsTotal *prometheus.CounterVec
	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	retriesTotal     prometheus.Counter
	depthGauge       prometheus.Gauge
}

// NewQueueMetrics creates and registers job queue metrics.
func NewQueueMetrics(registry *prometheus.Registry) (*QueueMetrics, error) {
	m := &QueueMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize queue metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register queue metrics: %w", err)
	}
	return m, nil
}

func (m *QueueMetrics) initMetrics() error {
	m.submissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobqueue_submissions_total",
			Help: "Total number of job submissions partitioned by admission outcome",
		},
		[]string{"status"},
	)

	m.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobqueue_jobs_total",
			Help: "Total number of jobs reaching a terminal state",
		},
		[]string{"status"},
	)

	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobqueue_job_duration_seconds",
			Help:    "Time from first attempt to terminal state",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"status"},
	)

	m.retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobqueue_retries_total",
			Help: "Total number of individual retry attempts",
		},
	)

	m.depthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobqueue_depth",
			Help: "Number of jobs waiting for a worker",
		},
	)

	return nil
}

// RecordSubmit records one submission by admission outcome.
func (m *QueueMetrics) RecordSubmit(status string) {
	m.submissionsTotal.WithLabelValues(status).Inc()
}

// RecordJob records one job reaching a terminal state.
func (m *QueueMetrics) RecordJob(status string, seconds float64) {
	m.jobsTotal.WithLabelValues(status).Inc()
	m.jobDuration.WithLabelValues(status).Observe(seconds)
}

// RecordRetry records one retry attempt.
func (m *QueueMetrics) RecordRetry() {
	m.retriesTotal.Inc()
}

// SetDepth updates the pending jobs gauge.
func (m *QueueMetrics) SetDepth(pending int) {
	m.depthGauge.Set(float64(pending))
}

// Describe implements the prometheus.Collector interface.
func (m *QueueMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.submissionsTotal.Describe(ch)
	m.jobsTotal.Describe(ch)
	m.jobDuration.Describe(ch)
	ch <- m.retriesTotal.Desc()
	ch <- m.depthGauge.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *QueueMetrics) Collect(ch chan<- prometheus.Metric) {
	m.submissionsTotal.Collect(ch)
	m.jobsTotal.Collect(ch)
	m.jobDuration.Collect(ch)
	ch <- m.retriesTotal
	ch <- m.depthGauge
}
