package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for end-to-end chunk
// processing.
type PipelineMetrics struct {
	registry *prometheus.Registry

	chunksTotal       *prometheus.CounterVec
	processDuration   *prometheus.HistogramVec
	processingErrors  *prometheus.CounterVec
	reconfiguresTotal prometheus.Counter
	runningGauge      prometheus.Gauge
}

// NewPipelineMetrics creates and registers pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() error {
	m.chunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_chunks_total",
			Help: "Total number of processed audio chunks partitioned by output mode",
		},
		[]string{"mode"},
	)

	m.processDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_process_duration_seconds",
			Help:    "Time taken to process one chunk end to end",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
		},
		[]string{"mode"},
	)

	m.processingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_processing_errors_total",
			Help: "Total number of chunk processing failures",
		},
		[]string{"category"},
	)

	m.reconfiguresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_reconfigures_total",
			Help: "Total number of pipeline reconfigurations",
		},
	)

	m.runningGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_running",
			Help: "Whether the pipeline is currently running (1) or not (0)",
		},
	)

	return nil
}

// RecordChunk records one processed chunk with its end to end duration.
func (m *PipelineMetrics) RecordChunk(mode string, seconds float64) {
	m.chunksTotal.WithLabelValues(mode).Inc()
	m.processDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordError records one failed chunk by error category.
func (m *PipelineMetrics) RecordError(category string) {
	m.processingErrors.WithLabelValues(category).Inc()
}

// RecordReconfigure records one runtime reconfiguration.
func (m *PipelineMetrics) RecordReconfigure() {
	m.reconfiguresTotal.Inc()
}

// SetRunning sets the pipeline liveness gauge.
func (m *PipelineMetrics) SetRunning(running bool) {
	if running {
		m.runningGauge.Set(1)
	} else {
		m.runningGauge.Set(0)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.chunksTotal.Describe(ch)
	m.processDuration.Describe(ch)
	m.processingErrors.Describe(ch)
	ch <- m.reconfiguresTotal.Desc()
	ch <- m.runningGauge.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.chunksTotal.Collect(ch)
	m.processDuration.Collect(ch)
	m.processingErrors.Collect(ch)
	ch <- m.reconfiguresTotal
	ch <- m.runningGauge
}
