package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics contains Prometheus metrics for the adaptive inference
// scheduler and its circuit breaker.
type SchedulerMetrics struct {
	registry *prometheus.Registry

	inferenceTotal      *prometheus.CounterVec
	inferenceDuration   prometheus.Histogram
	batchHintGauge      prometheus.Gauge
	breakerStateGauge   prometheus.Gauge
	breakerTransitions  *prometheus.CounterVec
	memoryOptimizations prometheus.Counter
}

// NewSchedulerMetrics creates and registers scheduler metrics.
func NewSchedulerMetrics(registry *prometheus.Registry) (*SchedulerMetrics, error) {
	m := &SchedulerMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize scheduler metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register scheduler metrics: %w", err)
	}
	return m, nil
}

func (m *SchedulerMetrics) initMetrics() error {
	m.inferenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_inferences_total",
			Help: "Total number of inference requests partitioned by outcome",
		},
		[]string{"status"},
	)

	m.inferenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_inference_duration_seconds",
			Help:    "Time taken for one model inference",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
		},
	)

	m.batchHintGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_batch_hint",
			Help: "Current adaptive batch size hint in samples",
		},
	)

	m.breakerStateGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_breaker_open",
			Help: "Whether the inference circuit breaker is open (1) or closed (0)",
		},
	)

	m.breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"state"},
	)

	m.memoryOptimizations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_memory_optimizations_total",
			Help: "Total number of memory pressure optimization passes",
		},
	)

	return nil
}

// RecordInference records one inference request. Duration is observed only
// for executed calls; breaker rejections never reach the model.
func (m *SchedulerMetrics) RecordInference(status string, seconds float64) {
	m.inferenceTotal.WithLabelValues(status).Inc()
	if status != StatusRejected {
		m.inferenceDuration.Observe(seconds)
	}
}

// SetBatchHint updates the adaptive batch hint gauge.
func (m *SchedulerMetrics) SetBatchHint(hint int) {
	m.batchHintGauge.Set(float64(hint))
}

// SetBreakerState updates the breaker state gauge.
func (m *SchedulerMetrics) SetBreakerState(open bool) {
	if open {
		m.breakerStateGauge.Set(1)
	} else {
		m.breakerStateGauge.Set(0)
	}
}

// RecordBreakerTransition records one breaker state change.
func (m *SchedulerMetrics) RecordBreakerTransition(state string) {
	m.breakerTransitions.WithLabelValues(state).Inc()
}

// RecordMemoryOptimization records one memory pressure optimization pass.
func (m *SchedulerMetrics) RecordMemoryOptimization() {
	m.memoryOptimizations.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *SchedulerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.inferenceTotal.Describe(ch)
	ch <- m.inferenceDuration.Desc()
	ch <- m.batchHintGauge.Desc()
	ch <- m.breakerStateGauge.Desc()
	m.breakerTransitions.Describe(ch)
	ch <- m.memoryOptimizations.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *SchedulerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.inferenceTotal.Collect(ch)
	ch <- m.inferenceDuration
	ch <- m.batchHintGauge
	ch <- m.breakerStateGauge
	m.breakerTransitions.Collect(ch)
	ch <- m.memoryOptimizations
}
