package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolMetrics contains Prometheus metrics for the buffer pool.
type PoolMetrics struct {
	registry *prometheus.Registry

	acquiresTotal    *prometheus.CounterVec
	releasesTotal    prometheus.Counter
	capacityGauge    prometheus.Gauge
	freeGauge        prometheus.Gauge
	inUseGauge       prometheus.Gauge
	utilizationGauge prometheus.Gauge
}

// NewPoolMetrics creates and registers buffer pool metrics.
func NewPoolMetrics(registry *prometheus.Registry) (*PoolMetrics, error) {
	m := &PoolMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize pool metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pool metrics: %w", err)
	}
	return m, nil
}

func (m *PoolMetrics) initMetrics() error {
	m.acquiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bufferpool_acquires_total",
			Help: "Total number of buffer acquire attempts partitioned by outcome",
		},
		[]string{"status"},
	)

	m.releasesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bufferpool_releases_total",
			Help: "Total number of buffers returned to the pool",
		},
	)

	m.capacityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bufferpool_capacity",
			Help: "Fixed number of buffers the pool owns",
		},
	)

	m.freeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bufferpool_free",
			Help: "Number of buffers currently available",
		},
	)

	m.inUseGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bufferpool_in_use",
			Help: "Number of buffers currently held by callers",
		},
	)

	m.utilizationGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bufferpool_utilization_ratio",
			Help: "Pool pressure from 0.0 (idle) to 1.0 (exhausted)",
		},
	)

	return nil
}

// RecordAcquire records one acquire attempt by outcome.
func (m *PoolMetrics) RecordAcquire(status string) {
	m.acquiresTotal.WithLabelValues(status).Inc()
}

// RecordRelease records one buffer returned to the pool.
func (m *PoolMetrics) RecordRelease() {
	m.releasesTotal.Inc()
}

// SetOccupancy updates the capacity and occupancy gauges.
func (m *PoolMetrics) SetOccupancy(capacity, free int) {
	m.capacityGauge.Set(float64(capacity))
	m.freeGauge.Set(float64(free))
	m.inUseGauge.Set(float64(capacity - free))
	if capacity > 0 {
		m.utilizationGauge.Set(1.0 - float64(free)/float64(capacity))
	}
}

// Describe implements the prometheus.Collector interface.
func (m *PoolMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.acquiresTotal.Describe(ch)
	ch <- m.releasesTotal.Desc()
	ch <- m.capacityGauge.Desc()
	ch <- m.freeGauge.Desc()
	ch <- m.inUseGauge.Desc()
	ch <- m.utilizationGauge.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *PoolMetrics) Collect(ch chan<- prometheus.Metric) {
	m.acquiresTotal.Collect(ch)
	ch <- m.releasesTotal
	ch <- m.capacityGauge
	ch <- m.freeGauge
	ch <- m.inUseGauge
	ch <- m.utilizationGauge
}
