package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// QualityMetrics contains Prometheus metrics for the signal quality
// monitor.
type QualityMetrics struct {
	registry *prometheus.Registry

	thdGauge      prometheus.Gauge
	snrGauge      prometheus.Gauge
	latencyGauge  prometheus.Gauge
	deltaGauge    prometheus.Gauge
	samplesTotal  prometheus.Counter
	alertsTotal   *prometheus.CounterVec
	droppedAlerts prometheus.Counter
}

// NewQualityMetrics creates and registers quality monitor metrics.
func NewQualityMetrics(registry *prometheus.Registry) (*QualityMetrics, error) {
	m := &QualityMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize quality metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register quality metrics: %w", err)
	}
	return m, nil
}

func (m *QualityMetrics) initMetrics() error {
	m.thdGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quality_thd_ratio",
			Help: "Smoothed total harmonic distortion estimate",
		},
	)

	m.snrGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quality_snr_db",
			Help: "Rolling mean signal to noise ratio in dB",
		},
	)

	m.latencyGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quality_latency_milliseconds",
			Help: "Rolling mean processing latency in milliseconds",
		},
	)

	m.deltaGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quality_enhancement_delta",
			Help: "Rolling mean quality improvement attributed to the AI stage",
		},
	)

	m.samplesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quality_samples_total",
			Help: "Total number of quality samples observed",
		},
	)

	m.alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quality_alerts_total",
			Help: "Total number of quality threshold alerts partitioned by kind",
		},
		[]string{"kind"},
	)

	m.droppedAlerts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quality_alerts_dropped_total",
			Help: "Total number of alerts dropped because the alert channel was full",
		},
	)

	return nil
}

// RecordSample updates the quality gauges with the monitor's current
// aggregates.
func (m *QualityMetrics) RecordSample(thd, snr, latencyMs, delta float64) {
	m.thdGauge.Set(thd)
	m.snrGauge.Set(snr)
	m.latencyGauge.Set(latencyMs)
	m.deltaGauge.Set(delta)
	m.samplesTotal.Inc()
}

// RecordAlert records one threshold alert by kind.
func (m *QualityMetrics) RecordAlert(kind string) {
	m.alertsTotal.WithLabelValues(kind).Inc()
}

// RecordDroppedAlert records one alert lost to a full channel.
func (m *QualityMetrics) RecordDroppedAlert() {
	m.droppedAlerts.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *QualityMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.thdGauge.Desc()
	ch <- m.snrGauge.Desc()
	ch <- m.latencyGauge.Desc()
	ch <- m.deltaGauge.Desc()
	ch <- m.samplesTotal.Desc()
	m.alertsTotal.Describe(ch)
	ch <- m.droppedAlerts.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *QualityMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.thdGauge
	ch <- m.snrGauge
	ch <- m.latencyGauge
	ch <- m.deltaGauge
	ch <- m.samplesTotal
	m.alertsTotal.Collect(ch)
	ch <- m.droppedAlerts
}
