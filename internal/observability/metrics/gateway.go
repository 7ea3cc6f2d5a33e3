package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics contains Prometheus metrics for the streaming gateway.
type GatewayMetrics struct {
	registry *prometheus.Registry

	connectionsTotal  *prometheus.CounterVec
	activeConnections prometheus.Gauge
	messagesTotal     *prometheus.CounterVec
	bytesTotal        *prometheus.CounterVec
	payloadSize       prometheus.Histogram
	messageLatency    prometheus.Histogram
	checksumFailures  prometheus.Counter
	dropoutsTotal     prometheus.Counter
	rateLimitedTotal  prometheus.Counter
}

// NewGatewayMetrics creates and registers streaming gateway metrics.
func NewGatewayMetrics(registry *prometheus.Registry) (*GatewayMetrics, error) {
	m := &GatewayMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize gateway metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register gateway metrics: %w", err)
	}
	return m, nil
}

func (m *GatewayMetrics) initMetrics() error {
	m.connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_connections_total",
			Help: "Total number of WebSocket connection attempts partitioned by outcome",
		},
		[]string{"status"},
	)

	m.activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_active_connections",
			Help: "Number of currently open WebSocket connections",
		},
	)

	m.messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_messages_total",
			Help: "Total number of stream messages partitioned by direction and event type",
		},
		[]string{"direction", "event"},
	)

	m.bytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_bytes_total",
			Help: "Total message payload bytes partitioned by direction",
		},
		[]string{"direction"},
	)

	m.payloadSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_payload_size_bytes",
			Help:    "Size of audio payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount10),
		},
	)

	m.messageLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_message_latency_seconds",
			Help:    "Time from receiving an audio message to sending its reply",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
		},
	)

	m.checksumFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_checksum_failures_total",
			Help: "Total number of inbound frames rejected for checksum mismatch",
		},
	)

	m.dropoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_dropouts_total",
			Help: "Total number of audio messages that failed processing",
		},
	)

	m.rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Total number of inbound messages rejected by the rate limiter",
		},
	)

	return nil
}

// RecordConnection records one connection attempt by outcome.
func (m *GatewayMetrics) RecordConnection(status string) {
	m.connectionsTotal.WithLabelValues(status).Inc()
}

// SetActiveConnections updates the open connections gauge.
func (m *GatewayMetrics) SetActiveConnections(n int) {
	m.activeConnections.Set(float64(n))
}

// RecordMessage records one stream message with its payload size.
func (m *GatewayMetrics) RecordMessage(direction, event string, payloadBytes int) {
	m.messagesTotal.WithLabelValues(direction, event).Inc()
	m.bytesTotal.WithLabelValues(direction).Add(float64(payloadBytes))
	if payloadBytes > 0 {
		m.payloadSize.Observe(float64(payloadBytes))
	}
}

// ObserveLatency records one request to reply round trip.
func (m *GatewayMetrics) ObserveLatency(seconds float64) {
	m.messageLatency.Observe(seconds)
}

// RecordChecksumFailure records one rejected frame.
func (m *GatewayMetrics) RecordChecksumFailure() {
	m.checksumFailures.Inc()
}

// RecordDropout records one audio message that failed processing.
func (m *GatewayMetrics) RecordDropout() {
	m.dropoutsTotal.Inc()
}

// RecordRateLimited records one message dropped by the inbound limiter.
func (m *GatewayMetrics) RecordRateLimited() {
	m.rateLimitedTotal.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *GatewayMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.connectionsTotal.Describe(ch)
	ch <- m.activeConnections.Desc()
	m.messagesTotal.Describe(ch)
	m.bytesTotal.Describe(ch)
	ch <- m.payloadSize.Desc()
	ch <- m.messageLatency.Desc()
	ch <- m.checksumFailures.Desc()
	ch <- m.dropoutsTotal.Desc()
	ch <- m.rateLimitedTotal.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *GatewayMetrics) Collect(ch chan<- prometheus.Metric) {
	m.connectionsTotal.Collect(ch)
	ch <- m.activeConnections
	m.messagesTotal.Collect(ch)
	m.bytesTotal.Collect(ch)
	ch <- m.payloadSize
	ch <- m.messageLatency
	ch <- m.checksumFailures
	ch <- m.dropoutsTotal
	ch <- m.rateLimitedTotal
}
