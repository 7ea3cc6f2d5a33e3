package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolMetricsRecording(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewPoolMetrics(registry)
	require.NoError(t, err)

	m.RecordAcquire(StatusSuccess)
	m.RecordAcquire(StatusSuccess)
	m.RecordAcquire(StatusExhausted)
	m.RecordRelease()
	m.SetOccupancy(8, 5)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.acquiresTotal.WithLabelValues(StatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.acquiresTotal.WithLabelValues(StatusExhausted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.releasesTotal))
	assert.Equal(t, float64(8), testutil.ToFloat64(m.capacityGauge))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.freeGauge))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.inUseGauge))
	assert.InDelta(t, 0.375, testutil.ToFloat64(m.utilizationGauge), 1e-9)
}

func TestQueueMetricsRecording(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewQueueMetrics(registry)
	require.NoError(t, err)

	m.RecordSubmit(StatusAccepted)
	m.RecordSubmit(StatusRejected)
	m.RecordJob(StatusSuccess, 0.004)
	m.RecordJob(StatusDegraded, 0.002)
	m.RecordJob(StatusFailed, 0.030)
	m.RecordRetry()
	m.RecordRetry()
	m.SetDepth(7)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.submissionsTotal.WithLabelValues(StatusAccepted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.submissionsTotal.WithLabelValues(StatusRejected)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobsTotal.WithLabelValues(StatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobsTotal.WithLabelValues(StatusDegraded)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobsTotal.WithLabelValues(StatusFailed)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.retriesTotal))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.depthGauge))
}

func TestSchedulerMetricsBreakerState(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewSchedulerMetrics(registry)
	require.NoError(t, err)

	m.SetBreakerState(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.breakerStateGauge))
	m.SetBreakerState(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.breakerStateGauge))

	m.RecordBreakerTransition("open")
	m.RecordBreakerTransition("closed")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.breakerTransitions.WithLabelValues("open")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.breakerTransitions.WithLabelValues("closed")))

	m.SetBatchHint(512)
	assert.Equal(t, float64(512), testutil.ToFloat64(m.batchHintGauge))

	m.RecordInference(StatusSuccess, 0.005)
	m.RecordInference(StatusError, 0.020)
	m.RecordInference(StatusRejected, 0)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.inferenceTotal.WithLabelValues(StatusSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.inferenceTotal.WithLabelValues(StatusError)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.inferenceTotal.WithLabelValues(StatusRejected)))
}

func TestQualityMetricsRecording(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewQualityMetrics(registry)
	require.NoError(t, err)

	m.RecordSample(0.004, 72.5, 6.2, 0.015)
	m.RecordSample(0.005, 71.0, 6.8, 0.018)
	m.RecordAlert("thd")
	m.RecordDroppedAlert()

	assert.InDelta(t, 0.005, testutil.ToFloat64(m.thdGauge), 1e-9)
	assert.InDelta(t, 71.0, testutil.ToFloat64(m.snrGauge), 1e-9)
	assert.InDelta(t, 6.8, testutil.ToFloat64(m.latencyGauge), 1e-9)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.samplesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.alertsTotal.WithLabelValues("thd")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.droppedAlerts))
}

func TestGatewayMetricsRecording(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewGatewayMetrics(registry)
	require.NoError(t, err)

	m.RecordConnection(StatusAccepted)
	m.RecordConnection(StatusRejected)
	m.SetActiveConnections(3)
	m.RecordMessage(DirectionIn, "audio-data", 2048)
	m.RecordMessage(DirectionOut, "audio-data", 2048)
	m.RecordMessage(DirectionOut, "error", 0)
	m.RecordChecksumFailure()
	m.RecordDropout()
	m.RecordRateLimited()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.connectionsTotal.WithLabelValues(StatusAccepted)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.connectionsTotal.WithLabelValues(StatusRejected)))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.activeConnections))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.messagesTotal.WithLabelValues(DirectionIn, "audio-data")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.messagesTotal.WithLabelValues(DirectionOut, "audio-data")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.messagesTotal.WithLabelValues(DirectionOut, "error")))
	assert.Equal(t, float64(2048), testutil.ToFloat64(m.bytesTotal.WithLabelValues(DirectionIn)))
	assert.Equal(t, float64(2048), testutil.ToFloat64(m.bytesTotal.WithLabelValues(DirectionOut)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.checksumFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.dropoutsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rateLimitedTotal))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewPoolMetrics(registry)
	require.NoError(t, err)

	_, err = NewPoolMetrics(registry)
	assert.Error(t, err)
}
