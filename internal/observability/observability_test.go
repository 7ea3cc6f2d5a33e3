package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralis/auralis-go/internal/observability/metrics"
)

func TestNewMetricsInitializesAllCollectors(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	assert.NotNil(t, m.registry)
	assert.NotNil(t, m.Pipeline)
	assert.NotNil(t, m.Pool)
	assert.NotNil(t, m.Queue)
	assert.NotNil(t, m.Scheduler)
	assert.NotNil(t, m.Quality)
	assert.NotNil(t, m.Gateway)
}

func TestHandlerServesRecordedMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Pipeline.RecordChunk(metrics.LabelEnhanced, 0.004)
	m.Pipeline.SetRunning(true)
	m.Pool.RecordAcquire(metrics.StatusSuccess)
	m.Pool.SetOccupancy(8, 5)
	m.Queue.RecordSubmit(metrics.StatusAccepted)
	m.Queue.SetDepth(2)
	m.Scheduler.RecordInference(metrics.StatusSuccess, 0.005)
	m.Scheduler.RecordInference(metrics.StatusRejected, 0)
	m.Quality.RecordSample(0.004, 72, 6.5, 0.02)
	m.Gateway.RecordMessage(metrics.DirectionIn, "audio-data", 512)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, `pipeline_chunks_total{mode="enhanced"} 1`)
	assert.Contains(t, body, `pipeline_running 1`)
	assert.Contains(t, body, `bufferpool_free 5`)
	assert.Contains(t, body, `bufferpool_utilization_ratio 0.375`)
	assert.Contains(t, body, `jobqueue_submissions_total{status="accepted"} 1`)
	assert.Contains(t, body, `jobqueue_depth 2`)
	assert.Contains(t, body, `scheduler_inferences_total{status="rejected"} 1`)
	// Rejected calls never reach the model, so only one duration sample.
	assert.Contains(t, body, `scheduler_inference_duration_seconds_count 1`)
	assert.Contains(t, body, `quality_snr_db 72`)
	assert.Contains(t, body, `gateway_bytes_total{direction="in"} 512`)
}

func TestNewMetricsConcurrency(t *testing.T) {
	const goroutines = 20

	errs := make(chan error, goroutines)
	for range goroutines {
		go func() {
			_, err := NewMetrics()
			errs <- err
		}()
	}
	for range goroutines {
		require.NoError(t, <-errs)
	}
}
