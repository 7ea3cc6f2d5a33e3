package jobqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/auralis/auralis-go/internal/audio"
	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/enhance"
	"github.com/auralis/auralis-go/internal/errors"
	"github.com/auralis/auralis-go/internal/quality"
	"github.com/auralis/auralis-go/internal/scheduler"
)

// TestMain provides goleak verification to detect goroutine leaks
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testQueueSettings() *conf.QueueSettings {
	return &conf.QueueSettings{
		Workers: 2,
		MaxSize: 8,
		Timeout: 5 * time.Second,
		Retry: conf.RetrySettings{
			MaxRetries:   2,
			InitialDelay: 4 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2.0,
		},
	}
}

func testConfig() audio.Config {
	return audio.Config{
		SampleRate: 48000,
		BitDepth:   32,
		Channels:   2,
		BufferSize: 256,
		Tier:       audio.TierMaximum,
	}
}

func flatDSP() *conf.DSPSettings {
	return &conf.DSPSettings{LimiterCeiling: 0.98}
}

func newTestQueue(t *testing.T, settings *conf.QueueSettings) (*Queue, *audio.Pool) {
	t.Helper()
	pool, err := audio.NewPool(8, 256)
	require.NoError(t, err)
	q, err := New(settings, flatDSP(), testConfig(), pool)
	require.NoError(t, err)
	return q, pool
}

func acquireFilled(t *testing.T, pool *audio.Pool) *audio.Buffer {
	t.Helper()
	buf, err := pool.Acquire()
	require.NoError(t, err)
	samples := buf.Samples()
	for i := range samples {
		samples[i] = float32(i%100) / 200.0
	}
	return buf
}

// outcomeEnhancer scripts stage outcomes per call.
type outcomeEnhancer struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) enhance.Outcome
}

func (o *outcomeEnhancer) Enhance(_ context.Context, _ *audio.Buffer) enhance.Outcome {
	o.mu.Lock()
	o.calls++
	call := o.calls
	o.mu.Unlock()
	return o.fn(call)
}

func (o *outcomeEnhancer) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// gatedEnhancer parks the worker until released or cancelled.
type gatedEnhancer struct {
	entered chan struct{}
	release chan struct{}
}

func newGatedEnhancer() *gatedEnhancer {
	return &gatedEnhancer{
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (g *gatedEnhancer) Enhance(ctx context.Context, _ *audio.Buffer) enhance.Outcome {
	g.entered <- struct{}{}
	select {
	case <-g.release:
		return enhance.Outcome{Enhanced: true, Latency: time.Millisecond}
	case <-ctx.Done():
		return enhance.Outcome{Degraded: true, Err: ctx.Err()}
	}
}

func transientFailure() enhance.Outcome {
	return enhance.Outcome{Degraded: true, Err: errors.Newf("inference backend unavailable").
		Component("enhance").
		Category(errors.CategoryEnhancement).
		Build()}
}

func TestQueueProcessesJobWithoutEnhancer(t *testing.T) {
	t.Parallel()

	q, pool := newTestQueue(t, testQueueSettings())
	q.Start(context.Background())
	defer q.Stop()

	buf := acquireFilled(t, pool)
	res, err := q.Submit(context.Background(), Job{Buffer: buf, Config: testConfig()})
	require.NoError(t, err)
	require.NotNil(t, res.Buffer)

	assert.False(t, res.Enhanced)
	assert.Equal(t, 1, res.Attempts)
	assert.Greater(t, res.Quality.SNR, 0.0)
	assert.Greater(t, res.Metrics.ProcessingTime, time.Duration(0))
	require.NoError(t, pool.Release(res.Buffer))

	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Submitted)
	assert.Equal(t, uint64(1), stats.Succeeded)
	assert.Zero(t, stats.Failed)
}

func TestQueueValidationRejectsBeforeEnqueue(t *testing.T) {
	t.Parallel()

	q, pool := newTestQueue(t, testQueueSettings())
	q.Start(context.Background())
	defer q.Stop()

	emptyBuf, err := pool.Acquire()
	require.NoError(t, err)
	require.NoError(t, emptyBuf.SetLength(0))
	filledBuf := acquireFilled(t, pool)

	cases := []struct {
		name string
		job  Job
	}{
		{"nil buffer", Job{Config: testConfig()}},
		{"empty buffer", Job{Buffer: emptyBuf, Config: testConfig()}},
		{"no sample rate", Job{Buffer: filledBuf, Config: audio.Config{}}},
	}
	for _, tc := range cases {
		_, err := q.Submit(context.Background(), tc.job)
		require.Error(t, err, tc.name)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation), tc.name)
		assert.False(t, errors.IsRetryable(err), tc.name)
	}

	// Rejected jobs were never accepted, so the buffers stay with the caller.
	require.NoError(t, pool.Release(emptyBuf))
	require.NoError(t, pool.Release(filledBuf))
	assert.Zero(t, q.Stats().Submitted)
}

func TestQueueFullRejectsSubmission(t *testing.T) {
	t.Parallel()

	settings := testQueueSettings()
	settings.Workers = 1
	settings.MaxSize = 1
	q, pool := newTestQueue(t, settings)

	gate := newGatedEnhancer()
	q.SetEnhancer(gate)
	q.Start(context.Background())
	defer q.Stop()

	results := make(chan error, 2)
	submit := func(buf *audio.Buffer) {
		res, err := q.Submit(context.Background(), Job{Buffer: buf, Config: testConfig()})
		if err == nil {
			err = pool.Release(res.Buffer)
		}
		results <- err
	}

	// First job occupies the only worker
	go submit(acquireFilled(t, pool))
	<-gate.entered

	// Second job fills the single pending slot
	go submit(acquireFilled(t, pool))
	require.Eventually(t, func() bool {
		return q.Stats().Pending == 1
	}, time.Second, time.Millisecond)

	// Third submission must be rejected, not queued or blocked
	buf := acquireFilled(t, pool)
	_, err := q.Submit(context.Background(), Job{Buffer: buf, Config: testConfig()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.True(t, errors.IsRetryable(err), "full queue is a backpressure signal")
	require.NoError(t, pool.Release(buf))

	close(gate.release)
	require.NoError(t, <-results)
	require.NoError(t, <-results)
	assert.Equal(t, uint64(1), q.Stats().Rejected)
}

func TestQueueRetryRecoversTransientFailure(t *testing.T) {
	t.Parallel()

	q, pool := newTestQueue(t, testQueueSettings())
	enhancer := &outcomeEnhancer{fn: func(call int) enhance.Outcome {
		if call == 1 {
			return transientFailure()
		}
		return enhance.Outcome{Enhanced: true, Delta: 0.02, Latency: time.Millisecond}
	}}
	q.SetEnhancer(enhancer)
	q.Start(context.Background())
	defer q.Stop()

	buf := acquireFilled(t, pool)
	res, err := q.Submit(context.Background(), Job{Buffer: buf, Config: testConfig()})
	require.NoError(t, err)

	assert.True(t, res.Enhanced)
	assert.Equal(t, 2, res.Attempts)
	assert.InDelta(t, 0.02, res.Quality.EnhancementDelta, 1e-9)
	require.NoError(t, pool.Release(res.Buffer))

	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Succeeded)
	assert.Equal(t, uint64(1), stats.Retried)
	assert.Zero(t, stats.Failed)
}

func TestQueueRetryExhaustionIsTerminal(t *testing.T) {
	t.Parallel()

	q, pool := newTestQueue(t, testQueueSettings())
	var attemptTimes []time.Time
	var mu sync.Mutex
	enhancer := &outcomeEnhancer{fn: func(int) enhance.Outcome {
		mu.Lock()
		attemptTimes = append(attemptTimes, time.Now())
		mu.Unlock()
		return transientFailure()
	}}
	q.SetEnhancer(enhancer)
	q.Start(context.Background())
	defer q.Stop()

	buf := acquireFilled(t, pool)
	res, err := q.Submit(context.Background(), Job{Buffer: buf, Config: testConfig()})
	require.Error(t, err)

	assert.Nil(t, res.Buffer, "queue releases the buffer on terminal failure")
	assert.Equal(t, 3, res.Attempts, "initial attempt plus two retries")
	assert.Equal(t, 3, enhancer.Calls(), "no fourth attempt after the retry budget")
	assert.Equal(t, 8, pool.Free(), "terminal failure returns the buffer to the pool")

	mu.Lock()
	require.Len(t, attemptTimes, 3)
	firstGap := attemptTimes[1].Sub(attemptTimes[0])
	secondGap := attemptTimes[2].Sub(attemptTimes[1])
	mu.Unlock()
	assert.Greater(t, secondGap, firstGap, "backoff delays strictly increase")

	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(2), stats.Retried)
	assert.Zero(t, stats.Succeeded)
}

func TestQueueBreakerOpenShipsDSPOnly(t *testing.T) {
	t.Parallel()

	q, pool := newTestQueue(t, testQueueSettings())
	enhancer := &outcomeEnhancer{fn: func(int) enhance.Outcome {
		return enhance.Outcome{Degraded: true, Err: scheduler.ErrBreakerOpen}
	}}
	q.SetEnhancer(enhancer)
	q.Start(context.Background())
	defer q.Stop()

	buf := acquireFilled(t, pool)
	res, err := q.Submit(context.Background(), Job{Buffer: buf, Config: testConfig()})
	require.NoError(t, err, "an open breaker degrades, it does not fail the job")

	assert.False(t, res.Enhanced)
	assert.Equal(t, 1, res.Attempts, "fail-fast is not retried")
	assert.Equal(t, 1, enhancer.Calls())
	require.NoError(t, pool.Release(res.Buffer))

	assert.Equal(t, uint64(1), q.Stats().Degraded)
	assert.Zero(t, q.Stats().Failed)
}

func TestQueueStopFailsPendingJobs(t *testing.T) {
	t.Parallel()

	settings := testQueueSettings()
	settings.Workers = 1
	q, pool := newTestQueue(t, settings)

	gate := newGatedEnhancer()
	q.SetEnhancer(gate)
	q.Start(context.Background())

	errs := make(chan error, 2)
	submit := func(buf *audio.Buffer) {
		_, err := q.Submit(context.Background(), Job{Buffer: buf, Config: testConfig()})
		errs <- err
	}

	go submit(acquireFilled(t, pool))
	<-gate.entered
	go submit(acquireFilled(t, pool))
	require.Eventually(t, func() bool {
		return q.Stats().Pending == 1
	}, time.Second, time.Millisecond)

	q.Stop()

	require.Error(t, <-errs)
	require.Error(t, <-errs)
	assert.Equal(t, 8, pool.Free(), "all buffers returned on shutdown")

	// The queue no longer accepts work
	buf := acquireFilled(t, pool)
	_, err := q.Submit(context.Background(), Job{Buffer: buf, Config: testConfig()})
	assert.True(t, errors.Is(err, ErrQueueStopped))
	require.NoError(t, pool.Release(buf))
}

func TestQueueAbandonedJobReleasesBuffer(t *testing.T) {
	t.Parallel()

	q, pool := newTestQueue(t, testQueueSettings())
	gate := newGatedEnhancer()
	q.SetEnhancer(gate)
	q.Start(context.Background())
	defer q.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	buf := acquireFilled(t, pool)
	_, err := q.Submit(ctx, Job{Buffer: buf, Config: testConfig()})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))

	// The worker finishes later, finds the submitter gone and cleans up.
	close(gate.release)
	assert.Eventually(t, func() bool {
		return pool.Free() == 8
	}, time.Second, time.Millisecond)
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	cfg := conf.RetrySettings{
		MaxRetries:   2,
		InitialDelay: 4 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}
	assert.Equal(t, 8*time.Millisecond, backoffDelay(cfg, 1))
	assert.Equal(t, 16*time.Millisecond, backoffDelay(cfg, 2))
	assert.Equal(t, 100*time.Millisecond, backoffDelay(cfg, 10), "capped at MaxDelay")
}

// flakyModel is an inference collaborator that fails exactly one call.
type flakyModel struct {
	mu     sync.Mutex
	calls  int
	failOn int
}

func (m *flakyModel) Enhance(_ context.Context, in, out []float32) error {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	if call == m.failOn {
		return errors.Newf("transient inference fault").
			Component("enhance").
			Category(errors.CategoryEnhancement).
			Build()
	}
	copy(out, in)
	return nil
}

func (m *flakyModel) Close() error { return nil }

func (m *flakyModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestQueueEndToEndHundredJobs(t *testing.T) {
	t.Parallel()

	cfg := audio.Config{
		SampleRate: 48000,
		BitDepth:   32,
		Channels:   2,
		BufferSize: 1024,
		Tier:       audio.TierMaximum,
	}
	pool, err := audio.NewPool(4, 1024)
	require.NoError(t, err)

	model := &flakyModel{failOn: 37}
	stage := enhance.NewStage(model, pool)
	sched := scheduler.NewScheduler(&conf.SchedulerSettings{
		MinBatch:            64,
		MaxBatch:            1024,
		LatencyTargetMs:     10,
		LatencyFloorMs:      5,
		BreakerRatio:        0.5,
		ProbeInterval:       time.Second,
		MemoryCheckInterval: time.Second,
		MemoryLimitMB:       8192,
	}, stage, pool)

	monitor := quality.NewMonitor(conf.QualitySettings{WindowSize: 100})

	q, err := New(testQueueSettings(), flatDSP(), cfg, pool)
	require.NoError(t, err)
	q.SetEnhancer(sched)
	q.SetObserver(monitor)
	q.Start(context.Background())
	defer q.Stop()

	recovered := 0
	for i := range 100 {
		buf, err := pool.Acquire()
		require.NoError(t, err)
		samples := buf.Samples()
		for j := range samples {
			samples[j] = float32(j%128) / 256.0
		}

		res, err := q.Submit(context.Background(), Job{Buffer: buf, Config: cfg})
		require.NoError(t, err, "job %d", i)
		require.NotNil(t, res.Buffer, "job %d", i)
		assert.True(t, res.Enhanced, "job %d", i)
		if res.Attempts > 1 {
			recovered++
		}
		require.NoError(t, pool.Release(res.Buffer))
	}

	assert.Equal(t, 1, recovered, "only the faulted job needed a retry")
	assert.Equal(t, 101, model.Calls(), "one extra inference call for the retry")

	stats := q.Stats()
	assert.Equal(t, uint64(100), stats.Succeeded)
	assert.Equal(t, uint64(1), stats.Retried)
	assert.Zero(t, stats.Failed)
	assert.Zero(t, stats.Degraded)

	assert.Equal(t, uint64(100), monitor.Snapshot().Samples)
	assert.Equal(t, scheduler.BreakerClosed, sched.Breaker().State(),
		"one failure among a hundred calls never opens the breaker")
	assert.Equal(t, 4, pool.Free(), "every pooled buffer accounted for")
}
