package enhance

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralis/auralis-go/internal/audio"
	"github.com/auralis/auralis-go/internal/errors"
)

// fakeEnhancer runs an arbitrary transform and records invocations.
type fakeEnhancer struct {
	fn     func(ctx context.Context, in, out []float32) error
	calls  int
	closed bool
}

func (f *fakeEnhancer) Enhance(ctx context.Context, in, out []float32) error {
	f.calls++
	return f.fn(ctx, in, out)
}

func (f *fakeEnhancer) Close() error {
	f.closed = true
	return nil
}

func scale(factor float32) func(ctx context.Context, in, out []float32) error {
	return func(_ context.Context, in, out []float32) error {
		for i, v := range in {
			out[i] = v * factor
		}
		return nil
	}
}

func failWith(err error) func(ctx context.Context, in, out []float32) error {
	return func(_ context.Context, _, _ []float32) error {
		return err
	}
}

func newTestStage(t *testing.T, enhancer Enhancer, poolCapacity int) (*Stage, *audio.Pool) {
	t.Helper()
	pool, err := audio.NewPool(poolCapacity, 256)
	require.NoError(t, err)
	return NewStage(enhancer, pool), pool
}

func fillRamp(buf *audio.Buffer) {
	for i := range buf.Samples() {
		buf.Samples()[i] = float32(i%100) / 200
	}
}

func TestStageEnhancesBuffer(t *testing.T) {
	t.Parallel()

	fake := &fakeEnhancer{fn: scale(2)}
	stage, pool := newTestStage(t, fake, 2)

	buf, err := pool.Acquire()
	require.NoError(t, err)
	fillRamp(buf)

	want := make([]float32, buf.Len())
	for i, v := range buf.Samples() {
		want[i] = v * 2
	}

	outcome := stage.Process(context.Background(), buf)

	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Enhanced)
	assert.False(t, outcome.Degraded)
	assert.Equal(t, want, buf.Samples())
	assert.InDelta(t, 1.0, outcome.Delta, 1e-6, "doubling the signal doubles its RMS")
	assert.Equal(t, 1, fake.calls)
}

func TestStageNegativeDelta(t *testing.T) {
	t.Parallel()

	stage, pool := newTestStage(t, &fakeEnhancer{fn: scale(0.5)}, 2)

	buf, err := pool.Acquire()
	require.NoError(t, err)
	fillRamp(buf)

	outcome := stage.Process(context.Background(), buf)
	require.True(t, outcome.Enhanced)
	assert.InDelta(t, -0.5, outcome.Delta, 1e-6)
}

func TestStageSilentInputHasZeroDelta(t *testing.T) {
	t.Parallel()

	stage, pool := newTestStage(t, &fakeEnhancer{fn: scale(2)}, 2)

	buf, err := pool.Acquire()
	require.NoError(t, err)

	outcome := stage.Process(context.Background(), buf)
	require.True(t, outcome.Enhanced)
	assert.Zero(t, outcome.Delta)
}

func TestStageFallbackOnEnhancerError(t *testing.T) {
	t.Parallel()

	fake := &fakeEnhancer{fn: failWith(errors.NewStd("inference blew up"))}
	stage, pool := newTestStage(t, fake, 2)

	buf, err := pool.Acquire()
	require.NoError(t, err)
	fillRamp(buf)

	want := slices.Clone(buf.Samples())

	outcome := stage.Process(context.Background(), buf)

	assert.True(t, outcome.Degraded)
	assert.False(t, outcome.Enhanced)
	require.Error(t, outcome.Err)
	assert.Equal(t, want, buf.Samples(), "failed enhancement must not touch the audio")
	assert.True(t, errors.IsCategory(outcome.Err, errors.CategoryEnhancement))
}

func TestStageFallbackOnPoolExhausted(t *testing.T) {
	t.Parallel()

	fake := &fakeEnhancer{fn: scale(2)}
	stage, pool := newTestStage(t, fake, 1)

	// The only pool buffer is the one being processed, so no scratch is left
	buf, err := pool.Acquire()
	require.NoError(t, err)
	fillRamp(buf)

	want := slices.Clone(buf.Samples())

	outcome := stage.Process(context.Background(), buf)

	assert.True(t, outcome.Degraded)
	require.Error(t, outcome.Err)
	assert.True(t, errors.Is(outcome.Err, audio.ErrPoolExhausted))
	assert.True(t, errors.IsCategory(outcome.Err, errors.CategoryResource))
	assert.Equal(t, want, buf.Samples())
	assert.Equal(t, 0, fake.calls, "no inference without scratch space")
}

func TestStageFallbackOnCanceledContext(t *testing.T) {
	t.Parallel()

	fake := &fakeEnhancer{fn: scale(2)}
	stage, pool := newTestStage(t, fake, 2)

	buf, err := pool.Acquire()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := stage.Process(ctx, buf)
	assert.True(t, outcome.Degraded)
	assert.Equal(t, 0, fake.calls)
}

func TestStageReleasesScratch(t *testing.T) {
	t.Parallel()

	stage, pool := newTestStage(t, &fakeEnhancer{fn: scale(2)}, 3)

	buf, err := pool.Acquire()
	require.NoError(t, err)

	for range 5 {
		outcome := stage.Process(context.Background(), buf)
		require.True(t, outcome.Enhanced)
		assert.Equal(t, 2, pool.Free(), "scratch must go back to the pool")
	}
}

func TestStageHealth(t *testing.T) {
	t.Parallel()

	t.Run("untouched stage is healthy", func(t *testing.T) {
		t.Parallel()
		stage, _ := newTestStage(t, &fakeEnhancer{fn: scale(1)}, 2)
		health := stage.Health()
		assert.True(t, health.Healthy)
		assert.Zero(t, health.Invocations)
	})

	t.Run("rare failures stay healthy", func(t *testing.T) {
		t.Parallel()
		fail := false
		fake := &fakeEnhancer{fn: func(ctx context.Context, in, out []float32) error {
			if fail {
				return errors.NewStd("transient")
			}
			return scale(1)(ctx, in, out)
		}}
		stage, pool := newTestStage(t, fake, 2)
		buf, err := pool.Acquire()
		require.NoError(t, err)

		fail = true
		stage.Process(context.Background(), buf)
		fail = false
		for range 200 {
			stage.Process(context.Background(), buf)
		}

		health := stage.Health()
		assert.Less(t, health.ErrorRate, 0.01)
		assert.True(t, health.Healthy)
		assert.Equal(t, uint64(1), health.Failures)
	})

	t.Run("failure burst turns unhealthy", func(t *testing.T) {
		t.Parallel()
		stage, pool := newTestStage(t, &fakeEnhancer{fn: failWith(errors.NewStd("down"))}, 2)
		buf, err := pool.Acquire()
		require.NoError(t, err)

		for range 4 {
			stage.Process(context.Background(), buf)
		}

		health := stage.Health()
		assert.False(t, health.Healthy)
		assert.InDelta(t, 1.0, health.ErrorRate, 1e-9)
	})

	t.Run("slow inference turns unhealthy", func(t *testing.T) {
		t.Parallel()
		slow := &fakeEnhancer{fn: func(ctx context.Context, in, out []float32) error {
			time.Sleep(15 * time.Millisecond)
			return scale(1)(ctx, in, out)
		}}
		stage, pool := newTestStage(t, slow, 2)
		buf, err := pool.Acquire()
		require.NoError(t, err)

		outcome := stage.Process(context.Background(), buf)
		require.True(t, outcome.Enhanced)

		health := stage.Health()
		assert.False(t, health.Healthy)
		assert.Greater(t, health.AvgLatencyMs, 10.0)
	})
}

func TestStageClose(t *testing.T) {
	t.Parallel()

	fake := &fakeEnhancer{fn: scale(1)}
	stage, _ := newTestStage(t, fake, 2)

	require.NoError(t, stage.Close())
	assert.True(t, fake.closed)
}
