package audio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAcquireReleaseRoundTrip(t *testing.T) {
	t.Parallel()

	const capacity = 4
	pool, err := NewPool(capacity, 256)
	require.NoError(t, err)

	// Drain the pool completely
	held := make([]*Buffer, 0, capacity)
	for i := 0; i < capacity; i++ {
		buf, err := pool.Acquire()
		require.NoError(t, err, "acquire %d of %d should succeed", i+1, capacity)
		held = append(held, buf)
	}

	// One more acquire must report exhaustion, not block
	_, err = pool.Acquire()
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.InDelta(t, 1.0, pool.Utilization(), 1e-9)

	// Release one and the next acquire succeeds again
	require.NoError(t, pool.Release(held[0]))
	buf, err := pool.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 256, buf.Len(), "acquired buffer length resets to full capacity")
}

func TestPoolUtilization(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(4, 128)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, pool.Utilization(), 1e-9)

	a, _ := pool.Acquire()
	b, _ := pool.Acquire()
	assert.InDelta(t, 0.5, pool.Utilization(), 1e-9)

	require.NoError(t, pool.Release(a))
	require.NoError(t, pool.Release(b))
	assert.InDelta(t, 0.0, pool.Utilization(), 1e-9)
}

func TestPoolDoubleReleaseDetected(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(2, 64)
	require.NoError(t, err)

	buf, err := pool.Acquire()
	require.NoError(t, err)

	require.NoError(t, pool.Release(buf))
	assert.ErrorIs(t, pool.Release(buf), ErrDoubleRelease)
	assert.Equal(t, 2, pool.Free(), "double release must not grow the free list")
}

func TestPoolRejectsForeignBuffer(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(2, 64)
	require.NoError(t, err)
	other, err := NewPool(2, 64)
	require.NoError(t, err)

	buf, err := other.Acquire()
	require.NoError(t, err)

	assert.ErrorIs(t, pool.Release(buf), ErrForeignBuffer)
	assert.ErrorIs(t, pool.Release(nil), ErrForeignBuffer)
}

func TestPoolSizingValidation(t *testing.T) {
	t.Parallel()

	_, err := NewPool(0, 256)
	assert.Error(t, err)

	_, err = NewPool(4, 32) // below the minimum buffer size
	assert.Error(t, err)

	_, err = NewPool(4, 16384) // above the maximum buffer size
	assert.Error(t, err)
}

func TestPoolConcurrentAcquireRelease(t *testing.T) {
	t.Parallel()

	const capacity = 8
	pool, err := NewPool(capacity, 128)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				buf, err := pool.Acquire()
				if err != nil {
					continue // exhaustion is expected under contention
				}
				buf.Samples()[0] = 1.0
				if err := pool.Release(buf); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	stats := pool.Stats()
	assert.Equal(t, capacity, stats.Free, "all buffers must be back after the storm")
	assert.Equal(t, stats.Acquires, stats.Releases, "every acquire must pair with a release")
}

func TestBufferSetLength(t *testing.T) {
	t.Parallel()

	pool, err := NewPool(1, 256)
	require.NoError(t, err)

	buf, err := pool.Acquire()
	require.NoError(t, err)

	require.NoError(t, buf.SetLength(100))
	assert.Equal(t, 100, buf.Len())
	assert.Len(t, buf.Samples(), 100)
	assert.Equal(t, 256, buf.Cap())

	assert.Error(t, buf.SetLength(257), "length beyond capacity must fail")
	assert.Error(t, buf.SetLength(-1))
}
