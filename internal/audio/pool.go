package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/observability/metrics"
)

// Common errors returned by pool operations
var (
	ErrPoolExhausted = errors.New("buffer pool exhausted")
	ErrForeignBuffer = errors.New("buffer does not belong to this pool")
	ErrDoubleRelease = errors.New("buffer released twice")
)

// Pool is a fixed-capacity pool of pre-allocated buffers. Acquire never
// blocks and never allocates: when the pool is empty it reports exhaustion
// so callers can apply backpressure instead of stalling the audio path.
type Pool struct {
	mu   sync.Mutex
	free []*Buffer

	capacity  int
	bufferLen int
	metrics   *metrics.PoolMetrics

	acquires  atomic.Uint64
	exhausted atomic.Uint64
	releases  atomic.Uint64
}

// PoolStats is a point-in-time snapshot of pool activity.
type PoolStats struct {
	Capacity    int
	Free        int
	InUse       int
	Acquires    uint64
	Exhausted   uint64
	Releases    uint64
	Utilization float64
}

// NewPool pre-allocates capacity buffers of bufferLen samples each.
func NewPool(capacity, bufferLen int) (*Pool, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("pool capacity must be at least 1, got %d", capacity)
	}
	if bufferLen < conf.MinBufferSize || bufferLen > conf.MaxBufferSize {
		return nil, fmt.Errorf("pool buffer length %d outside [%d, %d]",
			bufferLen, conf.MinBufferSize, conf.MaxBufferSize)
	}

	p := &Pool{
		free:      make([]*Buffer, 0, capacity),
		capacity:  capacity,
		bufferLen: bufferLen,
	}

	for range capacity {
		p.free = append(p.free, &Buffer{
			samples: make([]float32, bufferLen),
			length:  bufferLen,
			pool:    p,
			free:    true,
		})
	}

	return p, nil
}

// SetMetrics wires Prometheus collectors in. Must be called before the
// pool sees traffic.
func (p *Pool) SetMetrics(m *metrics.PoolMetrics) {
	p.metrics = m
	if m != nil {
		m.SetOccupancy(p.capacity, p.Free())
	}
}

// Acquire hands out a free buffer with its length reset to the full
// capacity. Returns ErrPoolExhausted when no buffer is free.
func (p *Pool) Acquire() (*Buffer, error) {
	p.mu.Lock()
	n := len(p.free)
	if n == 0 {
		p.mu.Unlock()
		p.exhausted.Add(1)
		if p.metrics != nil {
			p.metrics.RecordAcquire(metrics.StatusExhausted)
		}
		return nil, ErrPoolExhausted
	}

	buf := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	buf.free = false
	p.mu.Unlock()

	p.acquires.Add(1)
	if p.metrics != nil {
		p.metrics.RecordAcquire(metrics.StatusSuccess)
		p.metrics.SetOccupancy(p.capacity, n-1)
	}
	buf.length = p.bufferLen
	return buf, nil
}

// Release returns a buffer to the free list. Releasing a buffer from another
// pool or releasing the same buffer twice is a caller contract violation and
// is reported instead of corrupting the free list.
func (p *Pool) Release(buf *Buffer) error {
	if buf == nil || buf.pool != p {
		return ErrForeignBuffer
	}

	p.mu.Lock()
	if buf.free {
		p.mu.Unlock()
		return ErrDoubleRelease
	}
	buf.free = true
	buf.capturedAt = time.Time{}
	p.free = append(p.free, buf)
	free := len(p.free)
	p.mu.Unlock()

	p.releases.Add(1)
	if p.metrics != nil {
		p.metrics.RecordRelease()
		p.metrics.SetOccupancy(p.capacity, free)
	}
	return nil
}

// Capacity returns the fixed number of buffers the pool owns.
func (p *Pool) Capacity() int {
	return p.capacity
}

// BufferLen returns the sample capacity of each pooled buffer.
func (p *Pool) BufferLen() int {
	return p.bufferLen
}

// Free returns the number of buffers currently available.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// InUse returns the number of buffers currently held by callers.
func (p *Pool) InUse() int {
	return p.capacity - p.Free()
}

// Utilization reports pool pressure as 1 - free/capacity, so an empty pool
// reads 1.0 and an idle pool 0.0.
func (p *Pool) Utilization() float64 {
	return 1.0 - float64(p.Free())/float64(p.capacity)
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() PoolStats {
	free := p.Free()
	return PoolStats{
		Capacity:    p.capacity,
		Free:        free,
		InUse:       p.capacity - free,
		Acquires:    p.acquires.Load(),
		Exhausted:   p.exhausted.Load(),
		Releases:    p.releases.Load(),
		Utilization: 1.0 - float64(free)/float64(p.capacity),
	}
}
