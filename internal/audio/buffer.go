package audio

import (
	"fmt"
	"time"
)

// Buffer is a fixed-capacity block of interleaved float32 samples. A buffer
// is owned by exactly one stage at a time; ownership transfers only through
// Pool.Acquire and Pool.Release, so no per-buffer locking is needed.
type Buffer struct {
	samples    []float32
	length     int
	capturedAt time.Time
	pool       *Pool
	free       bool
}

// Samples returns the valid portion of the sample slice. The caller may
// mutate samples in place while it owns the buffer.
func (b *Buffer) Samples() []float32 {
	return b.samples[:b.length]
}

// Len returns the number of valid samples.
func (b *Buffer) Len() int {
	return b.length
}

// Cap returns the allocated sample capacity.
func (b *Buffer) Cap() int {
	return cap(b.samples)
}

// SetLength shrinks or grows the valid region within the allocated capacity.
// The pool never reallocates, so requests beyond capacity fail.
func (b *Buffer) SetLength(n int) error {
	if n < 0 || n > cap(b.samples) {
		return fmt.Errorf("buffer length %d outside capacity %d", n, cap(b.samples))
	}
	b.length = n
	return nil
}

// CopyFrom replaces the buffer contents with src, adjusting the length.
func (b *Buffer) CopyFrom(src []float32) error {
	if err := b.SetLength(len(src)); err != nil {
		return err
	}
	copy(b.samples, src)
	return nil
}

// CapturedAt returns the device timestamp attached to this buffer.
func (b *Buffer) CapturedAt() time.Time {
	return b.capturedAt
}

// SetCapturedAt attaches the device timestamp for latency accounting.
func (b *Buffer) SetCapturedAt(t time.Time) {
	b.capturedAt = t
}

// Release returns the buffer to its owning pool. Shorthand for pool.Release.
func (b *Buffer) Release() error {
	if b.pool == nil {
		return ErrForeignBuffer
	}
	return b.pool.Release(b)
}
