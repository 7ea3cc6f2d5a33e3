// Package enhance runs the neural enhancement stage of the pipeline. The
// stage is strictly best-effort: whatever fails, the caller gets its buffer
// back with valid audio in it. A missed enhancement is a quality loss, a
// dropped buffer is an audible glitch, so failure always degrades to the
// unenhanced signal.
package enhance

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auralis/auralis-go/internal/audio"
	"github.com/auralis/auralis-go/internal/dsp"
	"github.com/auralis/auralis-go/internal/errors"
	"github.com/auralis/auralis-go/internal/logging"
)

// Health limits. The stage reports unhealthy when the smoothed inference
// latency leaves the playback budget or failures exceed one percent.
const (
	healthyLatencyMs = 10.0
	healthyErrorRate = 0.01
	latencySmoothing = 0.9
)

// Enhancer transforms a block of samples into an enhanced rendition of the
// same length. Implementations must tolerate concurrent calls or serialize
// internally.
type Enhancer interface {
	// Enhance reads in and writes the enhanced signal to out. Both slices
	// have the same length. in must not be modified.
	Enhance(ctx context.Context, in, out []float32) error
	// Close releases model resources.
	Close() error
}

// Outcome reports what the stage did with one buffer.
type Outcome struct {
	// Enhanced is true when the buffer now carries the enhanced signal.
	Enhanced bool
	// Degraded is true when enhancement failed and the buffer carries the
	// original signal untouched.
	Degraded bool
	// Delta is the normalized RMS change the enhancement produced.
	Delta float64
	// Latency is the inference duration for this buffer.
	Latency time.Duration
	// Err is the failure cause when Degraded is set.
	Err error
}

// HealthStats is a snapshot of the stage's health tracking.
type HealthStats struct {
	Invocations  uint64
	Failures     uint64
	AvgLatencyMs float64
	ErrorRate    float64
	Healthy      bool
}

// Stage runs an Enhancer with scratch buffers from the shared pool and
// tracks inference health. Multiple workers may call Process concurrently.
type Stage struct {
	enhancer Enhancer
	pool     *audio.Pool
	logger   *slog.Logger

	invocations atomic.Uint64
	failures    atomic.Uint64

	mu         sync.Mutex
	avgLatency float64 // milliseconds, smoothed
}

// NewStage wires an enhancer to the scratch pool.
func NewStage(enhancer Enhancer, pool *audio.Pool) *Stage {
	return &Stage{
		enhancer: enhancer,
		pool:     pool,
		logger:   serviceLogger().With("component", "enhance_stage"),
	}
}

// serviceLogger returns the enhance service logger, falling back to the
// default logger before logging is initialized.
func serviceLogger() *slog.Logger {
	if logger := logging.ForService("enhance"); logger != nil {
		return logger
	}
	return slog.Default()
}

// Process enhances the buffer in place. On any failure the buffer is
// returned unmodified and the outcome explains the degradation; the audio
// itself is never lost.
func (s *Stage) Process(ctx context.Context, buf *audio.Buffer) Outcome {
	s.invocations.Add(1)

	if err := ctx.Err(); err != nil {
		return s.degrade(errors.New(err).
			Component("enhance").
			Category(errors.CategoryCancellation).
			Build())
	}

	scratch, err := s.pool.Acquire()
	if err != nil {
		return s.degrade(errors.ResourceError(err, s.pool.InUse(), s.pool.Capacity()))
	}
	defer func() {
		if releaseErr := scratch.Release(); releaseErr != nil {
			s.logger.Error("scratch release failed", "error", releaseErr)
		}
	}()

	if err := scratch.SetLength(buf.Len()); err != nil {
		return s.degrade(errors.New(err).
			Component("enhance").
			Category(errors.CategoryEnhancement).
			BufferContext(buf.Len(), scratch.Cap()).
			Build())
	}

	in := buf.Samples()
	out := scratch.Samples()
	rmsIn := dsp.RMS(in)

	start := time.Now()
	err = s.enhancer.Enhance(ctx, in, out)
	latency := time.Since(start)

	if err != nil {
		return s.degrade(errors.New(err).
			Component("enhance").
			Category(errors.CategoryEnhancement).
			Timing("inference", latency).
			Build())
	}

	s.recordLatency(latency)

	copy(in, out)

	var delta float64
	if rmsIn > 0 {
		delta = (dsp.RMS(in) - rmsIn) / rmsIn
	}

	return Outcome{
		Enhanced: true,
		Delta:    delta,
		Latency:  latency,
	}
}

// degrade counts a failure and builds the fallback outcome.
func (s *Stage) degrade(err error) Outcome {
	s.failures.Add(1)
	s.logger.Warn("enhancement degraded to passthrough", "error", err)
	return Outcome{Degraded: true, Err: err}
}

func (s *Stage) recordLatency(latency time.Duration) {
	ms := float64(latency) / float64(time.Millisecond)

	s.mu.Lock()
	if s.avgLatency == 0 {
		s.avgLatency = ms
	} else {
		s.avgLatency = latencySmoothing*s.avgLatency + (1-latencySmoothing)*ms
	}
	s.mu.Unlock()
}

// Health reports the stage's current health snapshot. A stage that has not
// run yet is healthy.
func (s *Stage) Health() HealthStats {
	invocations := s.invocations.Load()
	failures := s.failures.Load()

	s.mu.Lock()
	avgLatency := s.avgLatency
	s.mu.Unlock()

	var errorRate float64
	if invocations > 0 {
		errorRate = float64(failures) / float64(invocations)
	}

	return HealthStats{
		Invocations:  invocations,
		Failures:     failures,
		AvgLatencyMs: avgLatency,
		ErrorRate:    errorRate,
		Healthy:      avgLatency < healthyLatencyMs && errorRate < healthyErrorRate,
	}
}

// Close shuts down the underlying enhancer.
func (s *Stage) Close() error {
	return s.enhancer.Close()
}
