// Package scheduler supervises the enhancement stage across buffers: it
// adapts the batch size hint to observed inference latency, guards the
// stage behind a failure-ratio circuit breaker with background recovery
// probes, and reacts to memory pressure by asking the model to optimize.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/auralis/auralis-go/internal/audio"
	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/enhance"
	"github.com/auralis/auralis-go/internal/errors"
	"github.com/auralis/auralis-go/internal/logging"
	"github.com/auralis/auralis-go/internal/observability/metrics"
)

// Enhancer is the supervised inference collaborator.
type Enhancer interface {
	Process(ctx context.Context, buf *audio.Buffer) enhance.Outcome
}

// Optimizer is implemented by collaborators that can release accumulated
// native memory on demand.
type Optimizer interface {
	Optimize() error
}

// Stats is a snapshot of the scheduler's supervision state.
type Stats struct {
	BatchHint     int
	BreakerState  BreakerState
	Failures      uint64
	Total         uint64
	MemoryUsageMB uint64
}

// Scheduler wraps an enhancement stage with adaptive supervision. A single
// scheduler serves all queue workers; its state is the shared batch hint
// and breaker.
type Scheduler struct {
	settings conf.SchedulerSettings
	stage    Enhancer
	pool     *audio.Pool
	breaker  *RatioBreaker
	logger   *slog.Logger
	metrics  *metrics.SchedulerMetrics

	mu        sync.Mutex
	batchHint int

	optimizer   Optimizer
	memoryUsage func() (uint64, error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler supervising the given stage. The batch
// hint starts at the configured minimum and hunts upward as latency allows.
func NewScheduler(settings *conf.SchedulerSettings, stage Enhancer, pool *audio.Pool) *Scheduler {
	logger := logging.ForService("scheduler")
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		settings:    *settings,
		stage:       stage,
		pool:        pool,
		breaker:     NewRatioBreaker(settings.BreakerRatio, logger),
		logger:      logger.With("component", "scheduler"),
		batchHint:   settings.MinBatch,
		memoryUsage: processMemory,
	}
}

// SetOptimizer wires the collaborator that handles memory pressure cleanup.
func (s *Scheduler) SetOptimizer(optimizer Optimizer) {
	s.mu.Lock()
	s.optimizer = optimizer
	s.mu.Unlock()
}

// SetMetrics wires Prometheus collectors in. Must be set before the
// scheduler sees traffic.
func (s *Scheduler) SetMetrics(m *metrics.SchedulerMetrics) {
	s.metrics = m
	if m != nil {
		m.SetBatchHint(s.BatchHint())
	}
}

// Enhance runs one supervised enhancement call. While the breaker is open
// the stage is not invoked and the caller falls back to the DSP-only signal
// it already holds.
func (s *Scheduler) Enhance(ctx context.Context, buf *audio.Buffer) enhance.Outcome {
	if !s.breaker.Allow() {
		if s.metrics != nil {
			s.metrics.RecordInference(metrics.StatusRejected, 0)
		}
		return enhance.Outcome{Degraded: true, Err: ErrBreakerOpen}
	}

	outcome := s.stage.Process(ctx, buf)

	// Client cancellation says nothing about collaborator health
	if outcome.Degraded && errors.Is(outcome.Err, context.Canceled) {
		return outcome
	}

	s.breaker.Record(!outcome.Degraded)
	if s.metrics != nil {
		status := metrics.StatusSuccess
		if outcome.Degraded {
			status = metrics.StatusError
		}
		s.metrics.RecordInference(status, outcome.Latency.Seconds())
	}

	if outcome.Enhanced {
		s.observeLatency(outcome.Latency)
	}
	return outcome
}

// observeLatency adjusts the batch hint: halve over the target, double
// under the floor, clamp to the configured bounds.
func (s *Scheduler) observeLatency(latency time.Duration) {
	ms := float64(latency) / float64(time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case ms > s.settings.LatencyTargetMs:
		s.batchHint = max(s.settings.MinBatch, s.batchHint/2)
	case ms < s.settings.LatencyFloorMs:
		s.batchHint = min(s.settings.MaxBatch, s.batchHint*2)
	}
	if s.metrics != nil {
		s.metrics.SetBatchHint(s.batchHint)
	}
}

// BatchHint returns the current batch size recommendation.
func (s *Scheduler) BatchHint() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchHint
}

// Breaker exposes the circuit breaker for status reporting.
func (s *Scheduler) Breaker() *RatioBreaker {
	return s.breaker
}

// Stats returns a snapshot of the scheduler state.
func (s *Scheduler) Stats() Stats {
	breaker := s.breaker.Stats()

	var usageMB uint64
	if usage, err := s.memoryUsage(); err == nil {
		usageMB = usage / 1024 / 1024
	}

	s.mu.Lock()
	hint := s.batchHint
	s.mu.Unlock()

	return Stats{
		BatchHint:     hint,
		BreakerState:  breaker.State,
		Failures:      breaker.Failures,
		Total:         breaker.Total,
		MemoryUsageMB: usageMB,
	}
}

// Start launches the background supervision loop: recovery probes while the
// breaker is open and periodic memory checks. The loop runs until ctx is
// canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		probeTicker := time.NewTicker(s.settings.ProbeInterval)
		defer probeTicker.Stop()
		memTicker := time.NewTicker(s.settings.MemoryCheckInterval)
		defer memTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-probeTicker.C:
				if s.breaker.IsOpen() {
					s.probe(ctx)
				}
			case <-memTicker.C:
				s.checkMemory()
			}
		}
	}()
}

// Stop cancels the supervision loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// probe runs one recovery call against the stage with a silent buffer. The
// probe bypasses the breaker; success closes the circuit and zeroes both
// counters, failure leaves it open for the next interval.
func (s *Scheduler) probe(ctx context.Context) {
	buf, err := s.pool.Acquire()
	if err != nil {
		s.logger.Debug("recovery probe skipped, pool exhausted")
		return
	}
	defer func() {
		if releaseErr := buf.Release(); releaseErr != nil {
			s.logger.Error("probe buffer release failed", "error", releaseErr)
		}
	}()

	clear(buf.Samples())

	outcome := s.stage.Process(ctx, buf)
	if outcome.Err != nil {
		s.logger.Debug("recovery probe failed, circuit stays open", "error", outcome.Err)
		return
	}

	s.breaker.Reset()
	s.logger.Info("circuit closed after successful recovery probe")
}

// checkMemory compares process memory against the configured limit and
// triggers a model optimize when exceeded, regardless of circuit state.
func (s *Scheduler) checkMemory() {
	usage, err := s.memoryUsage()
	if err != nil {
		s.logger.Debug("memory usage unavailable", "error", err)
		return
	}

	usageMB := usage / 1024 / 1024
	if usageMB <= s.settings.MemoryLimitMB {
		return
	}

	s.mu.Lock()
	optimizer := s.optimizer
	s.mu.Unlock()

	if optimizer == nil {
		return
	}

	s.logger.Warn("memory limit exceeded, optimizing inference model",
		"usage_mb", usageMB,
		"limit_mb", s.settings.MemoryLimitMB)

	if s.metrics != nil {
		s.metrics.RecordMemoryOptimization()
	}
	if err := optimizer.Optimize(); err != nil {
		s.logger.Error("model optimize failed", "error", err)
	}
}

// processMemory reports the resident set size of this process.
func processMemory() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // G115: PIDs fit in int32 on supported platforms
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
