package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auralis/auralis-go/internal/audio"
	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/dsp"
	"github.com/auralis/auralis-go/internal/enhance"
	"github.com/auralis/auralis-go/internal/errors"
	"github.com/auralis/auralis-go/internal/logging"
	"github.com/auralis/auralis-go/internal/observability/metrics"
	"github.com/auralis/auralis-go/internal/quality"
	"github.com/auralis/auralis-go/internal/scheduler"
)

const (
	defaultWorkers = 2
	defaultMaxSize = 64
	defaultTimeout = 30 * time.Second
)

// Enhancer runs the AI stage for one buffer. *scheduler.Scheduler satisfies it.
type Enhancer interface {
	Enhance(ctx context.Context, buf *audio.Buffer) enhance.Outcome
}

// Observer consumes one quality sample per completed job. *quality.Monitor
// satisfies it.
type Observer interface {
	Observe(s quality.Sample)
}

// envelope delivery states
const (
	envelopeWaiting int32 = iota
	envelopeDelivered
	envelopeAbandoned
)

// envelope pairs a job with its submitter. The state word settles the race
// between result delivery and a submitter that stopped waiting: whoever
// loses the claim owns the buffer cleanup.
type envelope struct {
	job      Job
	resultCh chan Result
	state    atomic.Int32

	// worker-local fields, never touched by the submitter
	attempts int
	dspDone  bool
	outcome  enhance.Outcome
}

// Queue runs jobs through the processing pipeline with bounded concurrency
// and bounded pending capacity. A full queue rejects instead of blocking so
// backpressure surfaces at the submitter.
type Queue struct {
	settings conf.QueueSettings
	pool     *audio.Pool
	chains   []*dsp.Chain
	enhancer Enhancer
	observer Observer
	pending  chan *envelope
	logger   *slog.Logger
	metrics  *metrics.QueueMetrics

	submitted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	retried   atomic.Uint64
	rejected  atomic.Uint64
	degraded  atomic.Uint64

	mu      sync.Mutex
	running bool
	done    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a queue with one DSP chain per worker. Chains hold per-worker
// state (compressor envelope, THD accumulator) so workers never contend.
func New(settings *conf.QueueSettings, dspSettings *conf.DSPSettings, cfg audio.Config, pool *audio.Pool) (*Queue, error) {
	if pool == nil {
		return nil, errors.ValidationError("job queue requires a buffer pool")
	}
	if dspSettings == nil {
		return nil, errors.ValidationError("job queue requires DSP settings")
	}

	var s conf.QueueSettings
	if settings != nil {
		s = *settings
	}
	if s.Workers <= 0 {
		s.Workers = defaultWorkers
	}
	if s.MaxSize <= 0 {
		s.MaxSize = defaultMaxSize
	}
	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}
	normalizeRetry(&s.Retry)

	logger := logging.ForService("jobqueue")
	if logger == nil {
		logger = slog.Default()
	}

	chains := make([]*dsp.Chain, s.Workers)
	for i := range chains {
		chain, err := dsp.NewChain(dspSettings, cfg)
		if err != nil {
			return nil, err
		}
		chains[i] = chain
	}

	return &Queue{
		settings: s,
		pool:     pool,
		chains:   chains,
		pending:  make(chan *envelope, s.MaxSize),
		logger:   logger.With("component", "jobqueue"),
	}, nil
}

func normalizeRetry(r *conf.RetrySettings) {
	if r.MaxRetries < 0 {
		r.MaxRetries = 0
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = 2 * time.Millisecond
	}
	if r.Multiplier < 1 {
		r.Multiplier = 2.0
	}
	if r.MaxDelay < r.InitialDelay {
		r.MaxDelay = 50 * r.InitialDelay
	}
}

// SetEnhancer wires the AI stage in. Call before Start; a nil enhancer
// leaves the queue running DSP only.
func (q *Queue) SetEnhancer(e Enhancer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enhancer = e
}

// SetObserver wires the quality monitor in. Call before Start.
func (q *Queue) SetObserver(o Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observer = o
}

// SetMetrics wires Prometheus collectors in. Call before Start.
func (q *Queue) SetMetrics(m *metrics.QueueMetrics) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.metrics = m
}

// Start launches the worker goroutines. Safe to call once per Stop.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.done = make(chan struct{})

	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for _, chain := range q.chains {
		q.wg.Add(1)
		go q.worker(workerCtx, chain)
	}
	q.logger.Info("job queue started",
		"workers", len(q.chains),
		"max_pending", cap(q.pending))
}

// Stop cancels the workers, waits for in-flight jobs and fails everything
// still pending. Buffers of unprocessed jobs go back to the pool.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.done)
	q.cancel()
	q.mu.Unlock()

	q.wg.Wait()
	q.drainPending()
	q.logger.Info("job queue stopped")
}

// drainPending fails jobs that never reached a worker.
func (q *Queue) drainPending() {
	for {
		select {
		case env := <-q.pending:
			q.failed.Add(1)
			q.deliver(env, Result{Err: ErrQueueStopped})
		default:
			return
		}
	}
}

// Submit validates the job, enqueues it and waits for the result. A full
// queue rejects immediately with ErrQueueFull so the caller can apply its
// own backpressure. Validation failures are rejected before the job is
// accepted and leave the buffer with the caller.
func (q *Queue) Submit(ctx context.Context, job Job) (Result, error) {
	if err := validateJob(&job); err != nil {
		return Result{}, err
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	env := &envelope{job: job, resultCh: make(chan Result, 1)}

	// The running check and the enqueue share the lock so Stop's drain
	// cannot miss an accepted job.
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return Result{}, ErrQueueStopped
	}
	done := q.done
	select {
	case q.pending <- env:
		q.submitted.Add(1)
		depth := len(q.pending)
		q.mu.Unlock()
		if q.metrics != nil {
			q.metrics.RecordSubmit(metrics.StatusAccepted)
			q.metrics.SetDepth(depth)
		}
	default:
		q.mu.Unlock()
		q.rejected.Add(1)
		if q.metrics != nil {
			q.metrics.RecordSubmit(metrics.StatusRejected)
		}
		return Result{}, fmt.Errorf("%w: %d jobs pending", ErrQueueFull, cap(q.pending))
	}

	select {
	case res := <-env.resultCh:
		return res, res.Err
	case <-ctx.Done():
		if env.state.CompareAndSwap(envelopeWaiting, envelopeAbandoned) {
			return Result{}, errors.New(ctx.Err()).
				Component("jobqueue").
				Category(errors.CategoryCancellation).
				Build()
		}
		// Delivery won the race, the result is already buffered.
		res := <-env.resultCh
		return res, res.Err
	case <-done:
		if env.state.CompareAndSwap(envelopeWaiting, envelopeAbandoned) {
			return Result{}, ErrQueueStopped
		}
		res := <-env.resultCh
		return res, res.Err
	}
}

func validateJob(job *Job) error {
	switch {
	case job.Buffer == nil:
		return errors.ValidationError("job buffer is nil")
	case job.Buffer.Len() == 0:
		return errors.ValidationError("job buffer is empty")
	case job.Config.SampleRate <= 0:
		return errors.ValidationError("job config has no sample rate")
	default:
		return nil
	}
}

func (q *Queue) worker(ctx context.Context, chain *dsp.Chain) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-q.pending:
			if q.metrics != nil {
				q.metrics.SetDepth(len(q.pending))
			}
			if env.state.Load() != envelopeWaiting {
				// The submitter gave up while the job was queued.
				q.releaseBuffer(env)
				continue
			}
			q.execute(ctx, env, chain)
		}
	}
}

func (q *Queue) execute(ctx context.Context, env *envelope, chain *dsp.Chain) {
	jobCtx, cancel := context.WithTimeout(ctx, q.settings.Timeout)
	defer cancel()

	start := time.Now()
	res := q.runAttempts(jobCtx, env, chain, start)
	res.Attempts = env.attempts
	res.Metrics = RunMetrics{
		ProcessingTime:    time.Since(start),
		BufferUtilization: q.pool.Utilization(),
		QueueLength:       len(q.pending),
	}
	q.deliver(env, res)
}

// runAttempts drives one job to a terminal outcome: success, fail-fast or
// retry exhaustion.
func (q *Queue) runAttempts(ctx context.Context, env *envelope, chain *dsp.Chain, start time.Time) Result {
	maxAttempts := q.settings.Retry.MaxRetries + 1
	for {
		env.attempts++
		retryable, err := q.runOnce(ctx, env, chain)
		if err == nil {
			return q.complete(env, chain, start)
		}
		if !retryable || env.attempts >= maxAttempts {
			q.failed.Add(1)
			if q.metrics != nil {
				q.metrics.RecordJob(metrics.StatusFailed, time.Since(start).Seconds())
			}
			q.logger.Error("job permanently failed",
				"attempts", env.attempts,
				"priority", env.job.Priority.String(),
				"error", err)
			return Result{Err: err}
		}

		delay := backoffDelay(q.settings.Retry, env.attempts)
		q.retried.Add(1)
		if q.metrics != nil {
			q.metrics.RecordRetry()
		}
		q.logger.Warn("job attempt failed, retrying",
			"attempt", env.attempts,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			q.failed.Add(1)
			if q.metrics != nil {
				q.metrics.RecordJob(metrics.StatusFailed, time.Since(start).Seconds())
			}
			return Result{Err: errors.New(ctx.Err()).
				Component("jobqueue").
				Category(errors.CategoryCancellation).
				Context("attempt", env.attempts).
				Build()}
		}
	}
}

// runOnce executes one attempt. The DSP pass runs at most once per job: the
// transform is in place, so retries resume at the enhancement step against
// the DSP output the stage left untouched.
func (q *Queue) runOnce(ctx context.Context, env *envelope, chain *dsp.Chain) (retryable bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			// An in-place transform cannot be safely re-run after a panic.
			retryable = false
			err = errors.Newf("processing panic: %v", r).
				Component("jobqueue").
				Category(errors.CategoryJobQueue).
				Context("attempt", env.attempts).
				Build()
		}
	}()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, errors.New(ctxErr).
			Component("jobqueue").
			Category(errors.CategoryCancellation).
			Build()
	}

	if !env.dspDone {
		if err := chain.Process(env.job.Buffer); err != nil {
			// Chain errors are pre-flight checks: the buffer was not
			// modified and nothing will change on a retry.
			return false, err
		}
		env.dspDone = true
	}

	if q.enhancer == nil {
		return false, nil
	}

	outcome := q.enhancer.Enhance(ctx, env.job.Buffer)
	env.outcome = outcome
	switch {
	case outcome.Err == nil:
		return false, nil
	case errors.Is(outcome.Err, scheduler.ErrBreakerOpen):
		// Fail-fast from the breaker is the designed degradation path:
		// ship the DSP-only buffer instead of hammering a failing model.
		q.degraded.Add(1)
		return false, nil
	case errors.Is(outcome.Err, context.Canceled), errors.Is(outcome.Err, context.DeadlineExceeded):
		return false, outcome.Err
	case !errors.IsRetryable(outcome.Err):
		// Deterministic enhancement failure. Retrying cannot help and
		// the DSP-only buffer is still good audio.
		q.degraded.Add(1)
		q.logger.Warn("enhancement skipped for job", "error", outcome.Err)
		return false, nil
	default:
		return true, outcome.Err
	}
}

func (q *Queue) complete(env *envelope, chain *dsp.Chain, start time.Time) Result {
	buf := env.job.Buffer
	qm := audio.QualityMetrics{
		THD:              chain.THDEstimate(),
		SNR:              chain.SNREstimate(buf.Samples()),
		LatencyMs:        float64(time.Since(start).Microseconds()) / 1000.0,
		EnhancementDelta: env.outcome.Delta,
	}
	if q.observer != nil {
		q.observer.Observe(quality.Sample{
			THD:              qm.THD,
			SNR:              qm.SNR,
			LatencyMs:        qm.LatencyMs,
			EnhancementDelta: qm.EnhancementDelta,
		})
	}
	q.succeeded.Add(1)
	if q.metrics != nil {
		status := metrics.StatusSuccess
		if env.outcome.Err != nil {
			status = metrics.StatusDegraded
		}
		q.metrics.RecordJob(status, time.Since(start).Seconds())
	}
	return Result{Buffer: buf, Quality: qm, Enhanced: env.outcome.Enhanced}
}

// deliver hands the result to the submitter if it is still waiting. The
// queue keeps buffer ownership on every path except a successful result
// claimed by a live submitter.
func (q *Queue) deliver(env *envelope, res Result) {
	if env.state.CompareAndSwap(envelopeWaiting, envelopeDelivered) {
		if res.Err != nil {
			q.releaseBuffer(env)
			res.Buffer = nil
		}
		env.resultCh <- res
		return
	}
	// The submitter is gone; nobody is left to take ownership.
	q.releaseBuffer(env)
}

func (q *Queue) releaseBuffer(env *envelope) {
	if env.job.Buffer == nil {
		return
	}
	if err := q.pool.Release(env.job.Buffer); err != nil {
		q.logger.Error("failed to release job buffer", "error", err)
	}
	env.job.Buffer = nil
}

// backoffDelay grows the wait geometrically with the attempt count, capped
// at MaxDelay. With the default multiplier of 2 the delays strictly double.
func backoffDelay(cfg conf.RetrySettings, attempts int) time.Duration {
	backoff := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempts))
	if backoff > float64(cfg.MaxDelay) {
		backoff = float64(cfg.MaxDelay)
	}
	return time.Duration(backoff)
}

// Workers returns the configured worker count.
func (q *Queue) Workers() int {
	return len(q.chains)
}

// Stats returns a point-in-time snapshot of queue activity.
func (q *Queue) Stats() Stats {
	pending := len(q.pending)
	maxPending := cap(q.pending)
	var utilization float64
	if maxPending > 0 {
		utilization = float64(pending) / float64(maxPending)
	}
	return Stats{
		Submitted:   q.submitted.Load(),
		Succeeded:   q.succeeded.Load(),
		Failed:      q.failed.Load(),
		Retried:     q.retried.Load(),
		Rejected:    q.rejected.Load(),
		Degraded:    q.degraded.Load(),
		Pending:     pending,
		MaxPending:  maxPending,
		Utilization: utilization,
	}
}
