package pipeline

import (
	"context"
	"time"

	"github.com/auralis/auralis-go/internal/audio"
	"github.com/auralis/auralis-go/internal/capture"
	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/errors"
	"github.com/auralis/auralis-go/internal/events"
	"github.com/auralis/auralis-go/internal/jobqueue"
	"github.com/auralis/auralis-go/internal/observability/metrics"
	"github.com/auralis/auralis-go/internal/quality"
	"github.com/auralis/auralis-go/internal/scheduler"
	"github.com/auralis/auralis-go/internal/sink"
)

// Stats aggregates the snapshots of every subsystem.
type Stats struct {
	Queue     jobqueue.Stats
	Pool      audio.PoolStats
	Scheduler scheduler.Stats
	Quality   quality.Stats
	Sinks     sink.DispatcherStats
	Capture   capture.Stats
	Events    events.Stats
}

// Acquire hands out a buffer from the current pool. The caller fills it and
// passes it back through Process, which consumes it on every path.
func (p *Pipeline) Acquire() (*audio.Buffer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return nil, errors.Newf("pipeline is not running").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}
	return p.pool.Acquire()
}

// SaveClip renders the last d of processed output to a WAV file in the
// configured capture directory and returns the written path. A non-positive
// d exports everything the recorder holds.
func (p *Pipeline) SaveClip(d time.Duration) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return "", errors.Newf("pipeline is not running").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}
	return p.recorder.SaveClip(p.settings.Capture.Path, d)
}

// Config returns the audio format the pipeline is currently built for.
func (p *Pipeline) Config() audio.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Running reports whether Start has succeeded and Stop has not run.
func (p *Pipeline) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Process runs one buffer through the queue and fans the result out to the
// capture ring and the sinks. The buffer is consumed on every path: on
// success it is returned inside the result for the caller to release, on
// failure it has already been released by whoever owned it at that point.
//
// The read lock is held across the submit, so the queue seen here is never
// stopped or swapped mid-flight.
func (p *Pipeline) Process(ctx context.Context, buf *audio.Buffer, priority jobqueue.Priority) (jobqueue.Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		if buf != nil {
			_ = buf.Release()
		}
		return jobqueue.Result{}, errors.Newf("pipeline is not running").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}

	// Reject malformed buffers here, while ownership is unambiguous. Once
	// the queue accepts a job it handles its own cleanup, and the chains
	// are guaranteed a processable length.
	if buf == nil {
		return jobqueue.Result{}, errors.Newf("buffer is required").
			Component("pipeline").
			Category(errors.CategoryValidation).
			Build()
	}
	if n := buf.Len(); n < conf.MinBufferSize || n%p.cfg.Channels != 0 {
		_ = buf.Release()
		return jobqueue.Result{}, errors.Newf("buffer length %d not processable at %d channels", n, p.cfg.Channels).
			Component("pipeline").
			Category(errors.CategoryValidation).
			Build()
	}

	res, err := p.queue.Submit(ctx, jobqueue.Job{
		Buffer:   buf,
		Config:   p.cfg,
		Priority: priority,
	})
	if err != nil {
		// A full queue never accepted the buffer, so it is still ours to
		// return. Every other failure passed through a worker that
		// released it already.
		if errors.Is(err, jobqueue.ErrQueueFull) {
			_ = buf.Release()
		}
		if p.metrics != nil {
			p.metrics.Pipeline.RecordError(categoryOf(err))
		}
		return res, err
	}

	p.recorder.Offer(res.Buffer.Samples())
	p.dispatcher.Offer(sink.QualitySample{
		THD:              res.Quality.THD,
		SNR:              res.Quality.SNR,
		LatencyMs:        res.Quality.LatencyMs,
		EnhancementDelta: res.Quality.EnhancementDelta,
		Tier:             p.cfg.Tier.String(),
		SampleRate:       p.cfg.SampleRate,
	})

	if p.metrics != nil {
		mode := metrics.LabelDSPOnly
		if res.Enhanced {
			mode = metrics.LabelEnhanced
		}
		p.metrics.Pipeline.RecordChunk(mode, res.Metrics.ProcessingTime.Seconds())
	}
	return res, nil
}

// Reconfigure rebuilds the pool, chains, scheduler, recorder and queue for a
// new audio format. The new core is built and started before the old one is
// stopped, so a failed build leaves the pipeline serving the old format.
// Breaker history does not carry over; the new scheduler starts closed.
func (p *Pipeline) Reconfigure(audioSettings conf.AudioSettings) error {
	cfg, err := audio.ConfigFromSettings(&audioSettings)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return errors.Newf("pipeline is not running").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}
	if cfg == p.cfg {
		p.mu.Unlock()
		return nil
	}

	c, err := p.buildCore(cfg)
	if err != nil {
		p.mu.Unlock()
		return err
	}

	old := &core{
		pool:     p.pool,
		queue:    p.queue,
		stage:    p.stage,
		sched:    p.sched,
		recorder: p.recorder,
	}
	p.adopt(cfg, c)
	p.settings.Audio = audioSettings

	c.recorder.Start(p.baseCtx)
	if c.sched != nil {
		c.sched.Start(p.baseCtx)
	}
	c.queue.Start(p.baseCtx)
	p.mu.Unlock()

	// The write lock waited out every in-flight submit, so the old queue
	// drains nothing but its own backlog.
	old.queue.Stop()
	if old.sched != nil {
		old.sched.Stop()
	}
	old.recorder.Stop()

	if p.metrics != nil {
		p.metrics.Pipeline.RecordReconfigure()
	}
	p.logger.Info("pipeline reconfigured",
		"sample_rate", cfg.SampleRate,
		"bit_depth", cfg.BitDepth,
		"channels", cfg.Channels,
		"buffer_size", cfg.BufferSize,
		"tier", cfg.Tier.String())
	return nil
}

// Stats snapshots every subsystem.
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	queue, pool, sched, recorder := p.queue, p.pool, p.sched, p.recorder
	p.mu.RUnlock()

	st := Stats{
		Queue:   queue.Stats(),
		Pool:    pool.Stats(),
		Quality: p.monitor.Snapshot(),
		Sinks:   p.dispatcher.Stats(),
		Capture: recorder.Stats(),
		Events:  p.bus.Stats(),
	}
	if sched != nil {
		st.Scheduler = sched.Stats()
	}
	return st
}

func categoryOf(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.GetCategory()
	}
	return string(errors.CategoryGeneric)
}
