// Package pipeline assembles the processing engine: buffer pool, DSP chains,
// enhancement stage, adaptive scheduler, job queue, quality monitor, sinks,
// capture and the event bus. Everything is constructed explicitly and owned
// by the Pipeline value, so several independent pipelines can coexist in one
// process and a configuration change is a rebuild, never a mutation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/auralis/auralis-go/internal/alerts"
	"github.com/auralis/auralis-go/internal/audio"
	"github.com/auralis/auralis-go/internal/capture"
	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/enhance"
	"github.com/auralis/auralis-go/internal/errors"
	"github.com/auralis/auralis-go/internal/events"
	"github.com/auralis/auralis-go/internal/jobqueue"
	"github.com/auralis/auralis-go/internal/logging"
	"github.com/auralis/auralis-go/internal/observability"
	"github.com/auralis/auralis-go/internal/quality"
	"github.com/auralis/auralis-go/internal/scheduler"
	"github.com/auralis/auralis-go/internal/sink"
	"github.com/auralis/auralis-go/internal/telemetry"
)

const (
	watchInterval      = 30 * time.Second
	busShutdownTimeout = 5 * time.Second

	defaultMemoryCheckInterval = 30 * time.Second
)

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithMetrics wires Prometheus collectors into every subsystem.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithEnhancer substitutes the enhancement model. Used by tests and offline
// benchmarks; production loads the configured TensorFlow Lite model.
func WithEnhancer(e enhance.Enhancer) Option {
	return func(p *Pipeline) {
		p.injected = e
	}
}

// core groups the components that are rebuilt together on an audio format
// change. Everything else survives a reconfigure.
type core struct {
	pool     *audio.Pool
	queue    *jobqueue.Queue
	stage    *enhance.Stage
	sched    *scheduler.Scheduler
	recorder *capture.Recorder
}

// Pipeline is the composition root of the processing engine and the
// processor behind the streaming gateway.
type Pipeline struct {
	settings *conf.Settings
	logger   *slog.Logger
	metrics  *observability.Metrics
	injected enhance.Enhancer
	enhancer enhance.Enhancer

	bus        *events.Bus
	monitor    *quality.Monitor
	dispatcher *sink.Dispatcher
	notifier   *alerts.Notifier

	// mu guards the rebuildable core and the running flag. Process holds the
	// read lock for the whole submit, so a reconfigure or stop never catches
	// a job between acceptance and delivery.
	mu       sync.RWMutex
	cfg      audio.Config
	pool     *audio.Pool
	queue    *jobqueue.Queue
	stage    *enhance.Stage
	sched    *scheduler.Scheduler
	recorder *capture.Recorder
	running  bool
	stopped  bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates the settings and builds a stopped pipeline. The enhancement
// model is loaded here, so a bad model path fails at construction instead of
// at the first frame.
func New(settings *conf.Settings, opts ...Option) (*Pipeline, error) {
	if settings == nil {
		return nil, errors.Newf("pipeline requires settings").
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := conf.ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.Scheduler.MemoryCheckInterval <= 0 {
		settings.Scheduler.MemoryCheckInterval = defaultMemoryCheckInterval
	}

	cfg, err := audio.ConfigFromSettings(&settings.Audio)
	if err != nil {
		return nil, err
	}

	logger := logging.ForService("pipeline")
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		settings: settings,
		logger:   logger.With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.monitor = quality.NewMonitor(settings.Quality)
	if p.metrics != nil {
		p.monitor.SetMetrics(p.metrics.Quality)
	}

	if settings.Enhancer.Enabled {
		if p.injected != nil {
			p.enhancer = p.injected
		} else {
			model, err := enhance.NewTFLiteEnhancer(&settings.Enhancer)
			if err != nil {
				return nil, err
			}
			p.enhancer = model
		}
	}

	sinks, err := sink.FromSettings(&settings.Sinks, settings.Main.Name)
	if err != nil {
		return nil, err
	}
	p.dispatcher = sink.NewDispatcher(sinks...)

	p.bus = events.NewBus(events.DefaultConfig())

	p.notifier, err = alerts.NewNotifier(&settings.Alerts)
	if err != nil {
		return nil, err
	}

	c, err := p.buildCore(cfg)
	if err != nil {
		return nil, err
	}
	p.adopt(cfg, c)

	return p, nil
}

// buildCore constructs the components tied to one audio format. Nothing is
// started and nothing live is touched, so a failed build leaves the current
// core serving.
func (p *Pipeline) buildCore(cfg audio.Config) (*core, error) {
	pool, err := audio.NewPool(p.settings.Pool.Capacity, cfg.BufferSize)
	if err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Build()
	}

	queue, err := jobqueue.New(&p.settings.Queue, &p.settings.DSP, cfg, pool)
	if err != nil {
		return nil, err
	}
	queue.SetObserver(p.monitor)

	c := &core{pool: pool, queue: queue}

	if p.enhancer != nil {
		c.stage = enhance.NewStage(p.enhancer, pool)
		c.sched = scheduler.NewScheduler(&p.settings.Scheduler, c.stage, pool)
		if opt, ok := p.enhancer.(scheduler.Optimizer); ok {
			c.sched.SetOptimizer(opt)
		}
		c.sched.Breaker().SetTransitionHook(p.onBreakerTransition)
		queue.SetEnhancer(c.sched)
	}

	c.recorder, err = capture.NewRecorder(&p.settings.Capture, cfg)
	if err != nil {
		return nil, err
	}

	if p.metrics != nil {
		pool.SetMetrics(p.metrics.Pool)
		queue.SetMetrics(p.metrics.Queue)
		if c.sched != nil {
			c.sched.SetMetrics(p.metrics.Scheduler)
		}
	}

	return c, nil
}

// adopt installs a core. Caller holds the write lock or owns p exclusively.
func (p *Pipeline) adopt(cfg audio.Config, c *core) {
	p.cfg = cfg
	p.pool = c.pool
	p.queue = c.queue
	p.stage = c.stage
	p.sched = c.sched
	p.recorder = c.recorder
}

// Start registers the event consumers and launches every background worker.
// A stopped pipeline cannot be restarted; build a new one.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if p.stopped {
		return errors.Newf("pipeline cannot be restarted after stop").
			Component("pipeline").
			Category(errors.CategoryState).
			Build()
	}

	if err := p.registerConsumers(); err != nil {
		return err
	}
	errors.SetEventPublisher(events.NewErrorPublisherAdapter(p.bus))

	p.baseCtx, p.cancel = context.WithCancel(ctx)

	p.dispatcher.Start(p.baseCtx)
	p.recorder.Start(p.baseCtx)
	if p.sched != nil {
		p.sched.Start(p.baseCtx)
	}
	p.queue.Start(p.baseCtx)
	p.notifier.Start(p.baseCtx, p.monitor.Alerts())

	p.wg.Add(1)
	go p.watch(p.baseCtx)

	if p.metrics != nil {
		p.metrics.Pipeline.SetRunning(true)
	}
	p.running = true

	p.logger.Info("pipeline started",
		"sample_rate", p.cfg.SampleRate,
		"buffer_size", p.cfg.BufferSize,
		"channels", p.cfg.Channels,
		"tier", p.cfg.Tier.String(),
		"workers", p.queue.Workers(),
		"enhancement", p.enhancer != nil)
	return nil
}

// registerConsumers wires the bus listeners: structured logs always, pushes
// and telemetry when configured.
func (p *Pipeline) registerConsumers() error {
	if err := p.bus.RegisterConsumer(events.NewLogConsumer(p.logger)); err != nil {
		return err
	}
	if p.notifier.Enabled() {
		if err := p.bus.RegisterConsumer(p.notifier); err != nil {
			return err
		}
	}
	if telemetry.Enabled() {
		if err := p.bus.RegisterConsumer(telemetry.NewSentryConsumer()); err != nil {
			return err
		}
	}
	return nil
}

// Stop drains the queue, halts every worker and closes the enhancement
// model. Stop is terminal and idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.stopped = true
	queue, sched, recorder, stage := p.queue, p.sched, p.recorder, p.stage
	cancel := p.cancel
	p.mu.Unlock()

	// In-flight submissions finished before running flipped, so the queue
	// drains only its own backlog here.
	queue.Stop()
	if sched != nil {
		sched.Stop()
	}
	p.notifier.Stop()
	recorder.Stop()
	p.dispatcher.Stop()

	cancel()
	p.wg.Wait()

	errors.SetEventPublisher(nil)
	if err := p.bus.Shutdown(busShutdownTimeout); err != nil {
		p.logger.Warn("event bus shutdown incomplete", "error", err)
	}

	if stage != nil {
		if err := stage.Close(); err != nil {
			p.logger.Warn("enhancement stage close failed", "error", err)
		}
	}

	if p.metrics != nil {
		p.metrics.Pipeline.SetRunning(false)
	}
	p.logger.Info("pipeline stopped")
}

// watch publishes resource warnings while the pipeline runs. The bus dedup
// window keeps a sustained breach from repeating on every tick.
func (p *Pipeline) watch(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkResources()
		}
	}
}

func (p *Pipeline) checkResources() {
	p.mu.RLock()
	sched := p.sched
	p.mu.RUnlock()
	if sched == nil {
		return
	}

	limit := p.settings.Scheduler.MemoryLimitMB
	if limit == 0 {
		return
	}
	st := sched.Stats()
	if st.MemoryUsageMB <= limit {
		return
	}

	p.bus.PublishSignal(events.Signal{
		Kind:      events.SignalResourceWarning,
		Severity:  events.SeverityWarning,
		Component: "pipeline",
		Message:   fmt.Sprintf("process memory %d MB is over the %d MB limit", st.MemoryUsageMB, limit),
		Value:     float64(st.MemoryUsageMB),
		Threshold: float64(limit),
	})
}

// onBreakerTransition is the single observer of circuit state changes: it
// keeps the breaker gauges and publishes the operator-facing signal.
func (p *Pipeline) onBreakerTransition(state scheduler.BreakerState, stats scheduler.BreakerStats) {
	open := state == scheduler.BreakerOpen
	if p.metrics != nil {
		p.metrics.Scheduler.SetBreakerState(open)
		p.metrics.Scheduler.RecordBreakerTransition(state.String())
	}

	var ratio float64
	if stats.Total > 0 {
		ratio = float64(stats.Failures) / float64(stats.Total)
	}

	sig := events.Signal{
		Kind:      events.SignalBreakerClosed,
		Severity:  events.SeverityRecovery,
		Component: "scheduler",
		Message:   "inference circuit closed after recovery probe",
		Value:     ratio,
		Threshold: p.settings.Scheduler.BreakerRatio,
	}
	if open {
		sig.Kind = events.SignalBreakerOpened
		sig.Severity = events.SeverityCritical
		sig.Message = fmt.Sprintf("inference circuit opened: %d of %d calls failed",
			stats.Failures, stats.Total)
	}
	p.bus.PublishSignal(sig)
}
