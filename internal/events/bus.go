package events

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auralis/auralis-go/internal/errors"
	"github.com/auralis/auralis-go/internal/logging"
)

// Config holds event bus configuration.
type Config struct {
	BufferSize int
	Workers    int
	Dedup      DedupConfig
}

// DefaultConfig returns the default event bus configuration.
func DefaultConfig() *Config {
	return &Config{
		BufferSize: 1024,
		Workers:    2,
		Dedup:      DefaultDedupConfig(),
	}
}

// item is the union the bus channel carries. Exactly one field is set.
type item struct {
	err    ErrorEvent
	signal *Signal
}

// Bus fans events out to registered consumers on a small worker pool.
// Workers start with the first registered consumer and stop on Shutdown.
type Bus struct {
	ch      chan item
	workers int
	dedup   *Deduplicator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	consumers []Consumer
	running   atomic.Bool

	received   atomic.Uint64
	suppressed atomic.Uint64
	processed  atomic.Uint64
	dropped    atomic.Uint64
	errs       atomic.Uint64

	logger *slog.Logger
}

// NewBus creates a bus with the given configuration, or defaults when nil.
func NewBus(config *Config) *Bus {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}

	logger := logging.ForService("events")
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "eventbus")

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		ch:      make(chan item, config.BufferSize),
		workers: config.Workers,
		dedup:   NewDeduplicator(config.Dedup, logger),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// RegisterConsumer adds a consumer under a unique name. The worker pool
// starts with the first registration, so a bus nobody listens to costs
// nothing but its channel.
func (b *Bus) RegisterConsumer(consumer Consumer) error {
	if b == nil {
		return errors.Newf("event bus is not initialized").
			Component("events").
			Category(errors.CategoryState).
			Build()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.consumers {
		if existing.Name() == consumer.Name() {
			return errors.Newf("consumer %q already registered", consumer.Name()).
				Component("events").
				Category(errors.CategoryValidation).
				Build()
		}
	}
	b.consumers = append(b.consumers, consumer)

	b.logger.Info("registered event consumer", "consumer", consumer.Name())

	if len(b.consumers) == 1 {
		b.start()
	}
	return nil
}

// start launches the worker pool. Caller holds b.mu.
func (b *Bus) start() {
	if b.running.Swap(true) {
		return
	}

	b.logger.Info("starting event bus workers", "count", b.workers)
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}
}

// TryPublish attempts to publish an error event without blocking. It
// reports whether the event was accepted.
func (b *Bus) TryPublish(event ErrorEvent) bool {
	if event == nil {
		return false
	}
	return b.publish(item{err: event})
}

// PublishSignal attempts to publish a pipeline signal without blocking. It
// reports whether the signal was accepted.
func (b *Bus) PublishSignal(signal Signal) bool {
	if signal.Timestamp.IsZero() {
		signal.Timestamp = time.Now()
	}
	return b.publish(item{signal: &signal})
}

func (b *Bus) publish(it item) bool {
	if b == nil || !b.running.Load() {
		return false
	}

	b.mu.Lock()
	hasConsumers := len(b.consumers) > 0
	b.mu.Unlock()
	if !hasConsumers {
		return false
	}

	select {
	case b.ch <- it:
		b.received.Add(1)
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()

	logger := b.logger.With("worker_id", id)
	for {
		select {
		case <-b.ctx.Done():
			return
		case it := <-b.ch:
			b.process(it, logger)
		}
	}
}

func (b *Bus) process(it item, logger *slog.Logger) {
	switch {
	case it.err != nil:
		if !b.dedup.ShouldProcess(ErrorKey(it.err)) {
			b.suppressed.Add(1)
			return
		}
		b.dispatch(logger, func(c Consumer) error { return c.ProcessError(it.err) })
	case it.signal != nil:
		if !b.dedup.ShouldProcess(SignalKey(*it.signal)) {
			b.suppressed.Add(1)
			return
		}
		b.dispatch(logger, func(c Consumer) error { return c.ProcessSignal(*it.signal) })
	}
}

// dispatch runs one delivery against every consumer, isolating panics so a
// broken consumer cannot take down the worker.
func (b *Bus) dispatch(logger *slog.Logger, deliver func(Consumer) error) {
	b.mu.Lock()
	consumers := slices.Clone(b.consumers)
	b.mu.Unlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.errs.Add(1)
					logger.Error("event consumer panicked",
						"consumer", consumer.Name(),
						"panic", r)
				}
			}()

			if err := deliver(consumer); err != nil {
				b.errs.Add(1)
				logger.Error("event consumer error",
					"consumer", consumer.Name(),
					"error", err)
			} else {
				b.processed.Add(1)
			}
		}()
	}
}

// Shutdown stops accepting events and waits for the workers up to the
// given timeout.
func (b *Bus) Shutdown(timeout time.Duration) error {
	if b == nil {
		return nil
	}

	b.running.Store(false)
	b.cancel()
	b.dedup.Shutdown()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		b.logger.Warn("event bus shutdown timeout exceeded")
		return errors.Newf("event bus shutdown timeout exceeded").
			Component("events").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// Stats returns current bus counters.
func (b *Bus) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	return Stats{
		Received:   b.received.Load(),
		Suppressed: b.suppressed.Load(),
		Processed:  b.processed.Load(),
		Dropped:    b.dropped.Load(),
		Errors:     b.errs.Load(),
	}
}
