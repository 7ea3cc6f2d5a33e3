// Package sink delivers quality samples to external collaborators. Delivery
// is fire and forget: a bounded dispatch queue drops samples under pressure
// so the audio path never waits on a broker or an HTTP endpoint.
package sink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/logging"
)

const (
	dispatchQueueSize = 256
	publishTimeout    = 5 * time.Second
)

// QualitySample is the wire form of one processed-buffer measurement.
type QualitySample struct {
	THD              float64   `json:"thd"`
	SNR              float64   `json:"snr_db"`
	LatencyMs        float64   `json:"latency_ms"`
	EnhancementDelta float64   `json:"enhancement_delta"`
	Tier             string    `json:"tier"`
	SampleRate       int       `json:"sample_rate"`
	Timestamp        time.Time `json:"timestamp"`
}

// Sink delivers one sample to an external consumer.
type Sink interface {
	Name() string
	Publish(ctx context.Context, sample QualitySample) error
	Close() error
}

// connector is implemented by sinks that hold a long-lived connection.
type connector interface {
	Connect(ctx context.Context) error
}

// DispatcherStats counts dispatch outcomes.
type DispatcherStats struct {
	Published uint64
	Failed    uint64
	Dropped   uint64
}

// Dispatcher fans samples out to the configured sinks from a single worker
// goroutine. Offer never blocks; when the queue is full the sample is
// dropped and counted.
type Dispatcher struct {
	sinks  []Sink
	queue  chan QualitySample
	logger *slog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given sinks. An empty sink
// list is valid and makes Offer a counted no-op.
func NewDispatcher(sinks ...Sink) *Dispatcher {
	logger := logging.ForService("sink")
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sinks:  sinks,
		queue:  make(chan QualitySample, dispatchQueueSize),
		logger: logger.With("component", "sink_dispatcher"),
	}
}

// FromSettings builds the sinks enabled in the configuration.
func FromSettings(settings *conf.SinkSettings, clientID string) ([]Sink, error) {
	if settings == nil {
		return nil, nil
	}
	var sinks []Sink
	if settings.MQTT.Enabled {
		s, err := NewMQTT(&settings.MQTT, clientID)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if settings.HTTP.Enabled {
		s, err := NewHTTP(&settings.HTTP)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// Offer queues a sample for delivery without blocking.
func (d *Dispatcher) Offer(sample QualitySample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	select {
	case d.queue <- sample:
	default:
		d.dropped.Add(1)
	}
}

// Start connects the sinks and launches the dispatch worker.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true

	workerCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go d.run(workerCtx)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for _, s := range d.sinks {
		c, ok := s.(connector)
		if !ok {
			continue
		}
		if err := c.Connect(ctx); err != nil {
			// The sink keeps retrying on its own; samples fail until then.
			d.logger.Warn("sink connect failed", "sink", s.Name(), "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case sample := <-d.queue:
			d.publish(ctx, sample)
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, sample QualitySample) {
	for _, s := range d.sinks {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := s.Publish(pubCtx, sample)
		cancel()
		if err != nil {
			d.failed.Add(1)
			d.logger.Warn("sample publish failed", "sink", s.Name(), "error", err)
			continue
		}
		d.published.Add(1)
	}
}

// Stop halts dispatch and closes the sinks. Samples still queued are
// dropped; the sinks are best-effort consumers.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.wg.Wait()
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			d.logger.Warn("sink close failed", "sink", s.Name(), "error", err)
		}
	}
}

// Stats returns dispatch counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Published: d.published.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}
