// Package quality tracks signal quality across the processing pipeline and
// raises alerts when configured thresholds are breached. Threshold breaches
// are advisory: they never fail processing, and alert delivery never blocks
// the audio path.
package quality

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/logging"
	"github.com/auralis/auralis-go/internal/observability/metrics"
)

// thdSmoothing matches the chain-level accumulator: 90% history, 10% newest.
const thdSmoothing = 0.9

// alertChannelSize bounds undelivered alerts before they are dropped.
const alertChannelSize = 16

// AlertKind identifies which threshold a quality alert refers to.
type AlertKind string

const (
	AlertTHD     AlertKind = "thd"
	AlertSNR     AlertKind = "snr"
	AlertLatency AlertKind = "latency"
)

// Alert describes one threshold breach. Alerts are edge-triggered: one per
// excursion, re-armed when the metric returns inside its threshold.
type Alert struct {
	Kind      AlertKind
	Message   string
	Value     float64
	Threshold float64
	Timestamp time.Time
}

// Sample carries the per-buffer measurements the pipeline reports after
// each processed buffer.
type Sample struct {
	THD              float64
	SNR              float64
	LatencyMs        float64
	EnhancementDelta float64
}

// Stats is a point-in-time snapshot of the monitor's aggregates.
type Stats struct {
	THD                 float64
	AvgSNR              float64
	AvgLatencyMs        float64
	AvgEnhancementDelta float64
	Samples             uint64
	DroppedAlerts       uint64
}

// Monitor aggregates quality samples from all workers. THD is smoothed with
// the same weighting the chains use; SNR, latency and enhancement delta are
// means over a fixed rolling window.
type Monitor struct {
	settings conf.QualitySettings

	mu       sync.Mutex
	thd      float64
	snr      *window
	latency  *window
	delta    *window
	samples  uint64
	breached map[AlertKind]bool

	alerts  chan Alert
	dropped atomic.Uint64

	metrics *metrics.QualityMetrics
	logger  *slog.Logger
}

// NewMonitor creates a monitor with the given thresholds. A WindowSize of
// zero falls back to 100 samples.
func NewMonitor(settings conf.QualitySettings) *Monitor {
	logger := logging.ForService("quality")
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "quality_monitor")

	size := settings.WindowSize
	if size <= 0 {
		size = 100
	}

	return &Monitor{
		settings: settings,
		snr:      newWindow(size),
		latency:  newWindow(size),
		delta:    newWindow(size),
		breached: make(map[AlertKind]bool),
		alerts:   make(chan Alert, alertChannelSize),
		logger:   logger,
	}
}

// SetMetrics attaches Prometheus metrics to the monitor. Must be called
// before the monitor sees traffic.
func (m *Monitor) SetMetrics(qm *metrics.QualityMetrics) {
	m.metrics = qm
}

// Observe folds one sample into the aggregates and raises alerts for any
// newly breached threshold. It never blocks.
func (m *Monitor) Observe(s Sample) {
	m.mu.Lock()

	m.thd = thdSmoothing*m.thd + (1-thdSmoothing)*s.THD
	m.snr.push(s.SNR)
	m.latency.push(s.LatencyMs)
	m.delta.push(s.EnhancementDelta)
	m.samples++

	thd := m.thd
	avgSNR := m.snr.mean()
	avgLatency := m.latency.mean()
	avgDelta := m.delta.mean()

	var pending []Alert
	now := time.Now()

	if m.settings.THDThreshold > 0 {
		if alert, ok := m.check(AlertTHD, thd > m.settings.THDThreshold, thd, m.settings.THDThreshold,
			"THD %.3g above threshold %.3g", now); ok {
			pending = append(pending, alert)
		}
	}
	if m.settings.SNRFloorDB > 0 {
		if alert, ok := m.check(AlertSNR, avgSNR < m.settings.SNRFloorDB, avgSNR, m.settings.SNRFloorDB,
			"SNR %.1f dB below floor %.1f dB", now); ok {
			pending = append(pending, alert)
		}
	}
	if m.settings.LatencyBudgetMs > 0 {
		if alert, ok := m.check(AlertLatency, avgLatency > m.settings.LatencyBudgetMs, avgLatency, m.settings.LatencyBudgetMs,
			"processing latency %.2f ms over budget %.2f ms", now); ok {
			pending = append(pending, alert)
		}
	}

	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordSample(thd, avgSNR, avgLatency, avgDelta)
	}

	for _, alert := range pending {
		m.deliver(alert)
	}
}

// check updates the breach edge state for one threshold and returns an alert
// on the ok-to-breached transition. Caller holds the mutex.
func (m *Monitor) check(kind AlertKind, breached bool, value, threshold float64, format string, now time.Time) (Alert, bool) {
	was := m.breached[kind]
	m.breached[kind] = breached

	if !breached || was {
		return Alert{}, false
	}
	return Alert{
		Kind:      kind,
		Message:   fmt.Sprintf(format, value, threshold),
		Value:     value,
		Threshold: threshold,
		Timestamp: now,
	}, true
}

// deliver hands the alert to the channel, dropping it if no consumer keeps up.
func (m *Monitor) deliver(alert Alert) {
	select {
	case m.alerts <- alert:
		if m.metrics != nil {
			m.metrics.RecordAlert(string(alert.Kind))
		}
		m.logger.Warn("quality threshold breached",
			"kind", string(alert.Kind),
			"value", alert.Value,
			"threshold", alert.Threshold)
	default:
		m.dropped.Add(1)
		if m.metrics != nil {
			m.metrics.RecordDroppedAlert()
		}
		m.logger.Debug("alert channel full, dropping alert",
			"kind", string(alert.Kind))
	}
}

// Alerts returns the channel breach notifications are delivered on.
func (m *Monitor) Alerts() <-chan Alert {
	return m.alerts
}

// Snapshot returns the current aggregates.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		THD:                 m.thd,
		AvgSNR:              m.snr.mean(),
		AvgLatencyMs:        m.latency.mean(),
		AvgEnhancementDelta: m.delta.mean(),
		Samples:             m.samples,
		DroppedAlerts:       m.dropped.Load(),
	}
}

// window is a fixed-size rolling mean over the most recent values.
type window struct {
	values []float64
	next   int
	filled int
	sum    float64
}

func newWindow(size int) *window {
	return &window{values: make([]float64, size)}
}

func (w *window) push(v float64) {
	if w.filled == len(w.values) {
		w.sum -= w.values[w.next]
	} else {
		w.filled++
	}
	w.values[w.next] = v
	w.sum += v
	w.next = (w.next + 1) % len(w.values)
}

func (w *window) mean() float64 {
	if w.filled == 0 {
		return 0
	}
	return w.sum / float64(w.filled)
}
