package telemetry

import (
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/getsentry/sentry-go"
	"golang.org/x/time/rate"

	"github.com/auralis/auralis-go/internal/errors"
	"github.com/auralis/auralis-go/internal/events"
)

// Sentry sees at most this many events per minute. Signals below
// critical become breadcrumbs, which are not rate limited.
const (
	maxEventsPerMinute = 100
	eventBurst         = 10
)

// ConsumerStats contains counters for the telemetry consumer.
type ConsumerStats struct {
	Reported uint64
	Limited  uint64
}

// SentryConsumer forwards bus events to Sentry. Registering it on the
// event bus moves reporting off the error construction path: the errors
// package publishes to the bus and a bus worker calls back in here.
type SentryConsumer struct {
	limiter *rate.Limiter
	logger  *slog.Logger

	reported atomic.Uint64
	limited  atomic.Uint64
}

// NewSentryConsumer returns a bus consumer that reports errors and
// critical signals to Sentry. It is safe to register even when telemetry
// is disabled; every event is then a no-op.
func NewSentryConsumer() *SentryConsumer {
	return &SentryConsumer{
		limiter: rate.NewLimiter(rate.Every(time.Minute/maxEventsPerMinute), eventBurst),
		logger:  serviceLogger(),
	}
}

// Name identifies the consumer on the bus.
func (c *SentryConsumer) Name() string { return "telemetry" }

// ProcessError reports one error event to Sentry.
func (c *SentryConsumer) ProcessError(event events.ErrorEvent) error {
	if !Enabled() {
		return nil
	}
	if !c.limiter.Allow() {
		c.limited.Add(1)
		return nil
	}

	if enhanced, ok := event.(*errors.EnhancedError); ok {
		if reporter := errors.GetTelemetryReporter(); reporter != nil {
			reporter.ReportError(enhanced)
			c.reported.Add(1)
			return nil
		}
	}

	// Events from outside the errors package lose the structured
	// context but still reach Sentry as plain messages.
	CaptureMessage(event.GetMessage(), sentry.LevelError, event.GetComponent())
	c.reported.Add(1)
	return nil
}

// ProcessSignal records a pipeline signal. Every signal becomes a
// breadcrumb on future events; critical ones are reported directly.
func (c *SentryConsumer) ProcessSignal(signal events.Signal) error {
	if !Enabled() {
		return nil
	}

	sentry.AddBreadcrumb(&sentry.Breadcrumb{
		Category:  signal.Component,
		Message:   ScrubMessage(signal.Message),
		Level:     signalLevel(signal.Severity),
		Timestamp: signal.Timestamp,
		Data: map[string]any{
			"kind":      string(signal.Kind),
			"value":     signal.Value,
			"threshold": signal.Threshold,
		},
	})

	if signal.Severity != events.SeverityCritical {
		return nil
	}
	if !c.limiter.Allow() {
		c.limited.Add(1)
		return nil
	}
	CaptureMessage(signal.Message, sentry.LevelError, signal.Component)
	c.reported.Add(1)
	return nil
}

// Stats returns a snapshot of the consumer counters.
func (c *SentryConsumer) Stats() ConsumerStats {
	return ConsumerStats{
		Reported: c.reported.Load(),
		Limited:  c.limited.Load(),
	}
}

func signalLevel(severity string) sentry.Level {
	switch severity {
	case events.SeverityCritical:
		return sentry.LevelError
	case events.SeverityWarning:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}
