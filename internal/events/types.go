// Package events provides an asynchronous event bus that decouples error
// reporting and pipeline state changes from notification and telemetry
// consumers. Publishing never blocks: the audio path hands an event to the
// bus and moves on, and a full bus drops instead of stalling.
package events

import (
	"time"
)

// ErrorEvent is the view of an error the bus carries. The errors package
// publishes values satisfying this interface without either package
// importing the other.
type ErrorEvent interface {
	// GetComponent returns the component that generated the error
	GetComponent() string

	// GetCategory returns the error category for grouping
	GetCategory() string

	// GetContext returns additional context data for the error
	GetContext() map[string]any

	// GetTimestamp returns when the error occurred
	GetTimestamp() time.Time

	// GetError returns the underlying error
	GetError() error

	// GetMessage returns the error message
	GetMessage() string

	// IsReported returns whether this error has already been reported
	IsReported() bool

	// MarkReported marks the error as reported
	MarkReported()
}

// SignalKind identifies a pipeline state change carried on the bus.
type SignalKind string

const (
	// SignalBreakerOpened fires when the inference circuit breaker opens.
	SignalBreakerOpened SignalKind = "breaker-opened"
	// SignalBreakerClosed fires when a recovery probe closes the breaker.
	SignalBreakerClosed SignalKind = "breaker-closed"
	// SignalQualityAlert fires on a quality threshold breach.
	SignalQualityAlert SignalKind = "quality-alert"
	// SignalResourceWarning fires when memory pressure crosses the
	// configured limit.
	SignalResourceWarning SignalKind = "resource-warning"
)

// Severity levels for signals.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
	SeverityRecovery = "recovery"
)

// Signal is a pipeline state change event.
type Signal struct {
	Kind      SignalKind
	Severity  string
	Component string
	Message   string
	Value     float64
	Threshold float64
	Timestamp time.Time
	Metadata  map[string]any
}

// Consumer processes events delivered by the bus workers. Implementations
// that only care about one event class return nil from the other method.
type Consumer interface {
	// Name identifies the consumer for registration and logs.
	Name() string

	// ProcessError handles one error event.
	ProcessError(event ErrorEvent) error

	// ProcessSignal handles one pipeline signal.
	ProcessSignal(signal Signal) error
}

// Stats contains runtime bus counters.
type Stats struct {
	Received   uint64
	Suppressed uint64
	Processed  uint64
	Dropped    uint64
	Errors     uint64
}
