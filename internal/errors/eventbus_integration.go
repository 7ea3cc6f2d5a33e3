// Package errors - event bus integration
package errors

import (
	"sync/atomic"
)

// EventPublisher is an interface for publishing error events
// This interface allows the errors package to publish events without
// importing the events package, avoiding circular dependencies
type EventPublisher interface {
	TryPublish(event any) bool
}

// hasActiveReporting gates the expensive Build path (component detection,
// category heuristics, telemetry). It is true while an event publisher or
// telemetry reporter is registered.
var hasActiveReporting atomic.Bool

// Global event publisher (set by the events package)
var globalEventPublisher atomic.Pointer[EventPublisher]

// SetEventPublisher sets the global event publisher
// This should be called by the events package during initialization
func SetEventPublisher(publisher EventPublisher) {
	if publisher == nil {
		globalEventPublisher.Store(nil)
	} else {
		globalEventPublisher.Store(&publisher)
	}
	updateReportingState()
}

// updateReportingState recomputes the fast-path gate after a hook change
func updateReportingState() {
	active := globalEventPublisher.Load() != nil
	if reporter := globalTelemetryReporter.Load(); reporter != nil && (*reporter).IsEnabled() {
		active = true
	}
	hasActiveReporting.Store(active)
}

// publishToEventBus publishes an error to the event bus if available
func publishToEventBus(ee *EnhancedError) bool {
	publisherPtr := globalEventPublisher.Load()
	if publisherPtr == nil {
		return false
	}

	publisher := *publisherPtr
	if publisher == nil {
		return false
	}

	// The event bus handles type assertion to its ErrorEvent interface
	return publisher.TryPublish(ee)
}

// reportToTelemetry forwards a built error to the registered sinks.
// The event bus takes precedence so reporting stays asynchronous; the
// direct telemetry reporter is the fallback when no bus is wired.
func reportToTelemetry(ee *EnhancedError) {
	if !hasActiveReporting.Load() {
		return
	}

	if publishToEventBus(ee) {
		return
	}

	reportToTelemetryDirect(ee)
}
