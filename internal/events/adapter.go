package events

// ErrorPublisherAdapter bridges the bus to the errors package, which
// publishes through an any-typed interface to avoid a dependency cycle.
type ErrorPublisherAdapter struct {
	bus *Bus
}

// NewErrorPublisherAdapter creates an adapter for errors.SetEventPublisher.
func NewErrorPublisherAdapter(bus *Bus) *ErrorPublisherAdapter {
	return &ErrorPublisherAdapter{bus: bus}
}

// TryPublish accepts any value and forwards error events to the bus.
func (a *ErrorPublisherAdapter) TryPublish(event any) bool {
	if a == nil || a.bus == nil {
		return false
	}

	errorEvent, ok := event.(ErrorEvent)
	if !ok {
		return false
	}
	return a.bus.TryPublish(errorEvent)
}
