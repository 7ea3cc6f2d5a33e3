package alerts

import (
	"fmt"

	"github.com/auralis/auralis-go/internal/events"
)

// The notifier doubles as an event bus consumer, so breaker transitions
// and resource warnings reach the operator through the same rate-limited
// channel as quality alerts.

// Name identifies the notifier when registered on the event bus.
func (n *Notifier) Name() string { return "alerts" }

// ProcessError pushes one error event. The rate limiter has the final
// say, so a burst of errors costs at most one push per interval.
func (n *Notifier) ProcessError(event events.ErrorEvent) error {
	title := fmt.Sprintf("Pipeline error: %s", event.GetCategory())
	return n.Notify(title, event.GetMessage())
}

// ProcessSignal pushes pipeline state changes. Informational signals stay
// in the logs.
func (n *Notifier) ProcessSignal(signal events.Signal) error {
	if signal.Severity == events.SeverityInfo {
		return nil
	}
	title := fmt.Sprintf("Pipeline signal: %s", signal.Kind)
	return n.Notify(title, signal.Message)
}
