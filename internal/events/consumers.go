package events

import (
	"context"
	"log/slog"
)

// LogConsumer writes bus events to the structured log. It is the baseline
// consumer: errors and signals reach the log even when no notifier or
// telemetry sink is configured.
type LogConsumer struct {
	logger *slog.Logger
}

// NewLogConsumer creates a log consumer, defaulting to slog.Default.
func NewLogConsumer(logger *slog.Logger) *LogConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogConsumer{logger: logger}
}

// Name identifies the consumer.
func (c *LogConsumer) Name() string { return "log" }

// ProcessError logs one error event.
func (c *LogConsumer) ProcessError(event ErrorEvent) error {
	c.logger.Error("pipeline error",
		"component", event.GetComponent(),
		"category", event.GetCategory(),
		"error", event.GetError())
	return nil
}

// ProcessSignal logs one pipeline signal at a level matching its severity.
func (c *LogConsumer) ProcessSignal(signal Signal) error {
	level := slog.LevelInfo
	switch signal.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	c.logger.Log(context.Background(), level, signal.Message,
		"kind", string(signal.Kind),
		"severity", signal.Severity,
		"component", signal.Component,
		"value", signal.Value,
		"threshold", signal.Threshold)
	return nil
}
