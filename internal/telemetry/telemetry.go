// Package telemetry provides privacy-compliant error tracking. Reporting
// is strictly opt-in: nothing initializes and nothing leaves the device
// unless the operator enables it, and every outgoing event passes a
// scrubbing filter that strips identifying data first.
package telemetry

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/cpuspec"
	"github.com/auralis/auralis-go/internal/errors"
	"github.com/auralis/auralis-go/internal/logging"
)

// builtinDSN is the project DSN used when the configuration leaves the
// DSN empty.
const builtinDSN = "https://7a3c1f92d48be55c0f8ae154df65be5a@o4508123065525248.ingest.de.sentry.io/4508123112186960"

const flushTimeout = 3 * time.Second

var (
	initMu      sync.Mutex
	initialized bool
)

// Init initializes Sentry when telemetry is enabled and registers the
// reporter and scrubber hooks with the errors package. A disabled
// configuration leaves everything inert.
func Init(settings *conf.SentrySettings, version string) error {
	return initWithTransport(settings, version, nil)
}

// initWithTransport lets tests inject a capturing transport.
func initWithTransport(settings *conf.SentrySettings, version string, transport sentry.Transport) error {
	logger := serviceLogger()

	if settings == nil || !settings.Enabled {
		logger.Info("error telemetry is disabled, enable it in the config to help improve the project")
		return nil
	}

	initMu.Lock()
	defer initMu.Unlock()
	if initialized {
		return nil
	}

	dsn := settings.DSN
	if dsn == "" {
		dsn = builtinDSN
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:        dsn,
		SampleRate: 1.0,

		// Privacy-compliant settings
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",

		Release: fmt.Sprintf("auralis-go@%s", version),

		BeforeSend: scrubEvent,
		Transport:  transport,
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	configureScope()

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	errors.SetPrivacyScrubber(ScrubMessage)

	initialized = true
	logger.Info("error telemetry initialized", "release", version)
	return nil
}

// configureScope tags every event with privacy-safe platform facts. No
// hostname, no serial numbers, nothing that identifies a device.
func configureScope() {
	spec := cpuspec.GetCPUSpec()

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("go_version", runtime.Version())
		scope.SetTag("num_cpu", fmt.Sprintf("%d", runtime.NumCPU()))
		if spec.PerformanceCores > 0 {
			scope.SetTag("performance_cores", fmt.Sprintf("%d", spec.PerformanceCores))
		}
	})
}

// scrubEvent is the BeforeSend hook. It strips user data, server names
// and sensitive contexts, and scrubs free-text fields.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Message = ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = ScrubMessage(event.Exception[i].Value)
	}
	return event
}

// CaptureMessage sends a standalone message when telemetry is enabled.
func CaptureMessage(message string, level sentry.Level, component string) {
	if !Enabled() {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		scope.SetTag("component", component)
		sentry.CaptureMessage(ScrubMessage(message))
	})
}

// Enabled reports whether telemetry was initialized.
func Enabled() bool {
	initMu.Lock()
	defer initMu.Unlock()
	return initialized
}

// Flush drains pending events, bounded by a short timeout. Called during
// shutdown so the last errors of a dying process still get out.
func Flush() {
	if !Enabled() {
		return
	}
	sentry.Flush(flushTimeout)
}

func serviceLogger() *slog.Logger {
	logger := logging.ForService("telemetry")
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", "telemetry")
}
