// Package alerts pushes quality threshold breaches and pipeline state
// changes to operator notification services. Delivery is rate limited and
// best effort: a slow or failing notification target never backpressures
// the quality monitor.
package alerts

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/errors"
	"github.com/auralis/auralis-go/internal/logging"
	"github.com/auralis/auralis-go/internal/quality"
)

const (
	sendTimeout        = 10 * time.Second
	defaultMinInterval = time.Minute
)

// sender is the slice of the shoutrrr router the notifier uses.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// Stats is a point-in-time snapshot of notifier counters.
type Stats struct {
	Sent    uint64
	Limited uint64
	Failed  uint64
}

// Notifier delivers alert pushes through a single shoutrrr router covering
// all configured URLs. A disabled notifier is inert.
type Notifier struct {
	enabled bool
	sender  sender
	limiter *rate.Limiter
	logger  *slog.Logger

	sent    atomic.Uint64
	limited atomic.Uint64
	failed  atomic.Uint64

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewNotifier builds a notifier from the alert settings. The notification
// URLs are parsed eagerly so a typo fails at startup, not at the first
// breach.
func NewNotifier(settings *conf.AlertSettings) (*Notifier, error) {
	logger := logging.ForService("alerts")
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "alerts")

	if settings == nil || !settings.Enabled {
		return &Notifier{logger: logger}, nil
	}

	if len(settings.URLs) == 0 {
		return nil, errors.Newf("alerts enabled with no notification URLs").
			Component("alerts").
			Category(errors.CategoryConfiguration).
			Build()
	}

	router, err := shoutrrr.CreateSender(settings.URLs...)
	if err != nil {
		return nil, errors.New(err).
			Component("alerts").
			Category(errors.CategoryConfiguration).
			Context("urls", len(settings.URLs)).
			Build()
	}
	router.Timeout = sendTimeout
	router.SetLogger(log.New(io.Discard, "", 0))

	minInterval := settings.MinInterval
	if minInterval <= 0 {
		minInterval = defaultMinInterval
	}

	return &Notifier{
		enabled: true,
		sender:  router,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		logger:  logger,
	}, nil
}

// Enabled reports whether pushes are configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.enabled
}

// Start launches a worker that turns quality alerts from the monitor into
// pushes. The channel is consumed until the context is cancelled or Stop
// is called.
func (n *Notifier) Start(ctx context.Context, alerts <-chan quality.Alert) {
	if !n.Enabled() {
		return
	}

	n.runMu.Lock()
	defer n.runMu.Unlock()
	if n.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.running = true

	n.wg.Add(1)
	go n.run(runCtx, alerts)

	n.logger.Info("alert notifier started", "min_interval", n.limiter.Limit())
}

// Stop halts the alert worker.
func (n *Notifier) Stop() {
	if !n.Enabled() {
		return
	}

	n.runMu.Lock()
	if !n.running {
		n.runMu.Unlock()
		return
	}
	n.running = false
	cancel := n.cancel
	n.runMu.Unlock()

	cancel()
	n.wg.Wait()
}

func (n *Notifier) run(ctx context.Context, alerts <-chan quality.Alert) {
	defer n.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-alerts:
			title := fmt.Sprintf("Audio quality alert: %s", alert.Kind)
			msg := fmt.Sprintf("%s (value %.6g, threshold %.6g)", alert.Message, alert.Value, alert.Threshold)
			if err := n.Notify(title, msg); err != nil {
				n.logger.Warn("quality alert push failed",
					"kind", string(alert.Kind),
					"error", err)
			}
		}
	}
}

// Notify pushes one message through the router. Messages beyond the
// configured rate are counted and discarded, not queued: for an operator a
// fresh alert after the interval beats a backlog of stale ones.
func (n *Notifier) Notify(title, message string) error {
	if !n.Enabled() {
		return nil
	}

	if !n.limiter.Allow() {
		n.limited.Add(1)
		return nil
	}

	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}

	for _, err := range n.sender.Send(message, &params) {
		if err != nil {
			n.failed.Add(1)
			return errors.New(err).
				Component("alerts").
				Category(errors.CategoryNetwork).
				Build()
		}
	}

	n.sent.Add(1)
	return nil
}

// Stats returns a snapshot of the notifier counters.
func (n *Notifier) Stats() Stats {
	if n == nil {
		return Stats{}
	}
	return Stats{
		Sent:    n.sent.Load(),
		Limited: n.limited.Load(),
		Failed:  n.failed.Load(),
	}
}
