package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/auralis/auralis-go/internal/errors"
)

// BreakerState represents the state of the inference circuit breaker.
type BreakerState int

const (
	// BreakerClosed means inference calls flow normally.
	BreakerClosed BreakerState = iota
	// BreakerOpen means inference calls are rejected until a recovery
	// probe succeeds.
	BreakerOpen
)

// String returns the string representation of BreakerState.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when the circuit breaker rejects a call.
var ErrBreakerOpen = errors.Newf("inference circuit breaker is open").
	Component("scheduler").
	Category(errors.CategoryCircuitBreaker).
	Build()

// RatioBreaker opens when the failure ratio of recorded calls exceeds its
// threshold. There is no half-open state and no time-based recovery: once
// open, calls are rejected outright and only a successful background probe
// (via Reset) closes the circuit again. Because rejected calls are never
// recorded, the counters freeze while open and the circuit cannot drift
// closed on its own.
type RatioBreaker struct {
	threshold float64

	mu       sync.Mutex
	failures uint64
	total    uint64
	open     bool
	hook     func(BreakerState, BreakerStats)

	lastStateChange time.Time
	logger          *slog.Logger
}

// BreakerStats is a snapshot of the breaker counters.
type BreakerStats struct {
	State           BreakerState
	Failures        uint64
	Total           uint64
	LastStateChange time.Time
}

// NewRatioBreaker creates a closed breaker with the given failure ratio
// threshold in (0, 1).
func NewRatioBreaker(threshold float64, logger *slog.Logger) *RatioBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RatioBreaker{
		threshold:       threshold,
		lastStateChange: time.Now(),
		logger:          logger.With("component", "circuit_breaker"),
	}
}

// Allow reports whether a call may proceed.
func (b *RatioBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.open
}

// SetTransitionHook registers fn to run after each state transition, with
// the new state and a counter snapshot. The hook runs outside the breaker
// mutex and must be set before the breaker sees traffic.
func (b *RatioBreaker) SetTransitionHook(fn func(BreakerState, BreakerStats)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = fn
}

// Record counts one executed call and re-evaluates the ratio. Only calls
// that actually invoked the collaborator are recorded.
func (b *RatioBreaker) Record(success bool) {
	b.mu.Lock()

	b.total++
	if !success {
		b.failures++
	}

	changed := false
	if !b.open && float64(b.failures)/float64(b.total) > b.threshold {
		changed = b.setState(BreakerOpen)
	}
	notify := b.transitionNotice(changed, BreakerOpen)
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// Reset zeroes both counters and closes the circuit. Called after a
// successful recovery probe.
func (b *RatioBreaker) Reset() {
	b.mu.Lock()

	b.failures = 0
	b.total = 0
	changed := b.setState(BreakerClosed)
	notify := b.transitionNotice(changed, BreakerClosed)
	b.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// setState transitions the breaker and reports whether the state actually
// changed. Caller holds the mutex.
func (b *RatioBreaker) setState(state BreakerState) bool {
	if (state == BreakerOpen) == b.open {
		return false
	}

	b.open = state == BreakerOpen
	b.lastStateChange = time.Now()

	b.logger.Info("circuit breaker state transition",
		"state", state.String(),
		"failures", b.failures,
		"total", b.total)
	return true
}

// transitionNotice captures the hook invocation for a completed
// transition so it can run after the mutex is released. Caller holds the
// mutex; returns nil when nothing to notify.
func (b *RatioBreaker) transitionNotice(changed bool, state BreakerState) func() {
	if !changed || b.hook == nil {
		return nil
	}

	hook := b.hook
	stats := BreakerStats{
		State:           state,
		Failures:        b.failures,
		Total:           b.total,
		LastStateChange: b.lastStateChange,
	}
	return func() { hook(state, stats) }
}

// State returns the current breaker state.
func (b *RatioBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return BreakerOpen
	}
	return BreakerClosed
}

// IsOpen reports whether calls are currently rejected.
func (b *RatioBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Stats returns a snapshot of the breaker counters.
func (b *RatioBreaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := BreakerClosed
	if b.open {
		state = BreakerOpen
	}
	return BreakerStats{
		State:           state,
		Failures:        b.failures,
		Total:           b.total,
		LastStateChange: b.lastStateChange,
	}
}
