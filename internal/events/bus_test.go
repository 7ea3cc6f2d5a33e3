package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/auralis/auralis-go/internal/errors"
)

// TestMain provides goleak verification to detect goroutine leaks
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConsumer struct {
	name string

	mu      sync.Mutex
	errs    []ErrorEvent
	signals []Signal

	returnErr error
	panics    bool
}

func (f *fakeConsumer) Name() string { return f.name }

func (f *fakeConsumer) ProcessError(event ErrorEvent) error {
	if f.panics {
		panic("consumer exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, event)
	return f.returnErr
}

func (f *fakeConsumer) ProcessSignal(signal Signal) error {
	if f.panics {
		panic("consumer exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, signal)
	return f.returnErr
}

func (f *fakeConsumer) ErrCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

func (f *fakeConsumer) SignalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

type blockingConsumer struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingConsumer) Name() string { return "blocking" }

func (b *blockingConsumer) ProcessError(ErrorEvent) error {
	b.entered <- struct{}{}
	<-b.release
	return nil
}

func (b *blockingConsumer) ProcessSignal(Signal) error { return nil }

func testEvent(message string) ErrorEvent {
	return errors.Newf("%s", message).
		Component("jobqueue").
		Category(errors.CategoryJobQueue).
		Build()
}

func noDedupConfig() *Config {
	return &Config{
		BufferSize: 64,
		Workers:    2,
		Dedup:      DedupConfig{Enabled: false},
	}
}

func TestBusDeliversErrorEvents(t *testing.T) {
	bus := NewBus(noDedupConfig())
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	assert.False(t, bus.TryPublish(testEvent("too early")), "no consumers yet, nothing to deliver to")

	consumer := &fakeConsumer{name: "sink"}
	require.NoError(t, bus.RegisterConsumer(consumer))

	require.True(t, bus.TryPublish(testEvent("model backend unreachable")))
	require.Eventually(t, func() bool {
		return consumer.ErrCount() == 1
	}, time.Second, 5*time.Millisecond)

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	assert.Equal(t, "jobqueue", consumer.errs[0].GetComponent())
	assert.Contains(t, consumer.errs[0].GetMessage(), "unreachable")
}

func TestBusDeliversSignals(t *testing.T) {
	bus := NewBus(noDedupConfig())
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	consumer := &fakeConsumer{name: "sink"}
	require.NoError(t, bus.RegisterConsumer(consumer))

	require.True(t, bus.PublishSignal(Signal{
		Kind:      SignalBreakerOpened,
		Severity:  SeverityCritical,
		Component: "scheduler",
		Message:   "inference circuit breaker opened",
	}))

	require.Eventually(t, func() bool {
		return consumer.SignalCount() == 1
	}, time.Second, 5*time.Millisecond)

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	assert.Equal(t, SignalBreakerOpened, consumer.signals[0].Kind)
	assert.False(t, consumer.signals[0].Timestamp.IsZero(), "the bus stamps unset timestamps")
}

func TestBusSuppressesDuplicateSignals(t *testing.T) {
	bus := NewBus(&Config{
		BufferSize: 64,
		Workers:    1,
		Dedup:      DedupConfig{Enabled: true, TTL: time.Hour, MaxEntries: 16},
	})
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	consumer := &fakeConsumer{name: "sink"}
	require.NoError(t, bus.RegisterConsumer(consumer))

	signal := Signal{
		Kind:      SignalResourceWarning,
		Severity:  SeverityWarning,
		Component: "scheduler",
		Message:   "memory usage above limit",
	}
	for range 5 {
		require.True(t, bus.PublishSignal(signal))
	}

	require.Eventually(t, func() bool {
		return bus.Stats().Suppressed == 4
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, consumer.SignalCount(), "repeats inside the window reach no consumer")
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(&Config{
		BufferSize: 1,
		Workers:    1,
		Dedup:      DedupConfig{Enabled: false},
	})

	blocker := &blockingConsumer{
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	require.NoError(t, bus.RegisterConsumer(blocker))

	require.True(t, bus.TryPublish(testEvent("first")))
	<-blocker.entered

	require.True(t, bus.TryPublish(testEvent("second")), "one slot of buffer remains")
	assert.False(t, bus.TryPublish(testEvent("third")), "a full bus drops instead of blocking")
	assert.Equal(t, uint64(1), bus.Stats().Dropped)

	close(blocker.release)
	require.NoError(t, bus.Shutdown(time.Second))
}

func TestBusSurvivesPanickingConsumer(t *testing.T) {
	bus := NewBus(noDedupConfig())
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	require.NoError(t, bus.RegisterConsumer(&fakeConsumer{name: "broken", panics: true}))
	healthy := &fakeConsumer{name: "healthy"}
	require.NoError(t, bus.RegisterConsumer(healthy))

	require.True(t, bus.TryPublish(testEvent("boom fodder")))

	require.Eventually(t, func() bool {
		return healthy.ErrCount() == 1
	}, time.Second, 5*time.Millisecond, "a panicking consumer must not starve the others")
	assert.GreaterOrEqual(t, bus.Stats().Errors, uint64(1))
}

func TestBusRejectsDuplicateConsumerName(t *testing.T) {
	bus := NewBus(noDedupConfig())
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	require.NoError(t, bus.RegisterConsumer(&fakeConsumer{name: "sink"}))
	err := bus.RegisterConsumer(&fakeConsumer{name: "sink"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestBusShutdownStopsAcceptingEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus(noDedupConfig())
	consumer := &fakeConsumer{name: "sink"}
	require.NoError(t, bus.RegisterConsumer(consumer))

	require.True(t, bus.TryPublish(testEvent("before shutdown")))
	require.Eventually(t, func() bool {
		return consumer.ErrCount() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Shutdown(time.Second))
	assert.False(t, bus.TryPublish(testEvent("after shutdown")))
}

func TestErrorPublisherAdapter(t *testing.T) {
	bus := NewBus(noDedupConfig())
	defer func() { require.NoError(t, bus.Shutdown(time.Second)) }()

	consumer := &fakeConsumer{name: "sink"}
	require.NoError(t, bus.RegisterConsumer(consumer))

	adapter := NewErrorPublisherAdapter(bus)
	assert.False(t, adapter.TryPublish(42), "non-events are rejected without panicking")
	assert.True(t, adapter.TryPublish(testEvent("adapted")))

	var nilAdapter *ErrorPublisherAdapter
	assert.False(t, nilAdapter.TryPublish(testEvent("nowhere to go")))
}

func TestLogConsumerHandlesBothKinds(t *testing.T) {
	t.Parallel()

	c := NewLogConsumer(nil)
	assert.Equal(t, "log", c.Name())
	require.NoError(t, c.ProcessError(testEvent("logged error")))
	require.NoError(t, c.ProcessSignal(Signal{
		Kind:     SignalBreakerClosed,
		Severity: SeverityRecovery,
		Message:  "inference circuit breaker closed",
	}))
}
