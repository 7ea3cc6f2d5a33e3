package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/errors"
)

// TestMain provides goleak verification to detect goroutine leaks
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingSink captures published samples for assertions.
type recordingSink struct {
	name string
	err  error

	mu      sync.Mutex
	samples []QualitySample
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Publish(_ context.Context, sample QualitySample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.samples = append(r.samples, sample)
	return nil
}

func (r *recordingSink) Close() error { return nil }

func (r *recordingSink) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func testSample() QualitySample {
	return QualitySample{
		THD:        0.000002,
		SNR:        112.5,
		LatencyMs:  4.2,
		Tier:       "maximum",
		SampleRate: 48000,
	}
}

func TestDispatcherFansOutToAllSinks(t *testing.T) {
	first := &recordingSink{name: "first"}
	second := &recordingSink{name: "second"}
	d := NewDispatcher(first, second)
	d.Start(context.Background())
	defer d.Stop()

	for range 3 {
		d.Offer(testSample())
	}

	assert.Eventually(t, func() bool {
		return first.Count() == 3 && second.Count() == 3
	}, time.Second, time.Millisecond)

	stats := d.Stats()
	assert.Equal(t, uint64(6), stats.Published)
	assert.Zero(t, stats.Dropped)
}

func TestDispatcherStampsTimestamp(t *testing.T) {
	s := &recordingSink{name: "ts"}
	d := NewDispatcher(s)
	d.Start(context.Background())
	defer d.Stop()

	d.Offer(testSample())
	require.Eventually(t, func() bool { return s.Count() == 1 }, time.Second, time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.False(t, s.samples[0].Timestamp.IsZero())
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	// Never started, so nothing drains the queue.
	d := NewDispatcher(&recordingSink{name: "idle"})

	for range dispatchQueueSize + 10 {
		d.Offer(testSample())
	}
	assert.Equal(t, uint64(10), d.Stats().Dropped)
}

func TestDispatcherSurvivesFailingSink(t *testing.T) {
	broken := &recordingSink{name: "broken", err: errors.NewStd("broker down")}
	healthy := &recordingSink{name: "healthy"}
	d := NewDispatcher(broken, healthy)
	d.Start(context.Background())
	defer d.Stop()

	d.Offer(testSample())
	d.Offer(testSample())

	assert.Eventually(t, func() bool {
		return healthy.Count() == 2
	}, time.Second, time.Millisecond, "one failing sink must not starve the others")

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(2), stats.Failed)
}

func TestHTTPSinkPublish(t *testing.T) {
	s, err := NewHTTP(&conf.HTTPSinkSettings{
		Endpoint: "https://collector.example.com/v1/quality",
		Timeout:  2 * time.Second,
	})
	require.NoError(t, err)

	httpmock.ActivateNonDefault(s.client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	var received QualitySample
	httpmock.RegisterResponder("POST", "https://collector.example.com/v1/quality",
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			return httpmock.NewStringResponse(http.StatusCreated, ""), nil
		})

	sample := testSample()
	sample.Timestamp = time.Now()
	require.NoError(t, s.Publish(context.Background(), sample))

	assert.InDelta(t, sample.THD, received.THD, 1e-12)
	assert.InDelta(t, sample.SNR, received.SNR, 1e-9)
	assert.Equal(t, "maximum", received.Tier)
	assert.Equal(t, 48000, received.SampleRate)
}

func TestHTTPSinkRejectedSample(t *testing.T) {
	s, err := NewHTTP(&conf.HTTPSinkSettings{Endpoint: "https://collector.example.com/v1/quality"})
	require.NoError(t, err)

	httpmock.ActivateNonDefault(s.client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	httpmock.RegisterResponder("POST", "https://collector.example.com/v1/quality",
		httpmock.NewStringResponder(http.StatusInternalServerError, "collector overloaded"))

	err = s.Publish(context.Background(), testSample())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryHTTP))
}

func TestNewHTTPValidatesEndpoint(t *testing.T) {
	t.Parallel()

	cases := []string{"", "not a url", "/relative/path"}
	for _, endpoint := range cases {
		_, err := NewHTTP(&conf.HTTPSinkSettings{Endpoint: endpoint})
		require.Error(t, err, "endpoint %q", endpoint)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	}
}

func TestNewMQTTValidatesSettings(t *testing.T) {
	t.Parallel()

	_, err := NewMQTT(&conf.MQTTSinkSettings{Topic: "auralis/quality"}, "auralis")
	require.Error(t, err, "missing broker")
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = NewMQTT(&conf.MQTTSinkSettings{Broker: "tcp://localhost:1883"}, "auralis")
	require.Error(t, err, "missing topic")

	s, err := NewMQTT(&conf.MQTTSinkSettings{
		Broker: "tcp://localhost:1883",
		Topic:  "auralis/quality",
	}, "auralis")
	require.NoError(t, err)
	assert.Equal(t, "mqtt", s.Name())
}

func TestMQTTSinkPublishWithoutConnection(t *testing.T) {
	t.Parallel()

	s, err := NewMQTT(&conf.MQTTSinkSettings{
		Broker: "tcp://localhost:1883",
		Topic:  "auralis/quality",
	}, "auralis")
	require.NoError(t, err)

	err = s.Publish(context.Background(), testSample())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
}

func TestFromSettings(t *testing.T) {
	t.Parallel()

	sinks, err := FromSettings(&conf.SinkSettings{}, "auralis")
	require.NoError(t, err)
	assert.Empty(t, sinks, "no sinks when nothing is enabled")

	sinks, err = FromSettings(&conf.SinkSettings{
		MQTT: conf.MQTTSinkSettings{
			Enabled: true,
			Broker:  "tcp://localhost:1883",
			Topic:   "auralis/quality",
		},
		HTTP: conf.HTTPSinkSettings{
			Enabled:  true,
			Endpoint: "https://collector.example.com/v1/quality",
		},
	}, "auralis")
	require.NoError(t, err)
	require.Len(t, sinks, 2)
	assert.Equal(t, "mqtt", sinks[0].Name())
	assert.Equal(t, "http", sinks[1].Name())

	_, err = FromSettings(&conf.SinkSettings{
		HTTP: conf.HTTPSinkSettings{Enabled: true, Endpoint: "bogus"},
	}, "auralis")
	assert.Error(t, err, "misconfigured sink fails construction")
}
