// mqtt.go: quality sample publishing over MQTT.
package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/auralis/auralis-go/internal/conf"
	"github.com/auralis/auralis-go/internal/errors"
	"github.com/auralis/auralis-go/internal/logging"
)

const (
	mqttConnectTimeout    = 30 * time.Second
	mqttPublishTimeout    = 10 * time.Second
	mqttDisconnectQuiesce = 250 // milliseconds, paho API takes a plain uint
	mqttReconnectCooldown = 5 * time.Second
)

// MQTTSink publishes quality samples as JSON to a single topic at QoS 0.
// Lost samples are acceptable; a stalled broker must never back up into
// the pipeline.
type MQTTSink struct {
	settings conf.MQTTSinkSettings
	clientID string
	logger   *slog.Logger

	mu              sync.Mutex
	client          mqtt.Client
	lastConnAttempt time.Time
}

// NewMQTT validates the broker URL and prepares a sink. The connection is
// established by Connect, typically from the dispatcher.
func NewMQTT(settings *conf.MQTTSinkSettings, clientID string) (*MQTTSink, error) {
	if settings.Broker == "" {
		return nil, errors.Newf("mqtt sink requires a broker URL").
			Component("sink").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if _, err := url.Parse(settings.Broker); err != nil {
		return nil, errors.Newf("invalid mqtt broker URL %q: %v", settings.Broker, err).
			Component("sink").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.Topic == "" {
		return nil, errors.Newf("mqtt sink requires a topic").
			Component("sink").
			Category(errors.CategoryConfiguration).
			Build()
	}

	logger := logging.ForService("sink")
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTSink{
		settings: *settings,
		clientID: clientID,
		logger:   logger.With("component", "mqtt_sink", "broker", settings.Broker),
	}, nil
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Connect establishes the broker connection. Paho handles reconnects after
// the first successful connect; the cooldown stops tight reconnect loops
// when the broker refuses us outright.
func (s *MQTTSink) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if since := time.Since(s.lastConnAttempt); since < mqttReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Component("sink").
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	s.lastConnAttempt = time.Now()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.settings.Broker)
	opts.SetClientID(s.clientID)
	opts.SetUsername(s.settings.Username)
	opts.SetPassword(s.settings.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		s.logger.Info("connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("MQTT broker connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)

	token := s.client.Connect()
	if !waitToken(ctx, token, mqttConnectTimeout) {
		return errors.Newf("mqtt connection timeout").
			Component("sink").
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("sink").
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	return nil
}

// Publish implements Sink.
func (s *MQTTSink) Publish(ctx context.Context, sample QualitySample) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("sink").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	payload, err := json.Marshal(sample)
	if err != nil {
		return errors.New(err).
			Component("sink").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	token := client.Publish(s.settings.Topic, 0, false, payload)
	if !waitToken(ctx, token, mqttPublishTimeout) {
		return errors.Newf("mqtt publish timeout").
			Component("sink").
			Category(errors.CategoryMQTTPublish).
			Context("topic", s.settings.Topic).
			Build()
	}
	return token.Error()
}

// Close implements Sink.
func (s *MQTTSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(mqttDisconnectQuiesce)
	}
	s.client = nil
	return nil
}

// waitToken waits for a paho token, bounded by both the timeout and the
// caller's context.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case <-token.Done():
		return true
	case <-deadline.C:
		return false
	case <-ctx.Done():
		return false
	}
}
