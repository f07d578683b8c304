// Package mirror pushes bus state to an MQTT broker so dashboards and
// home automation can consume Max's view of the world as retained
// topics.
package mirror

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/Pl4yer-ONE/jarvis-commander/internal/config"
	"github.com/Pl4yer-ONE/jarvis-commander/internal/statebus"
)

// MQTT mirrors bus snapshots to a broker. Each bus topic becomes one
// retained MQTT topic under the configured prefix.
type MQTT struct {
	cfg    config.MQTTConfig
	bus    *statebus.Bus
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// NewMQTT creates a mirror but does not connect; Run does.
func NewMQTT(cfg config.MQTTConfig, bus *statebus.Bus, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{cfg: cfg, bus: bus, logger: logger}
}

// Run connects and publishes snapshots until ctx is canceled. It is a
// worker loop body; connection errors are retried by autopaho, not by
// the supervisor.
func (m *MQTT) Run(ctx context.Context) error {
	brokerURL, err := url.Parse(m.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: m.cfg.Username,
		ConnectPassword: []byte(m.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   m.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			m.logger.Info("mqtt connected to broker", "broker", m.cfg.Broker)
			m.publish(ctx, cm, m.availabilityTopic(), []byte("online"))
		},
		OnConnectError: func(err error) {
			m.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "maxd-mirror",
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	m.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		m.logger.Warn("mqtt initial connection timed out, retrying in background", "error", err)
	}

	interval := time.Duration(m.cfg.IntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.disconnect()
			return nil
		case <-ticker.C:
			m.publishSnapshot(ctx, cm)
		}
	}
}

func (m *MQTT) publishSnapshot(ctx context.Context, cm *autopaho.ConnectionManager) {
	for topic, payload := range m.bus.GetAll() {
		data, err := json.Marshal(payload)
		if err != nil {
			m.logger.Debug("skip unmarshalable payload", "topic", topic, "error", err)
			continue
		}
		m.publish(ctx, cm, m.stateTopic(topic), data)
	}
}

func (m *MQTT) publish(ctx context.Context, cm *autopaho.ConnectionManager, topic string, payload []byte) {
	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := cm.Publish(pubCtx, &paho.Publish{
		Topic:   topic,
		QoS:     0,
		Retain:  true,
		Payload: payload,
	})
	if err != nil {
		m.logger.Debug("mqtt publish failed", "topic", topic, "error", err)
	}
}

func (m *MQTT) disconnect() {
	if m.cm == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.publish(ctx, m.cm, m.availabilityTopic(), []byte("offline"))
	m.cm.Disconnect(ctx)
}

func (m *MQTT) prefix() string {
	if m.cfg.TopicPrefix != "" {
		return m.cfg.TopicPrefix
	}
	return "maxd"
}

func (m *MQTT) availabilityTopic() string {
	return m.prefix() + "/availability"
}

func (m *MQTT) stateTopic(busTopic string) string {
	return m.prefix() + "/state/" + busTopic
}
