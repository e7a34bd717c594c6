// Package bridge republishes enriched messages to message brokers.
// Both bridges are fire-and-forget so a slow broker never stalls ingestion.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrNotConnected is returned by Send while the broker connection is down; the frame is dropped
var ErrNotConnected = errors.New("mqtt not connected, frame dropped")

type MQTTConfig struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Topic    string // messages go to <topic>/<address key>
	QoS      byte
	Username string
	Password string
}

// MQTTSink publishes each frame without waiting for the broker's acknowledgement
type MQTTSink struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTTSink starts connecting in the background; paho retries the connection
// and reconnects on loss, and publishes while disconnected are dropped.
func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt broker and topic are required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(30 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.OnConnect = func(mqtt.Client) {
		slog.Info("Connected to MQTT broker", "broker", cfg.Broker, "topic", cfg.Topic)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", "broker", cfg.Broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	// with ConnectRetry the token only completes once connected; don't wait on it
	client.Connect()

	return &MQTTSink{client: client, topic: cfg.Topic, qos: cfg.QoS}, nil
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Send hands frame to paho without waiting. While the broker is unreachable it
// returns ErrNotConnected; a publish that already failed is reported from its token.
func (s *MQTTSink) Send(key string, frame []byte) error {
	if !s.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := s.client.Publish(Topic(s.topic, key), s.qos, false, frame)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish failed: %w", err)
		}
	default:
	}
	return nil
}

func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}

// Topic returns the per-aircraft topic; messages without an address go to <base>/unknown
func Topic(base, key string) string {
	if key == "" || key == "000000" {
		return base + "/unknown"
	}
	return base + "/" + key
}
