package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pulsekit/pulsekit/engine/internal/config"
	"github.com/pulsekit/pulsekit/engine/internal/receiver"
	"github.com/pulsekit/pulsekit/engine/internal/session"
	"github.com/pulsekit/pulsekit/pkg/streamrpc"
	"github.com/pulsekit/pulsekit/pkg/types"
)

// Ingester accepts decoded batches. *receiver.Receiver implements it.
type Ingester interface {
	Ingest(b *streamrpc.SampleBatch, transport string) (*session.Stream, error)
}

// Payload is one BLE bridge message.
type Payload struct {
	SessionID  string  `json:"session_id"`
	SampleRate float64 `json:"sample_rate"`
	Timestamp  int64   `json:"timestamp"`
	Value      float64 `json:"value"`
	DeviceID   string  `json:"device_id"`
}

// DecodePayload parses a bridge message into a one-sample BLE batch.
func DecodePayload(data []byte) (*streamrpc.SampleBatch, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("bus: decode payload: %w", err)
	}
	if p.SessionID == "" {
		return nil, errors.New("bus: payload missing session_id")
	}
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		return nil, fmt.Errorf("bus: payload value %g is not finite", p.Value)
	}
	if p.Timestamp == 0 {
		p.Timestamp = time.Now().UnixMilli()
	}
	return &streamrpc.SampleBatch{
		SessionID:  p.SessionID,
		SampleRate: p.SampleRate,
		Source:     types.SourceBLE,
		DeviceID:   p.DeviceID,
		Samples:    []types.Sample{{Timestamp: p.Timestamp, Value: p.Value}},
	}, nil
}

// Subscriber feeds an MQTT topic into an Ingester.
type Subscriber struct {
	client mqtt.Client
	cfg    config.MQTTConfig
	ing    Ingester
}

// NewSubscriber returns a Subscriber that has not connected yet.
func NewSubscriber(cfg config.MQTTConfig, ing Ingester) *Subscriber {
	return &Subscriber{cfg: cfg, ing: ing}
}

// Connect dials the broker. The subscription is (re)made on every connect so
// it survives broker restarts.
func (s *Subscriber) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			s.HandleMessage(msg.Topic(), msg.Payload())
		})
		token.Wait()
		if err := token.Error(); err != nil {
			slog.Error("bus: mqtt subscribe failed", "topic", s.cfg.Topic, "error", err)
			return
		}
		slog.Info("bus: mqtt subscribed", "broker", s.cfg.Broker, "topic", s.cfg.Topic)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("bus: mqtt connection lost", "error", err)
	}

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("bus: mqtt connect %s: %w", s.cfg.Broker, token.Error())
	}
	return nil
}

// HandleMessage decodes and ingests one message. Bad messages are logged and
// dropped.
func (s *Subscriber) HandleMessage(topic string, payload []byte) {
	b, err := DecodePayload(payload)
	if err != nil {
		slog.Warn("bus: dropping mqtt message", "topic", topic, "error", err)
		return
	}
	if _, err := s.ing.Ingest(b, receiver.TransportMQTT); err != nil {
		slog.Warn("bus: mqtt ingest failed", "topic", topic, "session", b.SessionID, "error", err)
	}
}

// Close disconnects from the broker.
func (s *Subscriber) Close() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
