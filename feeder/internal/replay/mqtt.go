package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pulsekit/pulsekit/pkg/streamrpc"
)

// bridgeMessage is one sample as published by the BLE bridge.
type bridgeMessage struct {
	SessionID  string  `json:"session_id"`
	SampleRate float64 `json:"sample_rate"`
	Timestamp  int64   `json:"timestamp"`
	Value      float64 `json:"value"`
	DeviceID   string  `json:"device_id"`
}

// publisher is the part of mqtt.Client the bridge needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Bridge emulates the BLE bridge: every sample becomes one MQTT message.
type Bridge struct {
	client  publisher
	topic   string
	qos     byte
	timeout time.Duration
}

// DialBridge connects to broker and returns a Bridge publishing on topic.
func DialBridge(broker, clientID, topic string, qos byte) (*Bridge, mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("replay: mqtt connect %s: %w", broker, token.Error())
	}
	return NewBridge(c, topic, qos), c, nil
}

// NewBridge wraps a connected client.
func NewBridge(c publisher, topic string, qos byte) *Bridge {
	return &Bridge{client: c, topic: topic, qos: qos, timeout: 2 * time.Second}
}

// Send publishes every sample of b. It satisfies Sink.
func (br *Bridge) Send(ctx context.Context, b *streamrpc.SampleBatch) error {
	for _, s := range b.Normalized() {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(bridgeMessage{
			SessionID:  b.SessionID,
			SampleRate: b.SampleRate,
			Timestamp:  s.Timestamp,
			Value:      s.Value,
			DeviceID:   s.DeviceID,
		})
		if err != nil {
			return err
		}
		token := br.client.Publish(br.topic, br.qos, false, data)
		if !token.WaitTimeout(br.timeout) {
			return fmt.Errorf("replay: mqtt publish timed out after %s", br.timeout)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("replay: mqtt publish: %w", err)
		}
	}
	return nil
}
