package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pulsekit/pulsekit/engine/internal/session"
)

// msgPublisher is the part of *nats.Conn the Publisher needs.
type msgPublisher interface {
	Publish(subj string, data []byte) error
}

// Publisher publishes session updates to NATS.
type Publisher struct {
	pub     msgPublisher
	conn    *nats.Conn
	subject string
}

// ConnectNATS dials url and returns a Publisher for subject. The connection
// reconnects forever.
func ConnectNATS(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(
		url,
		nats.Name("pulsekit-engine"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("bus: nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("bus: nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: nats connect %s: %w", url, err)
	}
	p := NewPublisher(nc, subject)
	p.conn = nc
	return p, nil
}

// NewPublisher wraps an existing publisher such as a *nats.Conn.
func NewPublisher(pub msgPublisher, subject string) *Publisher {
	return &Publisher{pub: pub, subject: subject}
}

// Subject returns the subject updates for sessionID are published on.
func (p *Publisher) Subject(sessionID string) string {
	return p.subject + "." + sessionID
}

// Publish sends one message per update and returns how many were published.
// Failures are logged and do not stop the remaining updates.
func (p *Publisher) Publish(updates []session.Update) int {
	sent := 0
	for _, u := range updates {
		data, err := json.Marshal(u)
		if err != nil {
			slog.Error("bus: marshal update", "session", u.SessionID, "error", err)
			continue
		}
		if err := p.pub.Publish(p.Subject(u.SessionID), data); err != nil {
			slog.Warn("bus: nats publish failed", "session", u.SessionID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Close drains the connection opened by ConnectNATS.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		slog.Warn("bus: nats drain", "error", err)
	}
}
