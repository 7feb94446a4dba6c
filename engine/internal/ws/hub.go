package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsekit/pulsekit/engine/internal/session"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before the connection is
	// considered dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

// Event names.
const (
	EventHeartRate = "heart_rate"
	EventWaveform  = "waveform"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Source is the session state the hub reads from. *session.Registry
// satisfies it.
type Source interface {
	List() []session.Update
	Get(id string) (*session.Stream, bool)
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Waveform is the filtered rolling buffer of one session.
type Waveform struct {
	SessionID  string    `json:"session_id"`
	SampleRate float64   `json:"sample_rate"`
	Values     []float64 `json:"values"`
}

// Hub fans heart-rate updates out to connected WebSocket clients.
type Hub struct {
	source Source

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	session string // empty: all sessions
}

// New creates a Hub reading from src.
func New(src Source) *Hub {
	return &Hub{
		source:  src,
		clients: make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the connection and serves the client until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, sendBufSize),
		session: r.URL.Query().Get("session"),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	for _, msg := range h.messagesFor(c, h.source.List()) {
		c.send <- msg
	}
	h.mu.Unlock()
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Publish sends updates to every client. Clients whose buffer is full are
// disconnected.
func (h *Hub) Publish(updates []session.Update) {
	var all []byte
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		var msgs [][]byte
		if c.session == "" {
			if all == nil {
				all = encode(EventHeartRate, updates)
			}
			msgs = [][]byte{all}
		} else {
			msgs = h.messagesFor(c, updates)
		}
		for _, msg := range msgs {
			select {
			case c.send <- msg:
				continue
			default:
			}
			slog.Debug("ws: client too slow, disconnecting")
			h.removeLocked(c)
			break
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// messagesFor builds the messages c should receive for updates. At most
// two, so they always fit an empty send buffer.
func (h *Hub) messagesFor(c *client, updates []session.Update) [][]byte {
	if c.session == "" {
		return [][]byte{encode(EventHeartRate, updates)}
	}
	mine := make([]session.Update, 0, 1)
	for _, u := range updates {
		if u.SessionID == c.session {
			mine = append(mine, u)
		}
	}
	msgs := [][]byte{encode(EventHeartRate, mine)}
	if s, ok := h.source.Get(c.session); ok {
		msgs = append(msgs, encode(EventWaveform, Waveform{
			SessionID:  s.ID(),
			SampleRate: s.SampleRate(),
			Values:     s.Filtered(),
		}))
	}
	return msgs
}

func encode(event string, data interface{}) []byte {
	b, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		slog.Error("ws: encode failed", "event", event, "err", err)
		return nil
	}
	return b
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// writePump forwards queued messages to the connection and sends pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if msg == nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes control frames and detects disconnects.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
