package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/leozw/health-guardian/internal/core"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 8

	MessageSummary     = "health_summary"
	MessageRemediation = "health_remediation"
	MessagePerformance = "performance_alert"
)

// Message is the envelope written to every subscriber.
type Message struct {
	Type      string                    `json:"type"`
	Timestamp time.Time                 `json:"timestamp"`
	Data      *core.SystemHealthSummary `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans summaries out to websocket subscribers. A subscriber that
// cannot keep up is disconnected.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[*client]struct{}
	last     []byte
	onChange func(int)
}

func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}
}

// OnChange registers a callback invoked with the subscriber count whenever
// it changes.
func (h *Hub) OnChange(fn func(int)) {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
}

func (h *Hub) ActiveConnections() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients), true
}

// Event is the envelope for notifications other than summaries.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Publish broadcasts the summary and keeps it for late subscribers.
func (h *Hub) Publish(_ context.Context, s *core.SystemHealthSummary) error {
	payload, err := json.Marshal(Message{Type: MessageSummary, Timestamp: time.Now(), Data: s})
	if err != nil {
		return err
	}
	h.broadcast(payload, true)
	return nil
}

// Broadcast sends a one-off event to the current subscribers.
func (h *Hub) Broadcast(_ context.Context, eventType string, data interface{}) error {
	payload, err := json.Marshal(Event{Type: eventType, Timestamp: time.Now(), Data: data})
	if err != nil {
		return err
	}
	h.broadcast(payload, false)
	return nil
}

func (h *Hub) broadcast(payload []byte, keep bool) {
	h.mu.Lock()
	if keep {
		h.last = payload
	}
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("Dropping slow realtime subscriber", zap.String("remote", c.conn.RemoteAddr().String()))
		h.unregister(c)
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)

	go h.readLoop(c)
	h.writeLoop(c)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	n, fn := len(h.clients), h.onChange
	h.mu.Unlock()

	if fn != nil {
		fn(n)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n, fn := len(h.clients), h.onChange
	h.mu.Unlock()

	if fn != nil {
		fn(n)
	}
}

func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// originChecker allows same-host requests, requests without an Origin header
// and any origin listed in allowed. "*" allows everything.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimSpace(o))] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, strings.TrimSpace(r.Host))
	}
}
