package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/carewatch/internal/models"
)

// Event types pushed to websocket clients
const (
	EventStatusChanged = "status_changed"
	EventHello         = "hello"
)

// Event is one message on the /ws stream
type Event struct {
	Type        string              `json:"type"`
	Appointment *models.Appointment `json:"appointment,omitempty"`
	Previous    models.Status       `json:"previous,omitempty"`
	At          time.Time           `json:"at"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans events out to connected websocket clients
type Hub struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger, clients: make(map[*client]struct{})}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends ev to every client. Clients that fail to receive are dropped.
func (h *Hub) Broadcast(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			h.logger.Debug("Dropping websocket client", zap.Error(err))
			h.remove(c)
		}
	}
}

// StatusChanged broadcasts a status change
func (h *Hub) StatusChanged(updated models.Appointment, previous models.Status) {
	h.Broadcast(Event{Type: EventStatusChanged, Appointment: &updated, Previous: previous})
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("Websocket client connected", zap.Int("clients", n))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

// serve holds one websocket connection open until the client goes away
func (h *Hub) serve(conn *websocket.Conn) {
	c := &client{conn: conn}
	h.add(c)
	defer h.remove(c)

	hello, _ := json.Marshal(Event{Type: EventHello, At: time.Now()})
	if err := c.write(hello); err != nil {
		return
	}

	for {
		// clients only listen; reads detect disconnects
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
