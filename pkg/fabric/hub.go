package fabric

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const historyLimit = 100

// Notification is a single fabric event delivered over the websocket.
type Notification struct {
	Category  string    `json:"category"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub broadcasts notifications to connected websocket clients and keeps
// a bounded history that is replayed to new connections. Dead connections
// are pruned lazily on the next write that fails.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	history []Notification
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: slog.Default(),
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// Broadcast sends a notification to every connected client and records it
// in the history ring.
func (h *Hub) Broadcast(category string, payload any) {
	note := Notification{Category: category, Payload: payload, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(note)
	if err != nil {
		h.logger.Warn("failed to encode notification", "category", category, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.history = append(h.history, note)
	if len(h.history) > historyLimit {
		h.history = h.history[len(h.history)-historyLimit:]
	}

	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("dropping dead websocket connection", "error", err)
			_ = conn.Close()
			delete(h.conns, conn)
		}
	}
}

// History returns a copy of the retained notifications, oldest first.
func (h *Hub) History() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Notification, len(h.history))
	copy(out, h.history)
	return out
}

// ClientCount reports the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request to a websocket, replays history and
// registers the connection for future broadcasts.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	for _, note := range h.history {
		data, err := json.Marshal(note)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.mu.Unlock()
			_ = conn.Close()
			return
		}
	}
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	// Reader loop exists only to detect closes; inbound messages are
	// ignored.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.conns, conn)
			h.mu.Unlock()
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
