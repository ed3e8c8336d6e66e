package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: sameOrigin,
}

// sameOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests from the page's own host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// ReloadMessage tells clients to reload. An empty Page means every page.
type ReloadMessage struct {
	Type string `json:"type"`
	Page string `json:"page,omitempty"`
}

// Hub tracks live reload connections.
type Hub struct {
	mu          sync.Mutex
	connections map[*websocket.Conn]bool
	closed      bool
	logger      *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[*websocket.Conn]bool),
		logger:      logger,
	}
}

// ServeHTTP upgrades the connection and holds it until the client leaves.
// Clients never send anything meaningful; reads only detect disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	if !h.register(conn) {
		conn.Close()
		return
	}
	defer func() {
		h.unregister(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("unexpected websocket close", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.connections[conn] = true
	h.logger.Debug("websocket connection registered", zap.Int("active", len(h.connections)))
	return true
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, conn)
	h.logger.Debug("websocket connection unregistered", zap.Int("active", len(h.connections)))
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// BroadcastReload sends a reload message for page to all connected clients.
func (h *Hub) BroadcastReload(page string) {
	data, err := json.Marshal(ReloadMessage{Type: "reload", Page: page})
	if err != nil {
		h.logger.Error("failed to marshal reload message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.connections) == 0 {
		return
	}
	h.logger.Info("broadcasting reload", zap.String("page", page), zap.Int("connections", len(h.connections)))

	for conn := range h.connections {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("failed to send reload", zap.Error(err))
		}
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for conn := range h.connections {
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
	}
}
