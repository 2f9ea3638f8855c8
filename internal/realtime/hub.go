package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashcz/coinwatch/pkg/logger"

	"go.uber.org/zap"
)

// Streams carried by the hub.
const (
	StreamCoinFavorites = "favorites.coins"
	StreamPostFavorites = "favorites.posts"
)

// Event represents a payload delivered to stream subscribers.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

// Hub fans out events to websocket subscribers grouped by stream.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

// NewHub constructs a hub instance.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[*client]struct{}),
	}
}

// Serve upgrades the HTTP connection to a WebSocket and registers the
// subscriber on the given stream until the peer disconnects.
func (h *Hub) Serve(stream string, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithModule("realtime").Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		conn: conn,
		send: make(chan Event, 16),
	}

	h.addClient(stream, cl)
	defer h.removeClient(stream, cl)

	go h.writeLoop(cl)
	h.readLoop(cl)
}

// Broadcast delivers an event to every subscriber of the stream.
func (h *Hub) Broadcast(stream string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for cl := range h.clients[stream] {
		select {
		case cl.send <- event:
		default:
			// Drop if buffer full to avoid blocking all clients.
		}
	}
}

// Subscribers reports the number of connections on a stream.
func (h *Hub) Subscribers(stream string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[stream])
}

func (h *Hub) addClient(stream string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[stream] == nil {
		h.clients[stream] = make(map[*client]struct{})
	}
	h.clients[stream][cl] = struct{}{}
}

func (h *Hub) removeClient(stream string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients := h.clients[stream]; clients != nil {
		delete(clients, cl)
		if len(clients) == 0 {
			delete(h.clients, stream)
		}
	}
	close(cl.send)
	_ = cl.conn.Close()
}

func (h *Hub) writeLoop(cl *client) {
	for event := range cl.send {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := cl.conn.WriteJSON(event); err != nil {
			break
		}
	}
}

func (h *Hub) readLoop(cl *client) {
	defer cl.conn.Close()

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}
