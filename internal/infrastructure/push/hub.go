package push

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Hub fans session notifications out to every attached view-layer socket.
// The service serves a single signed-in user, so there are no rooms; every
// open UI surface (list pane, thread pane, second tab) gets every event and
// re-reads the snapshots it cares about.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewHub constructs an initialized Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Connection)}
}

// Attach registers a connection and starts its write loop.
func (h *Hub) Attach(conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.mu.Unlock()
	conn.Start()
}

// Detach removes a connection if it is still tracked.
func (h *Hub) Detach(conn *Connection) {
	h.mu.Lock()
	delete(h.conns, conn.ID)
	h.mu.Unlock()
}

// Broadcast writes payload to all attached connections and returns how many
// accepted it. Connections that fail to accept are dropped by their own
// backpressure handling.
func (h *Hub) Broadcast(payload []byte) int {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if err := conn.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Close terminates all tracked connections and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*Connection)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.CloseGoingAway, "hub shutdown")
	}
}
