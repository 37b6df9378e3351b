// Package stream serves pinned websocket connections. Each connection
// holds one browser session for its whole life: messages execute stored
// scripts or raw JavaScript on that session, and every message gets a
// reply. Message failures never tear the connection down; only a close,
// a disconnect, or the lock TTL frees the session.
package stream

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sidegrid/sidegrid/internal/dispatch"
	"github.com/sidegrid/sidegrid/internal/fault"
)

// Manager upgrades websocket requests and tracks every live pinned
// connection so shutdown can release the pins.
type Manager struct {
	dsp      *dispatch.Dispatcher
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// NewManager returns a Manager dispatching through dsp.
func NewManager(dsp *dispatch.Dispatcher) *Manager {
	return &Manager{
		dsp: dsp,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request and pins an idle session for the life of
// the connection. When nothing can be pinned the error is reported on
// the socket and the socket is closed, mirroring the REST path's 503.
// The handler blocks until the connection ends.
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("stream: upgrade: %v", err)
		return
	}

	pin, err := m.dsp.OpenStream(r.Context())
	if err != nil {
		c := &conn{ws: ws}
		_ = c.writeJSON(serverMessage{
			Type:  "error",
			Kind:  fault.KindOf(err).String(),
			Error: err.Error(),
		})
		_ = ws.Close()
		return
	}

	c := &conn{ws: ws, pin: pin}
	m.add(c)
	defer m.remove(c)

	if err := c.writeJSON(serverMessage{Type: "connected", SessionID: pin.SessionID()}); err != nil {
		c.teardown()
		return
	}
	c.readLoop(r.Context())
}

func (m *Manager) add(c *conn) {
	m.mu.Lock()
	m.conns[c] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) remove(c *conn) {
	m.mu.Lock()
	delete(m.conns, c)
	m.mu.Unlock()
}

// Len reports the number of live pinned connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Shutdown releases every pin and closes every socket. The read loops
// then drain out on their own.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conns := make([]*conn, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.teardown()
	}
}
