package transport

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Acceptor upgrades HTTP requests into websocket connections and tracks the
// open set. The set exists for notification broadcast only; request/response
// traffic never addresses a connection through it.
type Acceptor struct {
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*Conn

	onConn func(*Conn)
}

// NewAcceptor creates an acceptor that admits any origin. Origin policy
// belongs to the host deployment, not the protocol core.
func NewAcceptor() *Acceptor {
	return &Acceptor{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*Conn),
	}
}

// OnConnection sets the callback invoked once per accepted connection.
// Must be set before the acceptor starts serving.
func (a *Acceptor) OnConnection(fn func(*Conn)) {
	a.onConn = fn
}

// ServeHTTP upgrades the request and hands the new connection to the
// OnConnection callback. Implements http.Handler so the acceptor can be
// mounted on any mux.
func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error to the client.
		return
	}
	conn := newConn(ws)

	a.mu.Lock()
	a.conns[conn.ID()] = conn
	a.mu.Unlock()

	if a.onConn != nil {
		a.onConn(conn)
	}
}

// Remove drops a connection from the broadcast set. Called when its read loop
// ends; safe to call for a connection that was already removed.
func (a *Acceptor) Remove(conn *Conn) {
	a.mu.Lock()
	delete(a.conns, conn.ID())
	a.mu.Unlock()
}

// Connections returns a snapshot of the open set. The snapshot tolerates
// connections opening and closing while the caller iterates; a send to a
// connection that closed in the meantime simply fails.
func (a *Acceptor) Connections() []*Conn {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Conn, 0, len(a.conns))
	for _, c := range a.conns {
		out = append(out, c)
	}
	return out
}

// Len reports the current number of open connections.
func (a *Acceptor) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.conns)
}

// CloseAll tears down every open connection and empties the set.
func (a *Acceptor) CloseAll() {
	a.mu.Lock()
	conns := a.conns
	a.conns = make(map[string]*Conn)
	a.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
