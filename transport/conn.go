// Package transport adapts gorilla/websocket to the message-oriented contract
// the endpoints build on: whole text messages in arrival order, serialized
// writes, and explicit open/close/error signaling. One websocket message is
// one protocol message — no extra framing is needed on top.
package transport

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is a single full-duplex connection carrying text messages.
type Conn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex // concurrent writers on one websocket corrupt the frame stream

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		id:     uuid.New().String(),
		ws:     ws,
		closed: make(chan struct{}),
	}
}

// ID identifies the connection within a process, for logs and the broadcast set.
func (c *Conn) ID() string { return c.id }

// Send writes one complete text message.
func (c *Conn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// ReadLoop delivers inbound messages to onMessage strictly in arrival order,
// one at a time, until the connection ends. onClose then runs exactly once
// with the terminating error. ReadLoop blocks; run it in its own goroutine.
func (c *Conn) ReadLoop(onMessage func(data []byte), onClose func(err error)) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.Close()
			onClose(err)
			return
		}
		onMessage(data)
	}
}

// Close tears the connection down. Idempotent; the first call wins.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

// Done is closed once the connection has been torn down.
func (c *Conn) Done() <-chan struct{} { return c.closed }
