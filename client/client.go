// Package client implements the initiator role: it owns one connection, sends
// requests and notifications, and correlates inbound responses back to their
// callers by id.
//
// Multiplexing works the way it does in any id-correlated RPC client: every
// request gets the next id from a per-connection counter, registers a pending
// call, and a single receive loop routes each response to exactly one caller.
//
//	goroutine-1 ──Go(id=1)──┐
//	goroutine-2 ──Go(id=2)──┼──→ one websocket conn ──→ responder
//	goroutine-3 ──Go(id=3)──┘
//
//	recv loop: ←── response(id=2) → pending[2] → goroutine-2 wakes up
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"wsrpc/codec"
	"wsrpc/event"
	"wsrpc/loadbalance"
	"wsrpc/message"
	"wsrpc/registry"
	"wsrpc/transport"
)

// ErrClosed is the failure every pending call gets when the connection ends
// before its response arrives, and the error for operations on a closed client.
var ErrClosed = errors.New("connection closed")

// Call is one in-flight request. When it completes, Result or Error is set
// and the call is delivered on Done.
type Call struct {
	Method string
	Params any
	Result json.RawMessage // raw result payload on success
	Error  error           // *message.Error for a wire error, ErrClosed on disconnect
	Done   chan *Call
}

// done delivers the call without blocking the receive loop. A caller that
// passed an unbuffered or full Done channel loses the delivery, same trade-off
// as net/rpc.
func (c *Call) done() {
	select {
	case c.Done <- c:
	default:
	}
}

// Client is the initiator endpoint.
type Client struct {
	conn   *transport.Conn
	cdc    codec.Codec
	events *event.Emitter
	logger *zap.Logger

	// mu serializes the two mutators of the pending table: Go inserts,
	// the receive loop removes-and-resolves. It also guards the id counter.
	mu      sync.Mutex
	seq     int64
	pending map[int64]*Call
	closed  bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger. Defaults to a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithCodec overrides the wire codec.
func WithCodec(cdc codec.Codec) Option {
	return func(c *Client) { c.cdc = cdc }
}

// Dial connects to a responder with the default connect timeout.
func Dial(url string, opts ...Option) (*Client, error) {
	return DialTimeout(url, transport.DefaultConnectTimeout, opts...)
}

// DialTimeout connects with an explicit connect timeout. A handshake that does
// not settle in time fails with transport.ErrConnectTimeout; a synchronous
// refusal fails with the dial error. The core never retries.
func DialTimeout(url string, timeout time.Duration, opts ...Option) (*Client, error) {
	conn, err := transport.DialTimeout(url, timeout)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, opts...), nil
}

// DialService discovers the responders advertised for service and connects to
// the endpoint the balancer picks.
func DialService(reg registry.Registry, bal loadbalance.Balancer, service string, opts ...Option) (*Client, error) {
	endpoints, err := reg.Discover(service)
	if err != nil {
		return nil, fmt.Errorf("discover %q: %w", service, err)
	}
	ep, err := bal.Pick(endpoints)
	if err != nil {
		return nil, fmt.Errorf("pick endpoint for %q: %w", service, err)
	}
	return Dial(ep.URL, opts...)
}

// NewClient wraps an established connection and starts its receive loop.
func NewClient(conn *transport.Conn, opts ...Option) *Client {
	c := &Client{
		conn:    conn,
		cdc:     codec.Default,
		events:  event.NewEmitter(),
		logger:  zap.NewNop(),
		pending: make(map[int64]*Call),
	}
	for _, opt := range opts {
		opt(c)
	}
	go conn.ReadLoop(c.handleMessage, c.handleClose)
	return c
}

// Go sends a request and returns immediately with the in-flight Call. Ids are
// assigned from a strictly increasing counter starting at 1 and are never
// reused within the connection's lifetime. done may be nil, in which case a
// buffered channel is allocated.
func (c *Client) Go(method string, params any, done chan *Call) *Call {
	if done == nil {
		done = make(chan *Call, 1)
	}
	call := &Call{Method: method, Params: params, Done: done}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		call.Error = ErrClosed
		call.done()
		return call
	}
	c.seq++
	id := c.seq
	c.pending[id] = call
	c.mu.Unlock()

	msg, err := message.NewRequest(id, method, params)
	if err == nil {
		err = c.send(msg)
	}
	if err != nil {
		// The close handler may have already failed this call; only the
		// side that removes the entry gets to complete it.
		c.mu.Lock()
		_, mine := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if mine {
			call.Error = err
			call.done()
		}
	}
	return call
}

// Call sends a request and blocks until the response arrives or the
// connection closes. On success the result payload is unmarshaled into reply
// (which may be nil to discard it). A wire error comes back as *message.Error.
func (c *Client) Call(method string, params any, reply any) error {
	call := <-c.Go(method, params, nil).Done
	if call.Error != nil {
		return call.Error
	}
	if reply == nil {
		return nil
	}
	return c.cdc.Decode(call.Result, reply)
}

// Notify sends a fire-and-forget notification: no id, no pending state, no
// reply ever. The only failure mode is a local write error.
func (c *Client) Notify(method string, params any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg, err := message.NewNotification(method, params)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// Subscribe registers a handler for an event name: one of the built-in
// event.* names, or a notification method to observe inbound notifications.
func (c *Client) Subscribe(name string, h event.Handler) *event.Subscription {
	return c.events.Subscribe(name, h)
}

// Close tears down the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(msg *message.Message) error {
	data, err := c.cdc.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %q: %w", msg.Method, err)
	}
	if err := c.conn.Send(data); err != nil {
		return fmt.Errorf("send %q: %w", msg.Method, err)
	}
	c.events.Emit(event.Send, msg)
	return nil
}

// handleMessage runs on the single receive goroutine, once per inbound
// message, strictly in arrival order.
func (c *Client) handleMessage(data []byte) {
	var msg message.Message
	if err := c.cdc.Decode(data, &msg); err != nil {
		// A peer that sends garbage does not cost us the connection.
		c.logger.Warn("unparseable message", zap.Error(err))
		c.events.Emit(event.Error, fmt.Errorf("parse: %w", err))
		return
	}

	// Observability first: every well-formed message, before correlation.
	c.events.Emit(event.Receive, &msg)

	if msg.ID != nil {
		c.resolve(&msg)
		return
	}
	if msg.MethodOK() {
		c.events.Emit(msg.Method, msg.Params)
	}
}

// resolve completes at most one pending call. The id is consumed by its first
// matching response; a duplicate or unknown id is an error event, not a crash.
func (c *Client) resolve(msg *message.Message) {
	id := *msg.ID

	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("unmatched response", zap.Int64("id", id))
		c.events.Emit(event.Error, fmt.Errorf("unmatched response id %d", id))
		return
	}

	if msg.Error != nil {
		call.Error = msg.Error
	} else {
		call.Result = msg.Result
	}
	call.done()
}

// handleClose fails every still-pending call so none hangs forever, then
// surfaces the close to subscribers.
func (c *Client) handleClose(err error) {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]*Call)
	c.mu.Unlock()

	for _, call := range pending {
		call.Error = ErrClosed
		call.done()
	}

	c.logger.Debug("connection closed", zap.Error(err))
	c.events.Emit(event.Close, err)
}
