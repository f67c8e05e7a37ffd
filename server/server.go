// Package server implements the responder role: it accepts connections, routes
// each inbound request to the handler registered for its method, and writes
// the correlated response back on the connection the request arrived on.
//
// Per-connection pipeline:
//
//	accept → read loop (one goroutine, messages strictly in arrival order)
//	  → classify: parse error / invalid request / request / notification
//	  → for each request: go handleRequest
//	    → middleware chain → handler → encode → write reply
//
// The read loop never blocks on a handler: every request runs in its own
// goroutine, so a slow method does not stall later messages on the same
// connection, and replies may leave out of arrival order.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"wsrpc/codec"
	"wsrpc/event"
	"wsrpc/message"
	"wsrpc/middleware"
	"wsrpc/registry"
	"wsrpc/transport"
)

// Handler answers requests for one method. It runs on its own goroutine per
// request; returning an error (or panicking) produces an InternalError reply,
// never a dropped request. A nil result is normalized to an empty object on
// the wire.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Server is the responder endpoint.
type Server struct {
	acceptor *transport.Acceptor
	cdc      codec.Codec
	events   *event.Emitter
	logger   *zap.Logger

	handlerMu sync.RWMutex
	handlers  map[string]Handler

	middlewares []middleware.Middleware
	chainOnce   sync.Once
	chain       middleware.HandlerFunc

	wg       sync.WaitGroup // in-flight requests, for graceful shutdown
	shutdown atomic.Bool
	httpSrv  *http.Server

	registry     registry.Registry
	serviceName  string
	advertiseURL string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger. Defaults to a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithCodec overrides the wire codec.
func WithCodec(cdc codec.Codec) Option {
	return func(s *Server) { s.cdc = cdc }
}

// NewServer creates a responder with an empty handler registry.
func NewServer(opts ...Option) *Server {
	s := &Server{
		acceptor: transport.NewAcceptor(),
		cdc:      codec.Default,
		events:   event.NewEmitter(),
		logger:   zap.NewNop(),
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.acceptor.OnConnection(s.handleConn)
	return s
}

// Reply registers the handler for a method. Re-registration silently replaces
// the previous handler; the last writer wins.
func (s *Server) Reply(method string, h Handler) {
	s.handlerMu.Lock()
	s.handlers[method] = h
	s.handlerMu.Unlock()
}

// Subscribe registers a handler for an event name: one of the built-in
// event.* names, or a notification method to observe inbound notifications.
func (s *Server) Subscribe(name string, h event.Handler) *event.Subscription {
	return s.events.Subscribe(name, h)
}

// Use appends a middleware. All middlewares must be registered before the
// first connection is served.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Acceptor exposes the websocket acceptor as an http.Handler, for hosts that
// mount the responder on their own mux instead of calling Serve.
func (s *Server) Acceptor() *transport.Acceptor {
	return s.acceptor
}

// Notify broadcasts a notification to every currently open connection.
// Delivery is best effort: a connection that fails mid-send is skipped and
// the broadcast continues with the rest.
func (s *Server) Notify(method string, params any) {
	msg, err := message.NewNotification(method, params)
	if err != nil {
		s.logger.Error("build notification", zap.String("method", method), zap.Error(err))
		return
	}
	data, err := s.cdc.Encode(msg)
	if err != nil {
		s.logger.Error("encode notification", zap.String("method", method), zap.Error(err))
		return
	}

	for _, conn := range s.acceptor.Connections() {
		if err := conn.Send(data); err != nil {
			s.logger.Warn("broadcast dropped",
				zap.String("conn", conn.ID()),
				zap.String("method", method),
				zap.Error(err))
			continue
		}
	}
	s.events.Emit(event.Send, msg)
}

// Serve listens on address and serves the websocket endpoint until Shutdown.
func (s *Server) Serve(address string) error {
	s.httpSrv = &http.Server{Addr: address, Handler: s.acceptor}
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) || s.shutdown.Load() {
		return nil
	}
	return err
}

// ServeWithRegistry advertises the responder in the registry, then serves.
// advertiseURL is the routable websocket URL peers should dial, which differs
// from the listen address (":8080" is not dialable from elsewhere).
func (s *Server) ServeWithRegistry(address, service, advertiseURL string, reg registry.Registry) error {
	if err := reg.Register(service, registry.Endpoint{URL: advertiseURL}, 10); err != nil {
		return fmt.Errorf("register %q: %w", service, err)
	}
	s.registry = reg
	s.serviceName = service
	s.advertiseURL = advertiseURL
	return s.Serve(address)
}

// Shutdown performs a graceful stop: deregister so initiators stop routing
// here, stop accepting, close open connections, then wait for in-flight
// handlers up to timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.registry != nil {
		if err := s.registry.Deregister(s.serviceName, s.advertiseURL); err != nil {
			s.logger.Warn("deregister failed", zap.Error(err))
		}
	}

	// Flag before closing the listener so Serve reports a clean exit.
	s.shutdown.Store(true)
	if s.httpSrv != nil {
		s.httpSrv.Close()
	}
	s.acceptor.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("timeout waiting for in-flight requests")
	}
}

// handleConn starts the read loop for one accepted connection.
func (s *Server) handleConn(conn *transport.Conn) {
	s.chainOnce.Do(func() {
		s.chain = middleware.Chain(s.middlewares...)(s.dispatch)
	})

	s.logger.Debug("connection opened", zap.String("conn", conn.ID()))
	go conn.ReadLoop(
		func(data []byte) { s.handleMessage(conn, data) },
		func(err error) {
			s.acceptor.Remove(conn)
			s.logger.Debug("connection closed", zap.String("conn", conn.ID()), zap.Error(err))
			s.events.Emit(event.Close, err)
		},
	)
}

// handleMessage classifies one inbound message. Runs on the connection's read
// goroutine, so messages are classified strictly in arrival order; only the
// handler invocation itself is concurrent.
func (s *Server) handleMessage(conn *transport.Conn, data []byte) {
	var msg message.Message
	if err := s.cdc.Decode(data, &msg); err != nil {
		s.logger.Warn("unparseable message", zap.String("conn", conn.ID()), zap.Error(err))
		s.events.Emit(event.Error, fmt.Errorf("parse: %w", err))
		s.send(conn, message.NewParseError())
		return
	}

	s.events.Emit(event.Receive, &msg)

	switch {
	case !msg.MethodOK():
		s.send(conn, message.NewInvalidRequest(requestID(&msg)))
	case msg.ID != nil:
		s.wg.Add(1)
		go s.handleRequest(conn, &msg)
	default:
		// Notification: re-emit locally, never reply.
		s.events.Emit(msg.Method, msg.Params)
	}
}

func (s *Server) handleRequest(conn *transport.Conn, req *message.Message) {
	defer s.wg.Done()
	s.send(conn, s.chain(context.Background(), req))
}

// dispatch is the innermost handler the middleware chain wraps: look the
// method up, invoke it, and turn the outcome into a response message.
func (s *Server) dispatch(ctx context.Context, req *message.Message) (resp *message.Message) {
	id := requestID(req)

	s.handlerMu.RLock()
	h, ok := s.handlers[req.Method]
	s.handlerMu.RUnlock()
	if !ok {
		return message.NewMethodNotFound(id, req.Method)
	}

	// A panicking handler must not take the connection down; it is a failed
	// request like any other, with the panic value as opaque data.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", zap.String("method", req.Method), zap.Any("panic", r))
			resp = message.NewInternalError(id, req.Method, fmt.Sprint(r))
		}
	}()

	result, err := h(ctx, req.Params)
	if err != nil {
		return message.NewInternalError(id, req.Method, err.Error())
	}

	resp, err = message.NewResponse(id, result)
	if err != nil {
		return message.NewInternalError(id, req.Method, err.Error())
	}
	return resp
}

func (s *Server) send(conn *transport.Conn, msg *message.Message) {
	if msg == nil {
		return
	}
	data, err := s.cdc.Encode(msg)
	if err != nil {
		s.logger.Error("encode response", zap.Error(err))
		return
	}
	if err := conn.Send(data); err != nil {
		s.logger.Warn("write failed", zap.String("conn", conn.ID()), zap.Error(err))
		return
	}
	s.events.Emit(event.Send, msg)
}

func requestID(msg *message.Message) int64 {
	if msg.ID != nil {
		return *msg.ID
	}
	return message.NoID
}
