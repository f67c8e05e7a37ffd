// Package middleware wraps the responder's request handling with cross-cutting
// concerns. A Middleware decorates the message-level HandlerFunc the server
// runs for every request, after classification and before the reply is written.
package middleware

import (
	"context"

	"wsrpc/message"
)

// HandlerFunc takes a parsed request and produces the response to send back.
type HandlerFunc func(ctx context.Context, req *message.Message) *message.Message

// Middleware decorates a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one. Chain(A, B, C)(h) wraps as A(B(C(h))),
// so A sees the request first and the response last.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

func requestID(req *message.Message) int64 {
	if req.ID != nil {
		return *req.ID
	}
	return message.NoID
}
