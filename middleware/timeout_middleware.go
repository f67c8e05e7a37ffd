package middleware

import (
	"context"
	"time"

	"wsrpc/message"
)

// Timeout bounds how long a handler may run. On expiry the caller gets an
// InternalError reply immediately; the handler goroutine is left to observe
// ctx.Done() and wind down on its own.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Message, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.NewInternalError(requestID(req), req.Method, "handler timed out")
			}
		}
	}
}
