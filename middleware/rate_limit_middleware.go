package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"wsrpc/message"
)

// RateLimit rejects requests beyond r per second with a burst allowance,
// using a token bucket shared across all connections.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			if !limiter.Allow() {
				return message.NewInternalError(requestID(req), req.Method, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
