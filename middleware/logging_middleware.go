package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wsrpc/message"
)

// Logging logs one line per request: method, id, duration, and the error code
// if the response carries one.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			start := time.Now()
			resp := next(ctx, req)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Int64("id", requestID(req)),
				zap.Duration("duration", time.Since(start)),
			}
			if resp != nil && resp.Error != nil {
				fields = append(fields, zap.Int("code", resp.Error.Code))
				logger.Warn("request failed", fields...)
			} else {
				logger.Info("request handled", fields...)
			}
			return resp
		}
	}
}
