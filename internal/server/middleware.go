package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"transcript-rag/internal/logging"
)

const requestIDKey = "request_id"

// RequestID tags every request with the caller's X-Request-Id or a fresh one, and stores a
// request-scoped logger in the request context.
func RequestID(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-Id", reqID)
		c.Set(requestIDKey, reqID)
		scoped := logger.With(zap.String("http_request_id", reqID))
		c.Request = c.Request.WithContext(logging.WithContext(c.Request.Context(), scoped))
		c.Next()
	}
}

// AccessLog writes one line per request.
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		l := logging.FromContext(c.Request.Context(), logger)
		if len(c.Errors) > 0 {
			l.Warn("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		l.Info("request", fields...)
	}
}
