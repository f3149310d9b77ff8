package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Logger writes one line per request. Health and metrics probes are skipped.
func Logger(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if _, ok := skipped[c.Request.URL.Path]; ok {
			return
		}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if id := ClientID(c); id != "" {
			fields = append(fields, zap.String("client_id", id))
		}
		if span := trace.SpanContextFromContext(c.Request.Context()); span.IsValid() {
			fields = append(fields, zap.String("trace_id", span.TraceID().String()))
		}

		switch {
		case c.Writer.Status() >= 500:
			zap.L().Error("[HTTP] request", fields...)
		case c.Writer.Status() >= 400:
			zap.L().Warn("[HTTP] request", fields...)
		default:
			zap.L().Debug("[HTTP] request", fields...)
		}
	}
}
