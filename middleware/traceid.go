package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const TraceIDKey = "trace_id"
const TraceIDHeader = "X-Trace-ID"

type (
	traceCtxKey struct{}
	ipCtxKey    struct{}
)

// TraceID injects a UUID trace ID into the Gin context, the request context
// and the response header. An incoming X-Trace-ID is reused.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" || len(traceID) > 64 {
			traceID = uuid.New().String()
		}
		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)
		ctx := WithTraceID(c.Request.Context(), traceID)
		c.Request = c.Request.WithContext(WithClientIP(ctx, c.ClientIP()))
		c.Next()
	}
}

// GetTraceID retrieves the trace ID from the Gin context.
func GetTraceID(c *gin.Context) string {
	if v, exists := c.Get(TraceIDKey); exists {
		return v.(string)
	}
	return ""
}

// WithTraceID returns ctx carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceCtxKey{}, traceID)
}

// TraceIDFrom extracts the trace ID placed by TraceID, or "".
func TraceIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(traceCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithClientIP returns ctx carrying the caller's IP for audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipCtxKey{}, ip)
}

// ClientIPFrom extracts the IP placed by TraceID, or "".
func ClientIPFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ipCtxKey{}).(string); ok {
		return v
	}
	return ""
}
