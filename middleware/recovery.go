package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const errorPageHTML = `<!doctype html><html><head><title>Server error</title></head>` +
	`<body><h1>Something went wrong</h1><p>Please try again in a moment.</p>` +
	`<p><a href="/">Back to home</a></p></body></html>`

// Recovery returns a Gin middleware that catches panics, logs them, and
// returns HTTP 500: JSON for /api paths, a plain HTML page otherwise.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("error", r),
					zap.String("trace_id", GetTraceID(c)),
					zap.String("path", c.Request.URL.Path),
					zap.String("stack", string(debug.Stack())),
				)
				if strings.HasPrefix(c.Request.URL.Path, "/api/") {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"error": "internal server error",
					})
					return
				}
				c.Abort()
				c.Data(http.StatusInternalServerError, "text/html; charset=utf-8", []byte(errorPageHTML))
			}
		}()
		c.Next()
	}
}
