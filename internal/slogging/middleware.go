package slogging

import (
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggerMiddleware logs each HTTP request with its status and latency. The
// WebSocket upgrade is logged when the hijacked connection is handed back.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		root := Get()
		logger := root.WithContext(c)
		c.Set(ContextLoggerKey, logger)

		_, authenticated := c.Get(ContextUserIDKey)
		if root.suppressUnauthenticatedLogs && !authenticated {
			c.Next()
			return
		}

		path := RedactTokenQuery(c.Request.URL.RequestURI())
		logger.DebugCtx("Request started",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("user_agent", c.GetHeader("User-Agent")),
		)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status_code", status),
			slog.Duration("duration", time.Since(start)),
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.ErrorCtx("Request completed with server error", attrs...)
		case status >= http.StatusBadRequest:
			logger.WarnCtx("Request completed with client error", attrs...)
		default:
			logger.InfoCtx("Request completed", attrs...)
		}
	}
}

// Recoverer turns handler panics into 500 responses and logs the stack
func Recoverer() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)

				GetContextLogger(c).ErrorCtx("Panic recovered",
					slog.Any("panic_value", err),
					slog.String("stack_trace", string(buf[:n])),
					slog.String("method", c.Request.Method),
					slog.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
