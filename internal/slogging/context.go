package slogging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the correlation ID for HTTP requests
	RequestIDHeader = "X-Request-ID"
	// ContextLoggerKey is the gin context key the middleware stores the logger under
	ContextLoggerKey = "logger"
	// ContextUserIDKey is the gin context key for the authenticated user ID
	ContextUserIDKey = "userID"
)

// GinContextLike is the subset of *gin.Context the logger needs
type GinContextLike interface {
	Get(key any) (any, bool)
	GetHeader(key string) string
	ClientIP() string
}

// ContextLogger adds request or connection attributes to every record
type ContextLogger struct {
	logger  *Logger
	slogger *slog.Logger
	ctx     context.Context
}

// GetContextLogger returns the request logger stored by LoggerMiddleware, or
// a request-scoped logger built from the global one.
func GetContextLogger(c GinContextLike) *ContextLogger {
	if v, ok := c.Get(ContextLoggerKey); ok {
		if logger, ok := v.(*ContextLogger); ok {
			return logger
		}
	}
	return Get().WithContext(c)
}

// WithContext returns a logger tagged with request ID, client IP and user
func (l *Logger) WithContext(c GinContextLike) *ContextLogger {
	requestID := c.GetHeader(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
		if setter, ok := c.(interface{ Header(string, string) }); ok {
			setter.Header(RequestIDHeader, requestID)
		}
	}

	userID := ""
	if v, ok := c.Get(ContextUserIDKey); ok && v != nil {
		userID = fmt.Sprintf("%v", v)
	}

	return &ContextLogger{
		logger: l,
		slogger: l.slogger.With(
			slog.String("request_id", requestID),
			slog.String("client_ip", c.ClientIP()),
			slog.String("user_id", userID),
		),
		ctx: context.Background(),
	}
}

// ForConnection returns a logger tagged with a WebSocket connection and user
func (l *Logger) ForConnection(connectionID, userID string) *ContextLogger {
	return &ContextLogger{
		logger: l,
		slogger: l.slogger.With(
			slog.String("connection_id", connectionID),
			slog.String("user_id", userID),
		),
		ctx: context.Background(),
	}
}

func (cl *ContextLogger) logf(level LogLevel, format string, args ...any) {
	if cl.logger.level > level {
		return
	}
	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}
	cl.slogger.Log(cl.ctx, level.toSlogLevel(), SanitizeLogMessage(message))
}

// Debug logs a debug-level message with context
func (cl *ContextLogger) Debug(format string, args ...any) { cl.logf(LogLevelDebug, format, args...) }

// Info logs an info-level message with context
func (cl *ContextLogger) Info(format string, args ...any) { cl.logf(LogLevelInfo, format, args...) }

// Warn logs a warning-level message with context
func (cl *ContextLogger) Warn(format string, args ...any) { cl.logf(LogLevelWarn, format, args...) }

// Error logs an error-level message with context
func (cl *ContextLogger) Error(format string, args ...any) { cl.logf(LogLevelError, format, args...) }

// DebugCtx logs a debug message with structured attributes
func (cl *ContextLogger) DebugCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelDebug, msg, attrs...)
}

// InfoCtx logs an info message with structured attributes
func (cl *ContextLogger) InfoCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelInfo, msg, attrs...)
}

// WarnCtx logs a warning message with structured attributes
func (cl *ContextLogger) WarnCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelWarn, msg, attrs...)
}

// ErrorCtx logs an error message with structured attributes
func (cl *ContextLogger) ErrorCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelError, msg, attrs...)
}

// WithAttrs returns a copy carrying additional attributes
func (cl *ContextLogger) WithAttrs(attrs ...slog.Attr) *ContextLogger {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return &ContextLogger{logger: cl.logger, slogger: cl.slogger.With(args...), ctx: cl.ctx}
}

// GetSlogger returns the underlying slog.Logger
func (cl *ContextLogger) GetSlogger() *slog.Logger {
	return cl.slogger
}
