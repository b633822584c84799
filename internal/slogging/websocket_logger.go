package slogging

import (
	"context"
	"encoding/json"
	"log/slog"
)

// WebSocketLoggingConfig controls frame-level logging
type WebSocketLoggingConfig struct {
	Enabled        bool
	RedactTokens   bool
	MaxMessageSize int64
}

// WSMessageDirection indicates whether a frame was received or sent
type WSMessageDirection string

const (
	WSMessageInbound  WSMessageDirection = "INBOUND"
	WSMessageOutbound WSMessageDirection = "OUTBOUND"
)

// LogWebSocketMessage logs a single frame at debug level
func LogWebSocketMessage(direction WSMessageDirection, connectionID, userID, messageType string, data []byte, config WebSocketLoggingConfig) {
	if !config.Enabled {
		return
	}
	logger := Get()
	if logger.level > LogLevelDebug {
		return
	}

	attrs := []slog.Attr{
		slog.String("direction", string(direction)),
		slog.String("connection_id", connectionID),
		slog.String("user_id", userID),
		slog.String("message_type", messageType),
		slog.Int("size_bytes", len(data)),
	}

	if config.MaxMessageSize > 0 && int64(len(data)) > config.MaxMessageSize {
		attrs = append(attrs, slog.Bool("truncated", true))
		logger.slogger.LogAttrs(context.Background(), slog.LevelDebug, "WebSocket message", attrs...)
		return
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err == nil {
		if config.RedactTokens {
			decoded = redactJSONObject(decoded)
		}
		attrs = append(attrs, slog.Any("message_data", decoded))
	} else {
		attrs = append(attrs, slog.String("message_content", SanitizeLogMessage(string(data))))
	}
	logger.slogger.LogAttrs(context.Background(), slog.LevelDebug, "WebSocket message", attrs...)
}

// RedactWebSocketMessage applies the default redaction rules to the keys of a
// JSON frame. Non-JSON input is returned sanitized.
func RedactWebSocketMessage(message string) string {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(message), &decoded); err != nil {
		return SanitizeLogMessage(message)
	}
	out, err := json.Marshal(redactJSONObject(decoded))
	if err != nil {
		return SanitizeLogMessage(message)
	}
	return string(out)
}

func redactJSONObject(data map[string]any) map[string]any {
	config := DefaultRedactionConfig()
	if err := config.CompileRules(); err != nil {
		return data
	}
	return redactJSONValue(data, &config).(map[string]any)
}

func redactJSONValue(value any, config *RedactionConfig) any {
	switch v := value.(type) {
	case map[string]any:
		result := make(map[string]any, len(v))
	keys:
		for key, item := range v {
			for i := range config.Rules {
				rule := &config.Rules[i]
				if !rule.compiled.MatchString(key) {
					continue
				}
				switch rule.Action {
				case RedactionOmit:
				case RedactionPartial:
					if s, ok := item.(string); ok {
						result[key] = partialRedactValue(s)
					} else {
						result[key] = redactedMarker
					}
				default:
					result[key] = redactedMarker
				}
				continue keys
			}
			result[key] = redactJSONValue(item, config)
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = redactJSONValue(item, config)
		}
		return result
	default:
		return value
	}
}

// LogWebSocketConnection logs connection lifecycle events
func LogWebSocketConnection(event, connectionID, userID string, attrs ...slog.Attr) {
	all := append([]slog.Attr{
		slog.String("event", event),
		slog.String("connection_id", connectionID),
		slog.String("user_id", userID),
	}, attrs...)
	Get().slogger.LogAttrs(context.Background(), slog.LevelInfo, "WebSocket connection event", all...)
}
