package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"

	"github.com/ericfitz/collabd/internal/slogging"
)

// InboundMessage is a decoded client frame. Fields holds every top-level
// key, including type-specific ones the router does not interpret.
type InboundMessage struct {
	Type        string
	RoomID      string
	WorkspaceID string
	Fields      map[string]any
	Raw         []byte
}

// String returns a top-level string field, or "" if absent or not a string
func (m *InboundMessage) String(key string) string {
	s, _ := m.Fields[key].(string)
	return s
}

// relayFields copies the client's fields, dropping the ones the server owns
func (m *InboundMessage) relayFields() map[string]any {
	out := make(map[string]any, len(m.Fields)+4)
	for k, v := range m.Fields {
		switch k {
		case "type", "user", "timestamp", "clientId":
			continue
		}
		out[k] = v
	}
	return out
}

// MessageHandler handles one inbound message type
type MessageHandler interface {
	MessageType() string
	HandleMessage(ctx context.Context, hub *Hub, conn *Connection, msg *InboundMessage) error
}

// MessageRouter dispatches inbound frames to the handler registered for
// their type
type MessageRouter struct {
	handlers map[string]MessageHandler
}

// NewMessageRouter creates a router with the collaboration handlers registered
func NewMessageRouter() *MessageRouter {
	router := &MessageRouter{
		handlers: make(map[string]MessageHandler),
	}

	router.RegisterHandler(&JoinRoomHandler{})
	router.RegisterHandler(&LeaveRoomHandler{})
	router.RegisterHandler(&CursorUpdateHandler{})
	router.RegisterHandler(&PresenceUpdateHandler{})
	router.RegisterHandler(&EditOperationHandler{})
	router.RegisterHandler(&CommentUpdateHandler{})
	router.RegisterHandler(&ApprovalUpdateHandler{})
	router.RegisterHandler(&ActivityUpdateHandler{})
	router.RegisterHandler(&PingHandler{})

	return router
}

// RegisterHandler registers a handler, replacing any for the same type
func (r *MessageRouter) RegisterHandler(handler MessageHandler) {
	r.handlers[handler.MessageType()] = handler
}

// Types returns the registered message types
func (r *MessageRouter) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Route decodes data and runs the matching handler. Malformed frames and
// handler protocol errors are answered with an error frame; unknown types are
// logged and dropped. The connection stays open in every case.
func (r *MessageRouter) Route(ctx context.Context, hub *Hub, conn *Connection, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			hub.logger.Error("PANIC in Route - connection: %s, user: %s, error: %v, stack: %s",
				conn.ID, conn.UserID(), rec, debug.Stack())
			hub.SendError(ctx, conn, ErrorCodeInternal, "internal error handling message")
		}
	}()

	msg, perr := decodeInbound(data)
	if perr != nil {
		hub.logger.Debug("Rejected frame from connection %s: %v (%s)", conn.ID, perr, slogging.SanitizeLogMessage(truncate(string(data), 256)))
		hub.metrics.MessageReceived(ctx, "invalid")
		hub.SendError(ctx, conn, perr.Code, perr.Message)
		return
	}

	handler, exists := r.handlers[msg.Type]
	if !exists {
		hub.metrics.MessageReceived(ctx, "unknown")
		hub.logger.Debug("Ignoring unknown message type '%s' from user %s on connection %s",
			slogging.SanitizeLogMessage(truncate(msg.Type, 64)), conn.UserID(), conn.ID)
		return
	}
	hub.metrics.MessageReceived(ctx, msg.Type)

	if err := handler.HandleMessage(ctx, hub, conn, msg); err != nil {
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			hub.logger.Debug("Protocol error from connection %s on %s: %v", conn.ID, msg.Type, protoErr)
			hub.SendError(ctx, conn, protoErr.Code, protoErr.Message)
			return
		}
		hub.logger.Error("Handler for %s failed on connection %s: %v", msg.Type, conn.ID, err)
		hub.SendError(ctx, conn, ErrorCodeInternal, "failed to handle "+msg.Type)
	}
}

func decodeInbound(data []byte) (*InboundMessage, *ProtocolError) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, &ProtocolError{Code: ErrorCodeInvalidJSON, Message: "message must be a JSON object"}
	}

	msgType, ok := fields["type"].(string)
	if !ok || msgType == "" {
		return nil, &ProtocolError{Code: ErrorCodeMissingType, Message: "message type is required"}
	}

	msg := &InboundMessage{Type: msgType, Fields: fields, Raw: data}
	for key, dst := range map[string]*string{"roomId": &msg.RoomID, "workspaceId": &msg.WorkspaceID} {
		raw, present := fields[key]
		if !present || raw == nil {
			continue
		}
		s, isString := raw.(string)
		if !isString {
			return nil, &ProtocolError{Code: ErrorCodeInvalidField, Message: fmt.Sprintf("%s must be a string", key)}
		}
		*dst = s
	}
	return msg, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
