package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ericfitz/collabd/api/models"
	"github.com/ericfitz/collabd/internal/uuidgen"
)

// JoinRoomHandler handles join_room
type JoinRoomHandler struct{}

func (h *JoinRoomHandler) MessageType() string { return MessageTypeJoinRoom }

func (h *JoinRoomHandler) HandleMessage(ctx context.Context, hub *Hub, conn *Connection, msg *InboundMessage) error {
	if msg.RoomID == "" {
		return missingField("roomId")
	}
	return hub.JoinRoom(ctx, conn, msg.RoomID)
}

// LeaveRoomHandler handles leave_room
type LeaveRoomHandler struct{}

func (h *LeaveRoomHandler) MessageType() string { return MessageTypeLeaveRoom }

func (h *LeaveRoomHandler) HandleMessage(ctx context.Context, hub *Hub, conn *Connection, msg *InboundMessage) error {
	if msg.RoomID == "" {
		return missingField("roomId")
	}
	if !hub.LeaveRoom(ctx, conn, msg.RoomID) {
		return notInRoom(msg.RoomID)
	}
	return nil
}

// CursorUpdateHandler relays cursor positions to the rest of a room
type CursorUpdateHandler struct{}

func (h *CursorUpdateHandler) MessageType() string { return MessageTypeCursorUpdate }

func (h *CursorUpdateHandler) HandleMessage(ctx context.Context, hub *Hub, conn *Connection, msg *InboundMessage) error {
	if err := requireMembership(hub, conn, msg.RoomID); err != nil {
		return err
	}
	hub.relay(ctx, conn, msg, msg.RoomID, conn.ID)
	return nil
}

// PresenceUpdateHandler records an explicit status change and, when a room
// is named, tells its other members
type PresenceUpdateHandler struct{}

func (h *PresenceUpdateHandler) MessageType() string { return MessageTypePresenceUpdate }

func (h *PresenceUpdateHandler) HandleMessage(ctx context.Context, hub *Hub, conn *Connection, msg *InboundMessage) error {
	rawStatus := msg.String("status")
	if rawStatus == "" {
		return missingField("status")
	}
	status, ok := ParsePresenceStatus(rawStatus)
	if !ok {
		return &ProtocolError{Code: ErrorCodeInvalidField, Message: "status must be one of online, away, offline"}
	}
	if msg.RoomID != "" && !hub.registry.InRoom(conn.ID, msg.RoomID) {
		return notInRoom(msg.RoomID)
	}

	var element *string
	if raw, present := msg.Fields["currentElement"]; present && raw != nil {
		s, isString := raw.(string)
		if !isString {
			return &ProtocolError{Code: ErrorCodeInvalidField, Message: "currentElement must be a string"}
		}
		element = &s
	}

	record, err := hub.SetPresence(conn, status, element)
	if errors.Is(err, ErrConnectionNotFound) {
		hub.logger.Debug("Ignoring presence update from disconnected connection %s", conn.ID)
		return nil
	}
	if err != nil {
		return err
	}

	if msg.RoomID != "" {
		hub.Broadcast(ctx, msg.RoomID, MessageTypePresenceUpdate, PresenceUpdateMessage{
			Type:           MessageTypePresenceUpdate,
			RoomID:         msg.RoomID,
			User:           NewUserInfo(conn.Identity),
			Status:         string(record.Status),
			CurrentElement: record.CurrentElement,
			LastSeen:       FormatTimestamp(record.LastSeen),
			Timestamp:      FormatTimestamp(hub.now()),
		}, conn.ID)
	}
	return nil
}

// EditOperationHandler relays an edit to the room and queues its audit row.
// The operation may be nested under "operation" or given at the top level
// with "operationType" naming the kind of edit.
type EditOperationHandler struct{}

func (h *EditOperationHandler) MessageType() string { return MessageTypeEditOperation }

func (h *EditOperationHandler) HandleMessage(ctx context.Context, hub *Hub, conn *Connection, msg *InboundMessage) error {
	if err := requireMembership(hub, conn, msg.RoomID); err != nil {
		return err
	}

	op, err := parseEditOperation(msg)
	if err != nil {
		return err
	}

	out := msg.relayFields()
	out["operation"] = op.payload
	hub.broadcastRelay(ctx, conn, msg.Type, out, msg.RoomID, conn.ID)

	if hub.persister != nil {
		row := &models.EditOperation{
			ID:            uuidgen.MustNewForEntity(uuidgen.EntityTypeEditOperation).String(),
			UserID:        conn.UserID(),
			EntityType:    op.entityType,
			EntityID:      op.entityID,
			OperationType: op.operationType,
			ElementID:     op.elementID,
			OperationData: op.data,
			OccurredAt:    hub.now().UTC(),
		}
		hub.persister.EnqueueEditOperation(row)
	}
	return nil
}

type editOperation struct {
	entityType    string
	entityID      string
	operationType string
	elementID     *string
	data          models.JSONRaw
	payload       map[string]any
}

func parseEditOperation(msg *InboundMessage) (*editOperation, error) {
	source := msg.Fields
	typeKey := "operationType"
	if nested, ok := msg.Fields["operation"].(map[string]any); ok {
		source = nested
		typeKey = "type"
	}

	str := func(key string) string {
		s, _ := source[key].(string)
		return s
	}

	op := &editOperation{
		entityType:    str("entityType"),
		entityID:      str("entityId"),
		operationType: str(typeKey),
	}
	switch {
	case op.entityType == "":
		return nil, missingField("entityType")
	case op.entityID == "":
		return nil, missingField("entityId")
	case op.operationType == "":
		if typeKey == "type" {
			return nil, missingField("operation.type")
		}
		return nil, missingField(typeKey)
	}

	if element := str("elementId"); element != "" {
		op.elementID = &element
	}

	if data, present := source["data"]; present && data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode operation data: %w", err)
		}
		op.data = models.JSONRaw(encoded)
	}

	op.payload = map[string]any{
		"entityType": op.entityType,
		"entityId":   op.entityID,
		"type":       op.operationType,
	}
	if op.elementID != nil {
		op.payload["elementId"] = *op.elementID
	}
	if data, present := source["data"]; present {
		op.payload["data"] = data
	}
	return op, nil
}

// CommentUpdateHandler relays comment changes to the rest of a room
type CommentUpdateHandler struct{}

func (h *CommentUpdateHandler) MessageType() string { return MessageTypeCommentUpdate }

func (h *CommentUpdateHandler) HandleMessage(ctx context.Context, hub *Hub, conn *Connection, msg *InboundMessage) error {
	if msg.RoomID == "" {
		return missingField("roomId")
	}
	hub.relay(ctx, conn, msg, msg.RoomID, conn.ID)
	return nil
}

// ApprovalUpdateHandler relays approval changes to everyone in the workspace,
// sender included
type ApprovalUpdateHandler struct{}

func (h *ApprovalUpdateHandler) MessageType() string { return MessageTypeApprovalUpdate }

func (h *ApprovalUpdateHandler) HandleMessage(ctx context.Context, hub *Hub, conn *Connection, msg *InboundMessage) error {
	if msg.WorkspaceID == "" {
		return missingField("workspaceId")
	}
	hub.relay(ctx, conn, msg, WorkspaceRoomID(msg.WorkspaceID), "")
	return nil
}

// ActivityUpdateHandler relays activity feed entries to a room, sender
// included, stamped with server time
type ActivityUpdateHandler struct{}

func (h *ActivityUpdateHandler) MessageType() string { return MessageTypeActivityUpdate }

func (h *ActivityUpdateHandler) HandleMessage(ctx context.Context, hub *Hub, conn *Connection, msg *InboundMessage) error {
	if msg.RoomID == "" {
		return missingField("roomId")
	}
	hub.relay(ctx, conn, msg, msg.RoomID, "")
	return nil
}

// PingHandler answers keep-alive pings
type PingHandler struct{}

func (h *PingHandler) MessageType() string { return MessageTypePing }

func (h *PingHandler) HandleMessage(ctx context.Context, hub *Hub, conn *Connection, _ *InboundMessage) error {
	hub.SendTo(ctx, conn, MessageTypePong, PongMessage{
		Type:      MessageTypePong,
		Timestamp: FormatTimestamp(hub.now()),
	})
	return nil
}

func requireMembership(hub *Hub, conn *Connection, roomID string) error {
	if roomID == "" {
		return missingField("roomId")
	}
	if !hub.registry.InRoom(conn.ID, roomID) {
		return notInRoom(roomID)
	}
	return nil
}

// relay forwards the client's own fields to roomID under the server-owned
// envelope keys
func (h *Hub) relay(ctx context.Context, conn *Connection, msg *InboundMessage, roomID, exclude string) {
	h.broadcastRelay(ctx, conn, msg.Type, msg.relayFields(), roomID, exclude)
}

func (h *Hub) broadcastRelay(ctx context.Context, conn *Connection, messageType string, out map[string]any, roomID, exclude string) {
	out["type"] = messageType
	out["roomId"] = roomID
	out["user"] = NewUserInfo(conn.Identity)
	out["timestamp"] = FormatTimestamp(h.now())
	h.Broadcast(ctx, roomID, messageType, out, exclude)
}
