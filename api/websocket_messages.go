package api

import (
	"fmt"
	"time"

	"github.com/ericfitz/collabd/auth"
)

// Inbound message types
const (
	MessageTypeJoinRoom       = "join_room"
	MessageTypeLeaveRoom      = "leave_room"
	MessageTypeCursorUpdate   = "cursor_update"
	MessageTypePresenceUpdate = "presence_update"
	MessageTypeEditOperation  = "edit_operation"
	MessageTypeCommentUpdate  = "comment_update"
	MessageTypeApprovalUpdate = "approval_update"
	MessageTypeActivityUpdate = "activity_update"
	MessageTypePing           = "ping"
)

// Server-originated message types
const (
	MessageTypeConnectionEstablished = "connection_established"
	MessageTypeUserJoinedRoom        = "user_joined_room"
	MessageTypeUserLeftRoom          = "user_left_room"
	MessageTypeRoomState             = "room_state"
	MessageTypePong                  = "pong"
	MessageTypeError                 = "error"
)

// Error codes carried by error frames
const (
	ErrorCodeInvalidJSON    = "invalid_json"
	ErrorCodeMissingType    = "missing_type"
	ErrorCodeMissingField   = "missing_field"
	ErrorCodeInvalidField   = "invalid_field"
	ErrorCodeNotInRoom      = "not_in_room"
	ErrorCodeInternal       = "internal_error"
	ErrorCodeServerShutdown = "server_shutdown"
)

// WorkspaceRoomPrefix scopes the synthesized per-workspace rooms
const WorkspaceRoomPrefix = "workspace:"

// timestampLayout is ISO-8601 in UTC with millisecond precision
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t the way every outbound frame carries it
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// WorkspaceRoomID returns the room shared by everyone in a workspace
func WorkspaceRoomID(workspaceID string) string {
	return WorkspaceRoomPrefix + workspaceID
}

// UserInfo is the sender identity attached to outbound frames
type UserInfo struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewUserInfo projects an identity onto the wire shape
func NewUserInfo(identity auth.Identity) UserInfo {
	return UserInfo{ID: identity.ID, Email: identity.Email, Metadata: identity.Metadata}
}

// ConnectionEstablishedMessage is the first frame sent on a new connection
type ConnectionEstablishedMessage struct {
	Type      string   `json:"type"`
	ClientID  string   `json:"clientId"`
	User      UserInfo `json:"user"`
	Timestamp string   `json:"timestamp"`
}

// RoomMembershipMessage announces a join or leave to the rest of a room
type RoomMembershipMessage struct {
	Type      string   `json:"type"`
	RoomID    string   `json:"roomId"`
	ClientID  string   `json:"clientId"`
	User      UserInfo `json:"user"`
	Timestamp string   `json:"timestamp"`
}

// RoomMember is one entry of a room_state snapshot
type RoomMember struct {
	ClientID string   `json:"clientId"`
	User     UserInfo `json:"user"`
}

// RoomStateMessage lists the other members of a room to a joiner
type RoomStateMessage struct {
	Type      string       `json:"type"`
	RoomID    string       `json:"roomId"`
	Members   []RoomMember `json:"members"`
	Timestamp string       `json:"timestamp"`
}

// PresenceUpdateMessage relays a presence change to a room
type PresenceUpdateMessage struct {
	Type           string   `json:"type"`
	RoomID         string   `json:"roomId"`
	User           UserInfo `json:"user"`
	Status         string   `json:"status"`
	CurrentElement *string  `json:"currentElement,omitempty"`
	LastSeen       string   `json:"lastSeen"`
	Timestamp      string   `json:"timestamp"`
}

// PongMessage answers a ping
type PongMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// ErrorMessage reports a protocol error to the sender
type ErrorMessage struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// ProtocolError is returned by handlers for frames the sender got wrong. The
// router turns it into an error frame and keeps the connection open.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func missingField(name string) *ProtocolError {
	return &ProtocolError{Code: ErrorCodeMissingField, Message: name + " is required"}
}

func notInRoom(roomID string) *ProtocolError {
	return &ProtocolError{Code: ErrorCodeNotInRoom, Message: "not a member of room " + roomID}
}
