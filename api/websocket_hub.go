package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfitz/collabd/auth"
	"github.com/ericfitz/collabd/internal/slogging"
	"github.com/ericfitz/collabd/internal/telemetry"
	"github.com/gorilla/websocket"
)

var (
	// ErrHubClosed is returned by Register once shutdown has begun
	ErrHubClosed = errors.New("hub is shutting down")
	// ErrConnectionNotFound is returned for operations on an unregistered connection
	ErrConnectionNotFound = errors.New("connection not found")
)

// HubConfig holds per-connection limits and timings
type HubConfig struct {
	SendBufferSize    int
	InactivityTimeout time.Duration
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	MaxMessageSize    int64
	MessageLogging    slogging.WebSocketLoggingConfig
}

// DefaultHubConfig returns the production defaults
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendBufferSize:    256,
		InactivityTimeout: 5 * time.Minute,
		PingInterval:      54 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageSize:    64 * 1024,
	}
}

// HubStats is a point-in-time summary for health reporting
type HubStats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Rooms       int `json:"rooms"`
}

// Hub owns all collaboration state: live connections, rooms and presence.
// membershipMu serializes every sequence that touches more than one of them
// so registry and room membership never disagree.
type Hub struct {
	cfg       HubConfig
	registry  *ConnectionRegistry
	rooms     *RoomDirectory
	presence  *PresenceTracker
	router    *MessageRouter
	persister Persister
	metrics   *telemetry.CollabMetrics
	logger    *slogging.Logger

	membershipMu sync.Mutex
	shuttingDown bool

	// read and write pumps of every connection with a transport
	pumps sync.WaitGroup

	now func() time.Time
}

// NewHub creates a hub. persister and metrics may be nil.
func NewHub(cfg HubConfig, persister Persister, metrics *telemetry.CollabMetrics) *Hub {
	defaults := DefaultHubConfig()
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaults.SendBufferSize
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = defaults.InactivityTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if metrics == nil {
		metrics = telemetry.NewNoopCollabMetrics()
	}

	return &Hub{
		cfg:       cfg,
		registry:  NewConnectionRegistry(cfg.SendBufferSize),
		rooms:     NewRoomDirectory(),
		presence:  NewPresenceTracker(persister),
		router:    NewMessageRouter(),
		persister: persister,
		metrics:   metrics,
		logger:    slogging.Get(),
		now:       time.Now,
	}
}

// Registry returns the connection registry
func (h *Hub) Registry() *ConnectionRegistry { return h.registry }

// Rooms returns the room directory
func (h *Hub) Rooms() *RoomDirectory { return h.rooms }

// Presence returns the presence tracker
func (h *Hub) Presence() *PresenceTracker { return h.presence }

// Router returns the message router
func (h *Hub) Router() *MessageRouter { return h.router }

// Stats summarizes current state
func (h *Hub) Stats() HubStats {
	return HubStats{
		Connections: h.registry.Count(),
		Users:       h.registry.UserCount(),
		Rooms:       h.rooms.Count(),
	}
}

// Register adds a verified connection and marks its user online. When
// transport is non-nil the caller must follow up with StartPumps.
func (h *Hub) Register(ctx context.Context, identity auth.Identity, transport *websocket.Conn) (*Connection, error) {
	h.membershipMu.Lock()
	if h.shuttingDown {
		h.membershipMu.Unlock()
		return nil, ErrHubClosed
	}
	conn := h.registry.Register(identity, transport)
	h.presence.SetStatus(identity.ID, PresenceOnline, nil)
	if transport != nil {
		h.pumps.Add(2)
	}
	h.membershipMu.Unlock()

	h.metrics.ConnectionOpened(ctx)
	slogging.LogWebSocketConnection("registered", conn.ID, identity.ID,
		slog.Int("user_connections", h.registry.UserConnectionCount(identity.ID)))
	return conn, nil
}

// JoinRoom adds conn to roomID, announces it to the other members and sends
// conn a room_state snapshot. Joining a room twice only repeats the snapshot.
func (h *Hub) JoinRoom(ctx context.Context, conn *Connection, roomID string) error {
	h.membershipMu.Lock()
	already := h.registry.InRoom(conn.ID, roomID)
	if !h.registry.addRoom(conn.ID, roomID) {
		h.membershipMu.Unlock()
		return ErrConnectionNotFound
	}
	created := h.rooms.Join(roomID, conn.ID)
	members := h.rooms.Members(roomID)
	h.presence.Touch(conn.UserID())
	h.membershipMu.Unlock()

	if created {
		h.metrics.RoomCreated(ctx)
	}

	if !already {
		h.logger.Debug("Connection %s (user %s) joined room %s", conn.ID, conn.UserID(), roomID)
		h.Broadcast(ctx, roomID, MessageTypeUserJoinedRoom, RoomMembershipMessage{
			Type:      MessageTypeUserJoinedRoom,
			RoomID:    roomID,
			ClientID:  conn.ID,
			User:      NewUserInfo(conn.Identity),
			Timestamp: FormatTimestamp(h.now()),
		}, conn.ID)
	}

	state := RoomStateMessage{
		Type:      MessageTypeRoomState,
		RoomID:    roomID,
		Members:   make([]RoomMember, 0, len(members)),
		Timestamp: FormatTimestamp(h.now()),
	}
	for _, id := range members {
		if member, ok := h.registry.Get(id); ok {
			state.Members = append(state.Members, RoomMember{ClientID: member.ID, User: NewUserInfo(member.Identity)})
		}
	}
	h.SendTo(ctx, conn, MessageTypeRoomState, state)
	return nil
}

// LeaveRoom removes conn from roomID and reports whether it was a member
func (h *Hub) LeaveRoom(ctx context.Context, conn *Connection, roomID string) bool {
	h.membershipMu.Lock()
	if !h.registry.removeRoom(conn.ID, roomID) {
		h.membershipMu.Unlock()
		return false
	}
	removed := h.rooms.Leave(roomID, conn.ID)
	h.membershipMu.Unlock()

	if removed {
		h.metrics.RoomRemoved(ctx)
	}
	h.logger.Debug("Connection %s (user %s) left room %s", conn.ID, conn.UserID(), roomID)
	h.Broadcast(ctx, roomID, MessageTypeUserLeftRoom, h.leftMessage(conn, roomID), conn.ID)
	return true
}

// SetPresence records a status reported by conn. It fails with
// ErrConnectionNotFound once conn has been disconnected, so a late update can
// never overwrite the offline status written when a user's last connection
// goes away.
func (h *Hub) SetPresence(conn *Connection, status PresenceStatus, currentElement *string) (PresenceRecord, error) {
	h.membershipMu.Lock()
	defer h.membershipMu.Unlock()

	if _, ok := h.registry.Get(conn.ID); !ok {
		return PresenceRecord{}, ErrConnectionNotFound
	}
	return h.presence.SetStatus(conn.UserID(), status, currentElement), nil
}

// Disconnect removes a connection from every room and the registry, marks its
// user offline if this was their last connection and closes its queue. It is
// safe to call any number of times; only the first call has an effect.
func (h *Hub) Disconnect(ctx context.Context, connID, reason string) bool {
	return h.disconnect(ctx, connID, reason, websocket.CloseNormalClosure)
}

func (h *Hub) disconnect(ctx context.Context, connID, reason string, closeCode int) bool {
	h.membershipMu.Lock()
	conn, rooms, remaining, ok := h.registry.Remove(connID)
	if !ok {
		h.membershipMu.Unlock()
		return false
	}
	removedRooms := 0
	for _, roomID := range rooms {
		if h.rooms.Leave(roomID, connID) {
			removedRooms++
		}
	}
	if remaining == 0 {
		h.presence.SetStatus(conn.UserID(), PresenceOffline, nil)
	}
	h.membershipMu.Unlock()

	conn.closeSend(closeCode)

	for range removedRooms {
		h.metrics.RoomRemoved(ctx)
	}
	h.metrics.ConnectionClosed(ctx, h.now().Sub(conn.ConnectedAt))

	for _, roomID := range rooms {
		h.Broadcast(ctx, roomID, MessageTypeUserLeftRoom, h.leftMessage(conn, roomID), connID)
	}

	slogging.LogWebSocketConnection("disconnected", connID, conn.UserID(),
		slog.String("reason", reason),
		slog.Int("rooms_left", len(rooms)),
		slog.Int("remaining_user_connections", remaining),
	)
	return true
}

func (h *Hub) leftMessage(conn *Connection, roomID string) RoomMembershipMessage {
	return RoomMembershipMessage{
		Type:      MessageTypeUserLeftRoom,
		RoomID:    roomID,
		ClientID:  conn.ID,
		User:      NewUserInfo(conn.Identity),
		Timestamp: FormatTimestamp(h.now()),
	}
}

// Broadcast delivers message to every member of roomID except exclude. The
// message is marshaled once. A recipient whose queue is full or closed is
// counted as failed and marked for eviction; delivery to the others goes on.
func (h *Hub) Broadcast(ctx context.Context, roomID, messageType string, message any, exclude string) (delivered, failed int) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal %s message for room %s: %v", messageType, roomID, err)
		return 0, 0
	}

	for _, id := range h.rooms.Members(roomID) {
		if id == exclude {
			continue
		}
		conn, ok := h.registry.Get(id)
		if !ok {
			continue
		}
		if h.deliver(conn, data) {
			delivered++
		} else {
			failed++
		}
	}

	h.metrics.BroadcastCompleted(ctx, messageType, delivered, failed)
	if failed > 0 {
		h.logger.Warn("Broadcast of %s to room %s: %d delivered, %d failed", messageType, roomID, delivered, failed)
	}
	return delivered, failed
}

// SendTo delivers message to a single connection
func (h *Hub) SendTo(ctx context.Context, conn *Connection, messageType string, message any) bool {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal %s message for connection %s: %v", messageType, conn.ID, err)
		return false
	}
	ok := h.deliver(conn, data)
	if ok {
		h.metrics.BroadcastCompleted(ctx, messageType, 1, 0)
	} else {
		h.metrics.BroadcastCompleted(ctx, messageType, 0, 1)
	}
	return ok
}

// SendError reports a protocol error to conn
func (h *Hub) SendError(ctx context.Context, conn *Connection, code, message string) {
	h.SendTo(ctx, conn, MessageTypeError, ErrorMessage{
		Type:      MessageTypeError,
		Code:      code,
		Message:   message,
		Timestamp: FormatTimestamp(h.now()),
	})
}

func (h *Hub) deliver(conn *Connection, data []byte) bool {
	if conn.enqueue(data) {
		return true
	}
	if !conn.Closed() && !conn.Failed() {
		h.logger.Warn("Send queue full for connection %s (user %s), marking failed", conn.ID, conn.UserID())
	}
	conn.markFailed()
	return false
}

// Sweep disconnects connections that failed or have been inactive longer
// than the configured timeout. It returns the number evicted.
func (h *Hub) Sweep(ctx context.Context) int {
	now := h.now()
	evicted := 0
	for _, conn := range h.registry.Snapshot() {
		var reason string
		switch {
		case conn.Failed():
			reason = "transport_failed"
		case conn.Closed():
			reason = "transport_closed"
		case now.Sub(conn.LastActivity()) > h.cfg.InactivityTimeout:
			reason = "inactive"
		default:
			continue
		}
		if h.disconnect(ctx, conn.ID, reason, websocket.CloseNormalClosure) {
			h.metrics.ConnectionReaped(ctx, reason)
			evicted++
		}
	}
	return evicted
}

// Shutdown refuses new registrations, closes every connection with 1001 and
// waits for their pumps to finish until ctx expires
func (h *Hub) Shutdown(ctx context.Context) error {
	h.membershipMu.Lock()
	h.shuttingDown = true
	h.membershipMu.Unlock()

	conns := h.registry.Snapshot()
	h.logger.Info("Closing %d WebSocket connections", len(conns))
	for _, conn := range conns {
		h.disconnect(ctx, conn.ID, "server shutdown", websocket.CloseGoingAway)
	}

	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("All WebSocket connections closed")
		return nil
	case <-ctx.Done():
		for _, conn := range conns {
			conn.closeTransport()
		}
		h.logger.Warn("Timed out waiting for WebSocket connections to close")
		return ctx.Err()
	}
}
