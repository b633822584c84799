package api

import (
	"slices"
	"sync"
	"time"

	"github.com/ericfitz/collabd/auth"
	"github.com/ericfitz/collabd/internal/uuidgen"
	"github.com/gorilla/websocket"
)

type registryEntry struct {
	conn  *Connection
	rooms map[string]struct{}
}

// ConnectionRegistry owns the set of live connections, the rooms each one has
// joined, and per-user connection counts
type ConnectionRegistry struct {
	mu              sync.RWMutex
	connections     map[string]*registryEntry
	userConnections map[string]map[string]struct{}
	bufferSize      int
	now             func() time.Time
}

// NewConnectionRegistry creates a registry whose connections queue up to
// bufferSize outbound frames
func NewConnectionRegistry(bufferSize int) *ConnectionRegistry {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ConnectionRegistry{
		connections:     make(map[string]*registryEntry),
		userConnections: make(map[string]map[string]struct{}),
		bufferSize:      bufferSize,
		now:             time.Now,
	}
}

// Register creates a connection with a fresh time-ordered ID
func (r *ConnectionRegistry) Register(identity auth.Identity, transport *websocket.Conn) *Connection {
	conn := newConnection(uuidgen.NewConnectionID(), identity, transport, r.bufferSize, r.now())

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.ID] = &registryEntry{conn: conn, rooms: make(map[string]struct{})}
	if r.userConnections[identity.ID] == nil {
		r.userConnections[identity.ID] = make(map[string]struct{})
	}
	r.userConnections[identity.ID][conn.ID] = struct{}{}
	return conn
}

// Get returns a registered connection
func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.connections[id]
	if !ok {
		return nil, false
	}
	return entry.conn, true
}

// Touch bumps the activity timestamp; false if id is not registered
func (r *ConnectionRegistry) Touch(id string) bool {
	conn, ok := r.Get(id)
	if !ok {
		return false
	}
	conn.Touch(r.now())
	return true
}

// addRoom records that id joined roomID. Returns false if id is unknown.
func (r *ConnectionRegistry) addRoom(id, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.connections[id]
	if !ok {
		return false
	}
	entry.rooms[roomID] = struct{}{}
	return true
}

// removeRoom returns whether id was in roomID
func (r *ConnectionRegistry) removeRoom(id, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.connections[id]
	if !ok {
		return false
	}
	if _, in := entry.rooms[roomID]; !in {
		return false
	}
	delete(entry.rooms, roomID)
	return true
}

// InRoom reports whether id has joined roomID
func (r *ConnectionRegistry) InRoom(id, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.connections[id]
	if !ok {
		return false
	}
	_, in := entry.rooms[roomID]
	return in
}

// RoomsOf returns a sorted copy of the rooms id has joined
func (r *ConnectionRegistry) RoomsOf(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.connections[id]
	if !ok {
		return nil
	}
	return sortedKeys(entry.rooms)
}

// Remove unregisters id and returns the connection, the rooms it was in and
// how many connections its user still holds. Removing an unknown id is a
// no-op reported through ok.
func (r *ConnectionRegistry) Remove(id string) (conn *Connection, rooms []string, remainingForUser int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, found := r.connections[id]
	if !found {
		return nil, nil, 0, false
	}
	delete(r.connections, id)

	userID := entry.conn.Identity.ID
	if userConns, exists := r.userConnections[userID]; exists {
		delete(userConns, id)
		remainingForUser = len(userConns)
		if remainingForUser == 0 {
			delete(r.userConnections, userID)
		}
	}
	return entry.conn, sortedKeys(entry.rooms), remainingForUser, true
}

// Snapshot returns every registered connection
func (r *ConnectionRegistry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.connections))
	for _, entry := range r.connections {
		conns = append(conns, entry.conn)
	}
	return conns
}

// Count returns the number of registered connections
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// UserConnectionCount returns how many connections userID holds
func (r *ConnectionRegistry) UserConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConnections[userID])
}

// UserCount returns the number of distinct connected users
func (r *ConnectionRegistry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConnections)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
