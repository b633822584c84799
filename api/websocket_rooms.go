package api

import (
	"sync"
)

// RoomDirectory maps room IDs to member connection IDs. Rooms are created on
// first join and deleted when the last member leaves.
type RoomDirectory struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

// NewRoomDirectory creates an empty directory
func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{rooms: make(map[string]map[string]struct{})}
}

// Join adds connID to roomID. Joining twice is the same as joining once.
// created reports whether the room did not exist before.
func (d *RoomDirectory) Join(roomID, connID string) (created bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		d.rooms[roomID] = members
		created = true
	}
	members[connID] = struct{}{}
	return created
}

// Leave removes connID from roomID and reports whether the room was deleted
func (d *RoomDirectory) Leave(roomID, connID string) (removedRoom bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.rooms[roomID]
	if !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(d.rooms, roomID)
		return true
	}
	return false
}

// Members returns a point-in-time copy of the member IDs of roomID
func (d *RoomDirectory) Members(roomID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedKeys(d.rooms[roomID])
}

// MemberCount returns the number of members of roomID
func (d *RoomDirectory) MemberCount(roomID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms[roomID])
}

// Has reports whether roomID currently exists
func (d *RoomDirectory) Has(roomID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.rooms[roomID]
	return ok
}

// Rooms returns the IDs of all existing rooms
func (d *RoomDirectory) Rooms() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make(map[string]struct{}, len(d.rooms))
	for id := range d.rooms {
		ids[id] = struct{}{}
	}
	return sortedKeys(ids)
}

// Count returns the number of existing rooms
func (d *RoomDirectory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
