package core

import (
	"slices"
	"sync"
)

// RoomSet tracks which connections are subscribed to which chats. Membership
// is in-memory only and rebuilt from scratch over each connection's lifetime.
type RoomSet struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]struct{}
	byConn map[string]map[string]struct{}
}

func NewRoomSet() *RoomSet {
	return &RoomSet{
		rooms:  make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join subscribes the connection to the room. Joining a room the connection
// already belongs to is a no-op.
func (rs *RoomSet) Join(connID, roomID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.rooms[roomID] == nil {
		rs.rooms[roomID] = make(map[string]struct{})
	}
	rs.rooms[roomID][connID] = struct{}{}
	if rs.byConn[connID] == nil {
		rs.byConn[connID] = make(map[string]struct{})
	}
	rs.byConn[connID][roomID] = struct{}{}
}

// Leave removes the connection from the room. Leaving an unjoined room is a
// no-op, not an error.
func (rs *RoomSet) Leave(connID, roomID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.leaveLocked(connID, roomID)
}

func (rs *RoomSet) leaveLocked(connID, roomID string) {
	delete(rs.rooms[roomID], connID)
	if len(rs.rooms[roomID]) == 0 {
		delete(rs.rooms, roomID)
	}
	delete(rs.byConn[connID], roomID)
	if len(rs.byConn[connID]) == 0 {
		delete(rs.byConn, connID)
	}
}

// Purge removes the connection from every room it belongs to. Called on
// disconnect so no room references a destroyed connection.
func (rs *RoomSet) Purge(connID string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for roomID := range rs.byConn[connID] {
		rs.leaveLocked(connID, roomID)
	}
}

// IsMember reports whether the connection is subscribed to the room.
func (rs *RoomSet) IsMember(roomID, connID string) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	_, ok := rs.rooms[roomID][connID]
	return ok
}

// MembersOf returns the sorted connection IDs subscribed to the room.
func (rs *RoomSet) MembersOf(roomID string) []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	members := make([]string, 0, len(rs.rooms[roomID]))
	for connID := range rs.rooms[roomID] {
		members = append(members, connID)
	}
	slices.Sort(members)
	return members
}

// RoomsOf returns the sorted room IDs the connection is subscribed to.
func (rs *RoomSet) RoomsOf(connID string) []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	rooms := make([]string, 0, len(rs.byConn[connID]))
	for roomID := range rs.byConn[connID] {
		rooms = append(rooms, roomID)
	}
	slices.Sort(rooms)
	return rooms
}
