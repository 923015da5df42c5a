package realtime

import (
	"sort"
	"sync"

	"github.com/okian/parcelcast/internal/domain/event"
	"github.com/okian/parcelcast/internal/domain/identity"
)

// Registry is the local, bidirectional room membership index. It is owned by
// one Gateway and never shared across processes.
type Registry struct {
	mu    sync.RWMutex
	rooms map[event.Room]map[string]struct{}
	conns map[string]map[event.Room]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[event.Room]map[string]struct{}),
		conns: make(map[string]map[event.Room]struct{}),
	}
}

// Join adds connID to room. Returns false if it was already a member.
func (r *Registry) Join(connID string, room event.Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	if _, dup := members[connID]; dup {
		return false
	}
	members[connID] = struct{}{}

	rooms, ok := r.conns[connID]
	if !ok {
		rooms = make(map[event.Room]struct{})
		r.conns[connID] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

// Leave removes connID from room. Returns false if it was not a member.
func (r *Registry) Leave(connID string, room event.Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(connID, room)
}

func (r *Registry) leaveLocked(connID string, room event.Room) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[connID]; !ok {
		return false
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	if rooms, ok := r.conns[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.conns, connID)
		}
	}
	return true
}

// DropConnection removes connID from every room and returns the rooms it left.
func (r *Registry) DropConnection(connID string) []event.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make([]event.Room, 0, len(r.conns[connID]))
	for room := range r.conns[connID] {
		rooms = append(rooms, room)
	}
	for _, room := range rooms {
		r.leaveLocked(connID, room)
	}
	delete(r.conns, connID)
	sortRooms(rooms)
	return rooms
}

// MembersOf returns the connections joined to room, sorted.
func (r *Registry) MembersOf(room event.Room) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RoomsOf returns the rooms connID belongs to, sorted.
func (r *Registry) RoomsOf(connID string) []event.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]event.Room, 0, len(r.conns[connID]))
	for room := range r.conns[connID] {
		rooms = append(rooms, room)
	}
	sortRooms(rooms)
	return rooms
}

// union returns every connection in any of rooms, each once.
func (r *Registry) union(rooms []event.Room) map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]struct{})
	for _, room := range rooms {
		for id := range r.rooms[room] {
			out[id] = struct{}{}
		}
	}
	return out
}

// Len returns the number of non-empty rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func sortRooms(rooms []event.Room) {
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
}

// AutoRooms returns the rooms a freshly authenticated connection joins:
// admins and managers share the admin room, drivers get their own room.
func AutoRooms(id identity.Identity) []event.Room {
	switch id.Role {
	case identity.Admin, identity.Manager:
		return []event.Room{event.Admin}
	case identity.Driver:
		return []event.Room{event.DriverRoom(id.UserID)}
	default:
		return nil
	}
}
