// Package realtime tracks which connections are viewing which board and
// fans change notifications out to them. Membership lives only in
// process memory; it is rebuilt from join events after a restart.
package realtime

import "sync"

// Registry maps board identifiers to the set of connections currently
// viewing them. A connection occupies at most one room at a time; every
// operation is atomic with respect to the others.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]map[string]struct{}
	byConn map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]struct{}),
		byConn: make(map[string]string),
	}
}

// Join places the connection in the room for boardID, removing it from
// any room it previously occupied.
func (r *Registry) Join(connID, boardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID)
	room := r.rooms[boardID]
	if room == nil {
		room = make(map[string]struct{})
		r.rooms[boardID] = room
	}
	room[connID] = struct{}{}
	r.byConn[connID] = boardID
}

// Leave removes the connection from whatever room it occupies. Leaving
// while not in a room is a no-op.
func (r *Registry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(connID)
}

// OnDisconnect is invoked by the transport when a connection terminates
// abnormally. It is idempotent with an explicit Leave.
func (r *Registry) OnDisconnect(connID string) { r.Leave(connID) }

// Members returns a snapshot of the connection ids in the room for
// boardID. An empty room yields an empty slice.
func (r *Registry) Members(boardID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.rooms[boardID]
	out := make([]string, 0, len(room))
	for id := range room {
		out = append(out, id)
	}
	return out
}

func (r *Registry) leaveLocked(connID string) {
	boardID, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	room := r.rooms[boardID]
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, boardID)
	}
}
