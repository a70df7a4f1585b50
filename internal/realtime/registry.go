package realtime

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Join rejections.
var (
	ErrAlreadyJoined = errors.New("client already joined a room")
	ErrClientClosed  = errors.New("client is closed")
)

// Registry maps conversation ids to the set of clients listening on them.
// A client belongs to at most one room for its whole life.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	members map[*Client]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]map[*Client]struct{}),
		members: make(map[*Client]string),
	}
}

// Join adds c to the room of its conversation, creating the room on demand.
func (r *Registry) Join(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.isClosed() {
		return ErrClientClosed
	}
	if _, ok := r.members[c]; ok {
		return ErrAlreadyJoined
	}
	room, ok := r.rooms[c.ConversationID]
	if !ok {
		room = make(map[*Client]struct{})
		r.rooms[c.ConversationID] = room
	}
	room[c] = struct{}{}
	r.members[c] = c.ConversationID
	r.updateGauges()
	return nil
}

// Leave removes c and drops its room once empty. It reports whether c was a
// member.
func (r *Registry) Leave(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.members[c]
	if !ok {
		return false
	}
	delete(r.members, c)
	if room := r.rooms[id]; room != nil {
		delete(room, c)
		if len(room) == 0 {
			delete(r.rooms, id)
		}
	}
	r.updateGauges()
	return true
}

// RoomSize returns the number of clients in conversationID's room.
func (r *Registry) RoomSize(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[conversationID])
}

// Rooms returns the ids of all non-empty rooms, sorted.
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether c is currently in a room.
func (r *Registry) Contains(c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[c]
	return ok
}

// Clients returns a snapshot of every joined client.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.members))
	for c := range r.members {
		out = append(out, c)
	}
	return out
}

// each calls fn for every client in the room while holding the read lock.
// fn must not block or call back into the registry.
func (r *Registry) each(conversationID string, fn func(*Client)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.rooms[conversationID] {
		fn(c)
	}
}

// updateGauges must be called with the write lock held.
func (r *Registry) updateGauges() {
	connectionsActive.Set(float64(len(r.members)))
	roomsActive.Set(float64(len(r.rooms)))
}
