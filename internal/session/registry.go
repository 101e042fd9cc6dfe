package session

import "sync"

// Registry tracks, per opaque client id, connection liveness and the rooms
// the client has joined. It exists so disconnect cleanup scans only the
// client's own memberships instead of every live room.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]map[string]struct{}
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]map[string]struct{})}
}

// Connect records a live connection with no room memberships yet.
func (r *Registry) Connect(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[clientID]; !ok {
		r.clients[clientID] = make(map[string]struct{})
	}
}

// Connected reports whether the client has a live registry entry.
func (r *Registry) Connected(clientID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.clients[clientID]
	return ok
}

// Track records that the client joined a room.
func (r *Registry) Track(clientID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	memberships, ok := r.clients[clientID]
	if !ok {
		memberships = make(map[string]struct{})
		r.clients[clientID] = memberships
	}
	memberships[roomID] = struct{}{}
}

// Untrack records that the client left a room.
func (r *Registry) Untrack(clientID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if memberships, ok := r.clients[clientID]; ok {
		delete(memberships, roomID)
	}
}

// RoomsOf returns the rooms the client currently belongs to.
func (r *Registry) RoomsOf(clientID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	memberships := r.clients[clientID]
	if len(memberships) == 0 {
		return nil
	}
	rooms := make([]string, 0, len(memberships))
	for roomID := range memberships {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// Disconnect drops the client's entry. The coordinator calls this only after
// every leave-equivalent cleanup for the client has finished.
func (r *Registry) Disconnect(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, clientID)
}
