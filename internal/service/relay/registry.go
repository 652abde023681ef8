package relay

import "sync"

// Conn is one live client connection.
// Send must not block on the network; implementations queue the frame.
type Conn interface {
	ID() string
	Send(frame Frame) error
	Close() error
}

// Registry maps participant ids to their current connection.
// The last join for an id wins. One connection may hold several ids,
// the first one it joined is its primary id.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Conn     // participant id -> conn
	joined map[string][]string // conn id -> participant ids, join order
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]Conn),
		joined: make(map[string][]string),
	}
}

// Join maps participantID to conn and returns the connection it replaced, if any.
// Re-joining with the same connection is a no-op.
func (r *Registry) Join(participantID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, had := r.conns[participantID]
	if had && prev.ID() == conn.ID() {
		return nil
	}
	if had {
		r.dropID(prev.ID(), participantID)
	}
	r.conns[participantID] = conn
	r.joined[conn.ID()] = append(r.joined[conn.ID()], participantID)
	if had {
		return prev
	}
	return nil
}

// Leave removes every id still pointing at conn and returns them.
// Ids already taken over by a newer connection are untouched.
func (r *Registry) Leave(conn Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.joined[conn.ID()]
	delete(r.joined, conn.ID())
	for _, id := range ids {
		if cur, ok := r.conns[id]; ok && cur.ID() == conn.ID() {
			delete(r.conns, id)
		}
	}
	return ids
}

func (r *Registry) Lookup(participantID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[participantID]
	return conn, ok
}

// IDs returns the ids held by conn in join order.
func (r *Registry) IDs(conn Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.joined[conn.ID()]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Primary returns the first id conn joined, "" before any join.
func (r *Registry) Primary(conn Conn) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ids := r.joined[conn.ID()]; len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// Owns reports whether participantID currently maps to conn.
func (r *Registry) Owns(conn Conn, participantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cur, ok := r.conns[participantID]
	return ok && cur.ID() == conn.ID()
}

// Len is the number of registered participant ids.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// dropID must be called with mu held.
func (r *Registry) dropID(connID, participantID string) {
	ids := r.joined[connID]
	for i, id := range ids {
		if id == participantID {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.joined, connID)
		return
	}
	r.joined[connID] = ids
}
