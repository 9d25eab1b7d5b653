package telemetry

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// ConnectionInfo is a snapshot of one registered connection.
type ConnectionInfo struct {
	ID         string    `json:"id"`
	Username   string    `json:"username,omitempty"`
	Controller int64     `json:"controller,omitempty"`
	OpenedAt   time.Time `json:"opened_at"`
}

// ConnectionRegistry tracks every open streaming connection and which
// connection, if any, belongs to each brewhouse controller.
type ConnectionRegistry struct {
	mu          sync.RWMutex
	conns       map[string]*Connection
	controllers map[int64]*Connection
	bound       map[*Connection]int64
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:       make(map[string]*Connection),
		controllers: make(map[int64]*Connection),
		bound:       make(map[*Connection]int64),
	}
}

// Register adds a connection.
func (r *ConnectionRegistry) Register(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID]; ok {
		return
	}
	r.conns[c.ID] = c
	connectionsActive.Inc()
}

// Unregister removes a connection and its controller binding, if it still
// holds one. Returns false if the connection was not registered.
func (r *ConnectionRegistry) Unregister(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.ID]; !ok {
		return false
	}
	delete(r.conns, c.ID)
	connectionsActive.Dec()

	if brewhouse, ok := r.bound[c]; ok {
		delete(r.bound, c)
		if r.controllers[brewhouse] == c {
			delete(r.controllers, brewhouse)
			controllersBound.Dec()
		}
	}
	return true
}

// BindController records c as the connection of the brewhouse controller.
// A previous binding for the same brewhouse is replaced and returned; the
// previous connection is left open.
func (r *ConnectionRegistry) BindController(brewhouse int64, c *Connection) (replaced *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.bound[c]; ok && prev != brewhouse {
		if r.controllers[prev] == c {
			delete(r.controllers, prev)
			controllersBound.Dec()
		}
	}

	old, had := r.controllers[brewhouse]
	if had && old != c {
		delete(r.bound, old)
		replaced = old
	}
	if !had {
		controllersBound.Inc()
	}
	r.controllers[brewhouse] = c
	r.bound[c] = brewhouse
	return replaced
}

// LookupByController returns the connection bound to the brewhouse.
func (r *ConnectionRegistry) LookupByController(brewhouse int64) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[brewhouse]
	return c, ok
}

// Get returns a registered connection by id.
func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Connections returns a snapshot of the registered connections.
func (r *ConnectionRegistry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// List returns a snapshot of all registered connections, oldest first.
func (r *ConnectionRegistry) List() []ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConnectionInfo, 0, len(r.conns))
	for _, c := range r.conns {
		info := ConnectionInfo{
			ID:       c.ID,
			Username: c.principal.Username,
			OpenedAt: c.OpenedAt,
		}
		if r.controllers[r.bound[c]] == c {
			info.Controller = r.bound[c]
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b ConnectionInfo) int {
		if c := a.OpenedAt.Compare(b.OpenedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Count returns the number of connections and bound controllers.
func (r *ConnectionRegistry) Count() (connections, controllers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns), len(r.controllers)
}
