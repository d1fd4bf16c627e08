package websocket

import (
	"log/slog"
	"sync"

	"localboard/pkg/interfaces"
	"localboard/pkg/logger"
)

// EvictionHandler runs after a connection has been displaced by a newer
// registration for the same user. The old connection is already dead.
type EvictionHandler func(old interfaces.Connection)

// deadMarker is implemented by connections that can stop delivery before
// their transport is torn down
type deadMarker interface {
	MarkDead()
}

// Registry enforces a single live connection per user identity
// ARCHITECTURAL DISCOVERY: Pure connection tracking; room membership lives in
// the router and is reached only through the eviction hook
type Registry struct {
	mu          sync.RWMutex
	connections map[string]interfaces.Connection // userID -> Connection
	onEvict     EvictionHandler
	evictions   int
	log         *slog.Logger
}

var _ interfaces.SessionRegistry = (*Registry)(nil)

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		log:         logger.With("component", "registry"),
	}
}

// SetEvictionHandler installs the hook run for every evicted connection
func (r *Registry) SetEvictionHandler(fn EvictionHandler) {
	r.mu.Lock()
	r.onEvict = fn
	r.mu.Unlock()
}

// Register installs conn for its user. A previous connection for the same
// user is marked dead before the lock is released, handed to the eviction
// hook, and closed in the background.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	userID := conn.UserID()
	if userID == "" {
		return ErrConnectionNotAuthenticated
	}
	if !conn.IsAlive() {
		return ErrConnectionDead
	}

	r.mu.Lock()
	old, exists := r.connections[userID]
	if exists && old.ID() == conn.ID() {
		r.mu.Unlock()
		return nil
	}
	if exists {
		kill(old)
		r.evictions++
	}
	r.connections[userID] = conn
	hook := r.onEvict
	r.mu.Unlock()

	if exists {
		r.log.Info("connection_evicted", "user", userID, "old", old.ID(), "new", conn.ID())
		if hook != nil {
			hook(old)
		}
		// Close asynchronously so a slow socket teardown never blocks the
		// new session
		go func() {
			if err := old.Close(); err != nil {
				r.log.Debug("evicted_close_failed", "user", userID, "error", err)
			}
		}()
	}
	return nil
}

// kill stops delivery to conn synchronously
func kill(conn interfaces.Connection) {
	if dm, ok := conn.(deadMarker); ok {
		dm.MarkDead()
		return
	}
	_ = conn.Close()
}

// Unregister removes conn only if it is still the registered connection for
// its user. Cleanup from an evicted connection is therefore a no-op.
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	userID := conn.UserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.connections[userID]
	if !exists || registered.ID() != conn.ID() {
		return
	}
	delete(r.connections, userID)
}

// Lookup returns the live connection for a user
func (r *Registry) Lookup(userID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[userID]
	if !exists || !conn.IsAlive() {
		return nil, false
	}
	return conn, true
}

// Count returns the number of registered connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"evictions":         r.evictions,
	}
}
