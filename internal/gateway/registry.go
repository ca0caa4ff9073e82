package gateway

import (
	"log"
	"sync"
)

// Registry tracks the current connection per player. A player holds at
// most one live connection; a reconnect (page reload) replaces the old
// one, which is closed asynchronously to avoid holding the lock across
// a network teardown.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection // playerID -> Connection
}

func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]*Connection)}
}

// Register adds an authenticated connection, replacing and closing any
// previous connection for the same player.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrUnauthenticatedConn
	}

	playerID := conn.Player().ID

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.connections[playerID]; ok && existing != conn {
		go func() {
			if err := existing.Close(); err != nil {
				log.Printf("failed to close replaced connection: player=%s err=%v", playerID, err)
			}
		}()
	}
	r.connections[playerID] = conn
	return nil
}

// Unregister removes the connection if it is still the one registered
// for its player. Idempotent, and a stale connection can never evict
// the newer one that replaced it.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}
	playerID := conn.Player().ID

	r.mu.Lock()
	defer r.mu.Unlock()

	if registered, ok := r.connections[playerID]; ok && registered == conn {
		delete(r.connections, playerID)
	}
}

// Get returns the live connection for a player, if any.
func (r *Registry) Get(playerID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[playerID]
	return conn, ok
}

// Count reports how many connections are registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
