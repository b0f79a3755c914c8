package bus

import (
	"log/slog"
	"sync"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/coder/websocket"
)

// Registry tracks the WebSocket connections attached to the relay, keyed by
// surface role and surface id.
type Registry struct {
	mu     sync.RWMutex
	active map[domain.SurfaceRole]map[string]*websocket.Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[domain.SurfaceRole]map[string]*websocket.Conn),
	}
}

// Get returns the connection for a surface, or nil.
func (r *Registry) Get(role domain.SurfaceRole, surfaceID string) *websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if conns, ok := r.active[role]; ok {
		return conns[surfaceID]
	}
	return nil
}

// Register adds conn for a surface. A previous connection for the same
// surface is closed: a reloaded window replaces its old socket.
func (r *Registry) Register(role domain.SurfaceRole, surfaceID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.active[role]; !exists {
		r.active[role] = make(map[string]*websocket.Conn)
	}

	if existing, exists := r.active[role][surfaceID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "surface replaced")
	}

	r.active[role][surfaceID] = conn
	slog.Info("Surface connected", "role", role, "surface_id", surfaceID)
}

// Unregister removes conn if it is still the current one for the surface.
func (r *Registry) Unregister(role domain.SurfaceRole, surfaceID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conns, ok := r.active[role]; ok {
		if current, exists := conns[surfaceID]; exists && current == conn {
			delete(conns, surfaceID)
			if len(conns) == 0 {
				delete(r.active, role)
			}
			slog.Info("Surface disconnected", "role", role, "surface_id", surfaceID)
		}
	}
}

// Count returns how many surfaces of role are connected.
func (r *Registry) Count(role domain.SurfaceRole) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active[role])
}

// CloseRole closes every connection of role.
func (r *Registry) CloseRole(role domain.SurfaceRole, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.active[role]
	if !ok {
		return
	}
	for id, conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, reason)
		slog.Info("Surface connection closed", "role", role, "surface_id", id)
	}
	delete(r.active, role)
}

// CloseAll closes every connection.
func (r *Registry) CloseAll(reason string) {
	r.mu.RLock()
	roles := make([]domain.SurfaceRole, 0, len(r.active))
	for role := range r.active {
		roles = append(roles, role)
	}
	r.mu.RUnlock()

	for _, role := range roles {
		r.CloseRole(role, reason)
	}
}
