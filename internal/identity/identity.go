// Package identity attaches surface identity to requests: which side of the
// try-on experience is calling, which window it is, and which session it
// belongs to.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/google/uuid"
)

const (
	RoleHeaderName    = "X-Tryon-Role"
	SurfaceHeaderName = "X-Tryon-Surface-ID"
	SessionHeaderName = "X-Tryon-Session-ID"
)

type contextKey int

const (
	roleKey contextKey = iota
	surfaceIDKey
	sessionIDKey
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RoleFromContext extracts the surface role from the request context.
func RoleFromContext(ctx context.Context) domain.SurfaceRole {
	if v, ok := ctx.Value(roleKey).(domain.SurfaceRole); ok {
		return v
	}
	return domain.RoleObserver
}

// SurfaceIDFromContext extracts the surface id from the request context.
func SurfaceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(surfaceIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the try-on session id, or "".
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSurface returns ctx carrying the given identity.
func WithSurface(ctx context.Context, role domain.SurfaceRole, surfaceID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, roleKey, role)
	ctx = context.WithValue(ctx, surfaceIDKey, surfaceID)
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !idPattern.MatchString(id) {
		return ""
	}
	return id
}

// fromRequest reads a value from its header, falling back to a query
// parameter since browsers cannot set headers on WebSocket upgrades.
func fromRequest(r *http.Request, header, query string) string {
	v := r.Header.Get(header)
	if v == "" {
		v = r.URL.Query().Get(query)
	}
	return v
}

// Middleware injects surface identity into the request context. Surfaces
// that do not name themselves get a fresh random id.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := domain.ParseRole(fromRequest(r, RoleHeaderName, "role"))

		surfaceID := sanitizeID(fromRequest(r, SurfaceHeaderName, "surface_id"))
		if surfaceID == "" {
			surfaceID = string(role) + "-" + uuid.NewString()
		}
		sessionID := sanitizeID(fromRequest(r, SessionHeaderName, "session"))

		next.ServeHTTP(w, r.WithContext(WithSurface(r.Context(), role, surfaceID, sessionID)))
	})
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
