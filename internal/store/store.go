// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
)

// ErrSessionClosed is returned when a closed session is modified.
var ErrSessionClosed = errors.New("session already closed")

// Repository defines the interface for persisting try-on session history.
type Repository interface {
	// CreateSession records a new active session.
	CreateSession(ctx context.Context, session *domain.TryOnSession) error

	// GetSession retrieves a session by id. It returns nil, nil when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.TryOnSession, error)

	// TouchSession moves last_seen_at forward for an active session.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// RecordSelection stores a garment tried during an active session.
	RecordSelection(ctx context.Context, rec domain.SelectionRecord) error

	// EndSession closes an active session with status. Closing a session
	// that is already closed returns ErrSessionClosed.
	EndSession(ctx context.Context, sessionID string, status domain.SessionStatus, endedAt time.Time) error

	// ListSessions returns the most recent sessions, newest first.
	ListSessions(ctx context.Context, limit int) ([]*domain.TryOnSession, error)

	// GetStaleSessions returns active sessions with no activity within ttl.
	GetStaleSessions(ctx context.Context, ttl time.Duration, now time.Time) ([]*domain.TryOnSession, error)

	// Analytics summarises sessions started in the last days.
	Analytics(ctx context.Context, days int, now time.Time) (*domain.Analytics, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
