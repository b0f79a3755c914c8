package domain

import (
	"time"
)

// SessionStatus is the persisted outcome of a try-on session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
)

// SelectionRecord is one garment put on during a session.
type SelectionRecord struct {
	SessionID string
	GarmentID string
	Name      string
	Category  string
	Region    Region
	TriedAt   time.Time
}

// TryOnSession is the history record of one try-on experience, from the
// confirmed engine start until the customer surface goes away.
type TryOnSession struct {
	ID            string        `json:"id"`
	OutletID      string        `json:"outlet_id,omitempty"`
	KioskID       string        `json:"kiosk_id,omitempty"`
	Status        SessionStatus `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	EndedAt       time.Time     `json:"ended_at,omitzero"`
	LastSeenAt    time.Time     `json:"last_seen_at"`
	ProductsTried int           `json:"products_tried_count"`
}

// IsActive returns true while the session has not been closed.
func (s *TryOnSession) IsActive() bool {
	return s.Status == SessionActive
}

// Duration returns how long the session lasted, or has lasted so far.
func (s *TryOnSession) Duration(now time.Time) time.Duration {
	end := s.EndedAt
	if end.IsZero() {
		end = now
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}

// Expired reports whether the session saw no activity within ttl.
func (s *TryOnSession) Expired(now time.Time, ttl time.Duration) bool {
	return s.IsActive() && now.Sub(s.LastSeenAt) > ttl
}

// CategoryCount is one row of the category breakdown.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Analytics summarises sessions over a period.
type Analytics struct {
	PeriodDays         int             `json:"period_days"`
	TotalSessions      int             `json:"total_sessions"`
	CompletionRate     float64         `json:"completion_rate"`
	AvgDurationSeconds float64         `json:"avg_duration_seconds"`
	TotalProductsTried int             `json:"total_products_tried"`
	CategoryBreakdown  []CategoryCount `json:"category_breakdown"`
}
