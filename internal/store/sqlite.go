package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

const defaultListLimit = 50

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS tryon_sessions (
		session_id TEXT PRIMARY KEY,
		outlet_id TEXT,
		kiosk_id TEXT,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		last_seen_at INTEGER NOT NULL,
		products_tried INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON tryon_sessions(started_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_active_seen ON tryon_sessions(last_seen_at) WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS session_selections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES tryon_sessions(session_id) ON DELETE CASCADE,
		garment_id TEXT NOT NULL,
		name TEXT,
		category TEXT,
		region TEXT NOT NULL,
		tried_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_selections_session ON session_selections(session_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession records a new active session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.TryOnSession) error {
	query := `
	INSERT INTO tryon_sessions (session_id, outlet_id, kiosk_id, status, started_at, last_seen_at, products_tried)
	VALUES (?, ?, ?, ?, ?, ?, 0)`

	lastSeen := session.LastSeenAt
	if lastSeen.IsZero() {
		lastSeen = session.StartedAt
	}
	status := session.Status
	if status == "" {
		status = domain.SessionActive
	}

	return withRetry(ctx, "create_session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.ID, nullString(session.OutletID), nullString(session.KioskID),
			string(status), session.StartedAt.Unix(), lastSeen.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.TryOnSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM tryon_sessions WHERE session_id = ?`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// TouchSession moves last_seen_at forward for an active session.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	query := `
	UPDATE tryon_sessions SET last_seen_at = MAX(last_seen_at, ?)
	WHERE session_id = ? AND status = 'active'`

	return withRetry(ctx, "touch_session", func() error {
		if _, err := s.db.ExecContext(ctx, query, at.Unix(), sessionID); err != nil {
			return fmt.Errorf("update last_seen: %w", err)
		}
		return nil
	})
}

// RecordSelection stores a garment tried during an active session.
func (s *SQLiteStore) RecordSelection(ctx context.Context, rec domain.SelectionRecord) error {
	return withRetry(ctx, "record_selection", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Debug("Rollback failed", "error", rbErr)
			}
		}()

		result, err := tx.ExecContext(ctx, `
			UPDATE tryon_sessions
			SET products_tried = products_tried + 1, last_seen_at = MAX(last_seen_at, ?)
			WHERE session_id = ? AND status = 'active'`,
			rec.TriedAt.Unix(), rec.SessionID)
		if err != nil {
			return fmt.Errorf("update products_tried: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrSessionClosed
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_selections (session_id, garment_id, name, category, region, tried_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.SessionID, rec.GarmentID, nullString(rec.Name), nullString(rec.Category),
			string(rec.Region), rec.TriedAt.Unix()); err != nil {
			return fmt.Errorf("insert selection: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit selection: %w", err)
		}
		return nil
	})
}

// EndSession closes an active session.
func (s *SQLiteStore) EndSession(ctx context.Context, sessionID string, status domain.SessionStatus, endedAt time.Time) error {
	query := `
	UPDATE tryon_sessions SET status = ?, ended_at = ?
	WHERE session_id = ? AND status = 'active'`

	return withRetry(ctx, "end_session", func() error {
		result, err := s.db.ExecContext(ctx, query, string(status), endedAt.Unix(), sessionID)
		if err != nil {
			return fmt.Errorf("end session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			slog.Debug("EndSession affected 0 rows", "session_id", sessionID, "status", status)
			return ErrSessionClosed
		}
		return nil
	})
}

// ListSessions returns the most recent sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*domain.TryOnSession, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + sessionColumns + ` FROM tryon_sessions ORDER BY started_at DESC, session_id LIMIT ?`
	return s.querySessions(ctx, query, limit)
}

// GetStaleSessions returns active sessions with no activity within ttl.
func (s *SQLiteStore) GetStaleSessions(ctx context.Context, ttl time.Duration, now time.Time) ([]*domain.TryOnSession, error) {
	cutoff := now.Add(-ttl).Unix()
	query := `SELECT ` + sessionColumns + ` FROM tryon_sessions WHERE status = 'active' AND last_seen_at < ?`
	return s.querySessions(ctx, query, cutoff)
}

// Analytics summarises sessions started in the last days.
func (s *SQLiteStore) Analytics(ctx context.Context, days int, now time.Time) (*domain.Analytics, error) {
	if days <= 0 {
		days = 30
	}
	since := now.AddDate(0, 0, -days).Unix()

	var total, completed, tried sql.NullInt64
	var avgDuration sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
		       SUM(products_tried),
		       AVG(CASE WHEN ended_at IS NOT NULL THEN ended_at - started_at END)
		FROM tryon_sessions WHERE started_at >= ?`, since,
	).Scan(&total, &completed, &tried, &avgDuration)
	if err != nil {
		return nil, fmt.Errorf("query session totals: %w", err)
	}

	a := &domain.Analytics{
		PeriodDays:         days,
		TotalSessions:      int(total.Int64),
		TotalProductsTried: int(tried.Int64),
		AvgDurationSeconds: math.Round(avgDuration.Float64*10) / 10,
		CategoryBreakdown:  []domain.CategoryCount{},
	}
	if a.TotalSessions > 0 {
		a.CompletionRate = math.Round(float64(completed.Int64)/float64(a.TotalSessions)*1000) / 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(sel.category, ''), 'Uncategorized') AS cat, COUNT(*) AS n
		FROM session_selections sel
		JOIN tryon_sessions ses ON ses.session_id = sel.session_id
		WHERE ses.started_at >= ?
		GROUP BY cat ORDER BY n DESC, cat`, since)
	if err != nil {
		return nil, fmt.Errorf("query category breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c domain.CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, fmt.Errorf("scan category row: %w", err)
		}
		a.CategoryBreakdown = append(a.CategoryBreakdown, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category rows: %w", err)
	}
	return a, nil
}

const sessionColumns = `session_id, outlet_id, kiosk_id, status, started_at, ended_at, last_seen_at, products_tried`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.TryOnSession, error) {
	var session domain.TryOnSession
	var outletID, kioskID sql.NullString
	var status string
	var startedAt, lastSeen int64
	var endedAt sql.NullInt64

	if err := row.Scan(
		&session.ID, &outletID, &kioskID, &status,
		&startedAt, &endedAt, &lastSeen, &session.ProductsTried,
	); err != nil {
		return nil, err
	}

	session.OutletID = outletID.String
	session.KioskID = kioskID.String
	session.Status = domain.SessionStatus(status)
	session.StartedAt = time.Unix(startedAt, 0)
	session.LastSeenAt = time.Unix(lastSeen, 0)
	if endedAt.Valid {
		session.EndedAt = time.Unix(endedAt.Int64, 0)
	}
	return &session, nil
}

func (s *SQLiteStore) querySessions(ctx context.Context, query string, args ...any) ([]*domain.TryOnSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.TryOnSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return sessions, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
