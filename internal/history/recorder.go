// Package history persists what happened during try-on sessions and reaps the
// ones nobody closed.
package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/bus"
	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/engine"
	"github.com/ashureev/tryon-orchestrator/internal/selection"
	"github.com/ashureev/tryon-orchestrator/internal/store"
)

const writeTimeout = 5 * time.Second

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	OutletID string
	KioskID  string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Recorder writes session history from controller transitions and bus
// traffic. Persistence failures are logged, never propagated: history must
// not get in the way of the try-on itself.
type Recorder struct {
	repo     store.Repository
	outletID string
	kioskID  string
	now      func() time.Time
}

// NewRecorder creates a recorder over repo.
func NewRecorder(repo store.Repository, cfg RecorderConfig) *Recorder {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recorder{repo: repo, outletID: cfg.OutletID, kioskID: cfg.KioskID, now: cfg.Now}
}

// Open records a newly opened session. It has the shape of a lifecycle
// open hook and never fails the launch.
func (r *Recorder) Open(ctx context.Context, st engine.Status) error {
	now := r.now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	err := r.repo.CreateSession(ctx, &domain.TryOnSession{
		ID:         st.SessionID,
		OutletID:   r.outletID,
		KioskID:    r.kioskID,
		Status:     domain.SessionActive,
		StartedAt:  now,
		LastSeenAt: now,
	})
	if err != nil {
		slog.Error("Failed to record session start", "error", err, "session", st.SessionID)
		return nil
	}
	slog.Info("Session recorded", "session", st.SessionID)
	return nil
}

// ObserveTransition closes the session when the engine returns to Idle. It
// has the shape of an engine.ObserverFunc.
func (r *Recorder) ObserveTransition(prev, next engine.Status) {
	if next.State != domain.EngineIdle || prev.SessionID == "" {
		return
	}
	if prev.State != domain.EngineActive && prev.State != domain.EngineStopping {
		return
	}
	r.end(prev.SessionID, domain.SessionCompleted)
}

// Listen records selections seen on b until the returned function is called.
func (r *Recorder) Listen(b bus.Bus) (stop func()) {
	return b.Subscribe(func(ctx context.Context, msg domain.Message) {
		if msg.Type != domain.MsgSelectItem || msg.Session == "" {
			return
		}
		g, err := msg.Garment()
		if err != nil {
			slog.Warn("Ignoring malformed SELECT_ITEM", "error", err)
			return
		}
		region, _ := selection.Classify(g)

		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		err = r.repo.RecordSelection(writeCtx, domain.SelectionRecord{
			SessionID: msg.Session,
			GarmentID: g.ID,
			Name:      g.Name,
			Category:  g.Category,
			Region:    region,
			TriedAt:   r.now(),
		})
		if err != nil && !errors.Is(err, store.ErrSessionClosed) {
			slog.Error("Failed to record selection", "error", err, "session", msg.Session)
		}
	})
}

// Touch marks the session as alive. It has the shape of a relay activity
// hook.
func (r *Recorder) Touch(session string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.TouchSession(ctx, session, r.now()); err != nil {
		slog.Warn("Failed to touch session", "error", err, "session", session)
	}
}

// Abandon marks the session abandoned. It reports whether this call closed
// it.
func (r *Recorder) Abandon(ctx context.Context, session string) bool {
	return r.endContext(ctx, session, domain.SessionAbandoned)
}

func (r *Recorder) end(session string, status domain.SessionStatus) {
	r.endContext(context.Background(), session, status)
}

func (r *Recorder) endContext(ctx context.Context, session string, status domain.SessionStatus) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	err := r.repo.EndSession(ctx, session, status, r.now())
	if errors.Is(err, store.ErrSessionClosed) {
		return false
	}
	if err != nil {
		slog.Error("Failed to close session", "error", err, "session", session, "status", status)
		return false
	}
	slog.Info("Session closed", "session", session, "status", status)
	return true
}
