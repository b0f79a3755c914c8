package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/engine"
	"github.com/ashureev/tryon-orchestrator/internal/metrics"
	"github.com/ashureev/tryon-orchestrator/internal/store"
)

const (
	defaultSweepInterval = time.Minute
	probeTimeout         = 5 * time.Second
)

// Controller is the part of the engine controller the reaper drives.
type Controller interface {
	Status() engine.Status
	Stop(ctx context.Context) (engine.Status, error)
	StopOrphan(ctx context.Context) (bool, error)
}

// ReaperConfig configures the stale-session reaper.
type ReaperConfig struct {
	TTL      time.Duration
	Interval time.Duration
	Metrics  *metrics.Metrics
	// Probe, when set, is asked whether the engine is running while the
	// controller believes it idle; a running engine is then stopped through
	// the controller.
	Probe engine.Remote
	Now   func() time.Time
}

// Reaper stops the engine for sessions that went quiet, as a server-side
// backstop for lost SCREEN_CLOSED notices.
type Reaper struct {
	repo     store.Repository
	ctrl     Controller
	recorder *Recorder
	cfg      ReaperConfig
}

// NewReaper creates a reaper. It does nothing until Start.
func NewReaper(repo store.Repository, ctrl Controller, recorder *Recorder, cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reaper{repo: repo, ctrl: ctrl, recorder: recorder, cfg: cfg}
}

// Start runs the sweep loop until ctx is done.
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session reaper started", "interval", r.cfg.Interval, "ttl", r.cfg.TTL)

		for {
			select {
			case <-ticker.C:
				r.Sweep(ctx)
			case <-ctx.Done():
				slog.Info("Session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep runs one pass and returns how many sessions it closed.
func (r *Reaper) Sweep(ctx context.Context) int {
	r.probeOrphan(ctx)

	if r.cfg.TTL <= 0 {
		return 0
	}
	stale, err := r.repo.GetStaleSessions(ctx, r.cfg.TTL, r.cfg.Now())
	if err != nil {
		slog.Error("Session reaper failed to get stale sessions", "error", err)
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	slog.Info("Session reaper found stale sessions", "count", len(stale))
	closed := 0
	for _, session := range stale {
		// Mark abandoned first so the stop below does not record it as
		// completed.
		if r.recorder.Abandon(ctx, session.ID) {
			closed++
		}

		st := r.ctrl.Status()
		if st.SessionID != session.ID || st.State != domain.EngineActive {
			continue
		}

		slog.Info("Session reaper stopping engine", "session", session.ID, "last_seen_at", session.LastSeenAt)
		if _, err := r.ctrl.Stop(ctx); err != nil {
			slog.Error("Session reaper failed to stop engine", "error", err, "session", session.ID)
		}
		r.cfg.Metrics.SessionReaped()
	}

	slog.Info("Session reaper sweep completed", "closed", closed)
	return closed
}

// probeOrphan stops an engine that reports itself running while the
// controller believes it idle.
func (r *Reaper) probeOrphan(ctx context.Context) {
	if r.cfg.Probe == nil || r.ctrl.Status().State != domain.EngineIdle {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	running, err := r.cfg.Probe.Running(probeCtx)
	if err != nil {
		slog.Debug("Session reaper engine probe failed", "error", err)
		return
	}
	if !running {
		return
	}

	stopped, err := r.ctrl.StopOrphan(ctx)
	if err != nil {
		slog.Error("Session reaper failed to stop orphaned engine", "error", err)
	}
	if stopped {
		r.cfg.Metrics.SessionReaped()
	}
}
