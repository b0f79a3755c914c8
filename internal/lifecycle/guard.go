// Package lifecycle ties surface lifetimes to the engine: whichever side goes
// away, the engine is stopped and the other side is told.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/bus"
	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/engine"
)

const stopOnCloseTimeout = 30 * time.Second

// OpenFunc opens the customer surface for a confirmed engine start.
type OpenFunc func(ctx context.Context, st engine.Status) error

// OperatorGuard is the operator side of the close protocol.
type OperatorGuard struct {
	ctrl *engine.Controller
	bus  bus.Bus
	open OpenFunc

	unsubscribe func()

	mu         sync.Mutex
	openedFor  string
	shutdown   bool
	stopsAsked int
}

// NewOperatorGuard subscribes to SCREEN_CLOSED on b. open may be nil.
func NewOperatorGuard(ctrl *engine.Controller, b bus.Bus, open OpenFunc) *OperatorGuard {
	g := &OperatorGuard{ctrl: ctrl, bus: b, open: open}
	g.unsubscribe = b.Subscribe(g.handle)
	return g
}

func (g *OperatorGuard) handle(ctx context.Context, msg domain.Message) {
	if msg.Type != domain.MsgScreenClosed {
		return
	}
	st := g.ctrl.Status()
	if !msg.InSession(st.SessionID) {
		slog.Debug("Ignoring SCREEN_CLOSED for another session", "session", msg.Session, "current", st.SessionID)
		return
	}

	slog.Info("Customer surface closed, stopping engine", "session", msg.Session, "state", st.State)
	g.mu.Lock()
	g.stopsAsked++
	g.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(ctx, stopOnCloseTimeout)
	defer cancel()
	if _, err := g.ctrl.Stop(stopCtx); err != nil {
		slog.Warn("Engine stop after screen close reported an error", "error", err)
	}
}

// Launch starts the engine and opens the customer surface only once the
// start is confirmed. If the surface cannot be opened the engine is stopped
// again so it never runs without a consumer.
func (g *OperatorGuard) Launch(ctx context.Context) (engine.Status, error) {
	st, err := g.ctrl.Start(ctx)
	if err != nil {
		return st, err
	}
	if st.State != domain.EngineActive {
		return st, nil
	}

	g.mu.Lock()
	already := g.openedFor == st.SessionID
	g.openedFor = st.SessionID
	g.mu.Unlock()
	if already || g.open == nil {
		return st, nil
	}

	if err := g.open(ctx, st); err != nil {
		slog.Error("Failed to open customer surface, stopping engine", "error", err, "session", st.SessionID)
		g.mu.Lock()
		g.openedFor = ""
		g.mu.Unlock()
		stopped, stopErr := g.ctrl.Stop(ctx)
		if stopErr != nil {
			slog.Warn("Engine stop after failed open reported an error", "error", stopErr)
		}
		return stopped, fmt.Errorf("open customer surface: %w", err)
	}
	return st, nil
}

// RequestStop is the operator's explicit stop. CLOSE_SCREEN goes out even
// when this call did not take the engine down itself, so a stray customer
// surface closes.
func (g *OperatorGuard) RequestStop(ctx context.Context) (engine.Status, error) {
	st, announced, err := g.ctrl.StopWithNotice(ctx)
	if !announced {
		if pubErr := g.bus.Publish(ctx, domain.NewCloseScreen("")); pubErr != nil {
			slog.Warn("Failed to publish CLOSE_SCREEN", "error", pubErr)
		}
	}
	return st, err
}

// StopRequests returns how many SCREEN_CLOSED notices reached the guard.
func (g *OperatorGuard) StopRequests() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopsAsked
}

// Shutdown is the operator surface going away: stop listening and stop the
// engine.
func (g *OperatorGuard) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if g.shutdown {
		g.mu.Unlock()
		return nil
	}
	g.shutdown = true
	g.mu.Unlock()

	g.unsubscribe()
	_, err := g.ctrl.Stop(ctx)
	return err
}
