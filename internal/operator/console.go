// Package operator assembles the store operator's side of the try-on
// experience.
package operator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/tryon-orchestrator/internal/bus"
	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/engine"
	"github.com/ashureev/tryon-orchestrator/internal/lifecycle"
	"github.com/ashureev/tryon-orchestrator/internal/selection"
)

// Snapshot is what the operator UI renders.
type Snapshot struct {
	Engine    engine.Status   `json:"engine"`
	Banner    engine.Banner   `json:"banner"`
	Selection selection.Slots `json:"selection"`
}

// Console is the operator surface: engine control, the close protocol and
// the operator's copy of the worn garments.
type Console struct {
	ctrl      *engine.Controller
	guard     *lifecycle.OperatorGuard
	selection *selection.Synchronizer
	bus       bus.Bus

	unsubscribe func()
}

// NewConsole wires a console onto b. open is called once per confirmed
// engine start to bring up the customer surface.
func NewConsole(remote engine.Remote, b bus.Bus, cfg engine.Config, open lifecycle.OpenFunc) *Console {
	ctrl := engine.NewController(remote, b, cfg)
	c := &Console{
		ctrl:      ctrl,
		guard:     lifecycle.NewOperatorGuard(ctrl, b, open),
		selection: selection.NewSynchronizer(),
		bus:       b,
	}
	ctrl.OnChange(func(prev, next engine.Status) {
		if next.State == domain.EngineIdle && prev.State != domain.EngineIdle {
			c.selection.Reset()
		}
	})
	c.unsubscribe = b.Subscribe(c.handle)
	return c
}

func (c *Console) handle(_ context.Context, msg domain.Message) {
	if msg.Type != domain.MsgSelectItem {
		return
	}
	if !msg.InSession(c.ctrl.Status().SessionID) {
		return
	}
	g, err := msg.Garment()
	if err != nil {
		slog.Warn("Ignoring malformed SELECT_ITEM", "error", err)
		return
	}
	region := c.selection.Select(g)
	slog.Info("Garment selected on customer surface", "garment_id", g.ID, "region", region)
}

// Controller returns the engine controller.
func (c *Console) Controller() *engine.Controller {
	return c.ctrl
}

// Selection returns the operator's slots.
func (c *Console) Selection() *selection.Synchronizer {
	return c.selection
}

// Start launches the engine and the customer surface.
func (c *Console) Start(ctx context.Context) (engine.Status, error) {
	return c.guard.Launch(ctx)
}

// Stop is the operator's stop toggle.
func (c *Console) Stop(ctx context.Context) (engine.Status, error) {
	return c.guard.RequestStop(ctx)
}

// Select puts g on the operator's slots and sends it to the customer.
func (c *Console) Select(ctx context.Context, g domain.Garment) (domain.Region, error) {
	msg, err := domain.NewSelectItem(c.ctrl.Status().SessionID, g)
	if err != nil {
		return "", fmt.Errorf("select garment: %w", err)
	}
	region := c.selection.Select(g)
	if err := c.bus.Publish(ctx, msg); err != nil {
		return region, fmt.Errorf("broadcast selection: %w", err)
	}
	return region, nil
}

// Deselect clears an operator slot. It is not broadcast.
func (c *Console) Deselect(region domain.Region) bool {
	return c.selection.Deselect(region)
}

// Snapshot returns the operator view.
func (c *Console) Snapshot() Snapshot {
	st := c.ctrl.Status()
	return Snapshot{
		Engine:    st,
		Banner:    engine.BannerFor(st),
		Selection: c.selection.Slots(),
	}
}

// Close tears down the operator surface, stopping the engine.
func (c *Console) Close(ctx context.Context) error {
	c.unsubscribe()
	return c.guard.Shutdown(ctx)
}
