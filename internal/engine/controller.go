package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/metrics"
	"github.com/google/uuid"
)

const closeNoticeTimeout = 3 * time.Second

// Publisher is the part of the bus the controller needs.
type Publisher interface {
	Publish(ctx context.Context, msg domain.Message) error
}

// Status is a snapshot of the controller.
type Status struct {
	State     domain.EngineState `json:"state"`
	Message   string             `json:"message,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	StreamURL string             `json:"stream_url,omitempty"`
	Since     time.Time          `json:"since"`
}

// ObserverFunc is told about every state transition. Observers run on the
// goroutine that caused the transition and must not block on the controller.
type ObserverFunc func(prev, next Status)

// Config configures a Controller.
type Config struct {
	// CallTimeout bounds each remote start/stop call.
	CallTimeout time.Duration
	Metrics     *metrics.Metrics
}

// Controller is the operator surface's belief about the engine. Start and
// Stop are guarded by state, not by holding a lock across the remote call:
// a call arriving while one is in flight is a no-op.
type Controller struct {
	remote  Remote
	pub     Publisher
	timeout time.Duration
	metrics *metrics.Metrics

	mu          sync.Mutex
	status      Status
	stopPending bool
	observers   []ObserverFunc
}

// NewController creates a controller in Idle. pub may be nil, in which case
// no CLOSE_SCREEN is published on stop.
func NewController(remote Remote, pub Publisher, cfg Config) *Controller {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Controller{
		remote:  remote,
		pub:     pub,
		timeout: cfg.CallTimeout,
		metrics: cfg.Metrics,
		status:  Status{State: domain.EngineIdle, Since: time.Now()},
	}
}

// OnChange registers fn for future transitions.
func (c *Controller) OnChange(fn ObserverFunc) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Status returns the current snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// State returns the current state.
func (c *Controller) State() domain.EngineState {
	return c.Status().State
}

// Start brings the engine up. It is a no-op while Starting, Active or
// Stopping. A failed start leaves the controller in Error, from which Start
// may be retried; the returned error is the classified remote failure.
func (c *Controller) Start(ctx context.Context) (Status, error) {
	c.mu.Lock()
	switch c.status.State {
	case domain.EngineStarting, domain.EngineActive, domain.EngineStopping:
		st := c.status
		c.mu.Unlock()
		slog.Debug("Engine start ignored", "state", st.State)
		return st, nil
	}
	prev := c.transitionLocked(Status{
		State:     domain.EngineStarting,
		Message:   "Starting engine...",
		SessionID: uuid.NewString(),
	})
	next := c.status
	observers := c.observers
	c.mu.Unlock()
	c.notify(observers, prev, next)

	slog.Info("Starting engine", "session", next.SessionID)
	callCtx, cancel := c.callContext(ctx)
	err := c.remote.Start(callCtx)
	cancel()
	c.metrics.EngineCall(opStart, err)

	c.mu.Lock()
	if err != nil {
		prev = c.transitionLocked(Status{
			State:   domain.EngineError,
			Message: UserMessage(err),
		})
		c.stopPending = false
	} else {
		prev = c.transitionLocked(Status{
			State:     domain.EngineActive,
			SessionID: next.SessionID,
			StreamURL: c.remote.StreamURL(),
		})
	}
	next = c.status
	pending := c.stopPending
	c.stopPending = false
	observers = c.observers
	c.mu.Unlock()
	c.notify(observers, prev, next)

	if err != nil {
		slog.Error("Engine start failed", "error", err, "unreachable", IsUnreachable(err))
		return next, err
	}
	slog.Info("Engine active", "session", next.SessionID, "stream_url", next.StreamURL)

	if pending {
		slog.Info("Stop requested during start, stopping engine", "session", next.SessionID)
		return c.Stop(ctx)
	}
	return next, nil
}

// Stop brings the engine down. It is a no-op while Idle or Stopping. From
// Active it always ends in Idle, whatever the remote answers, and then
// publishes CLOSE_SCREEN. From Error it clears to Idle without a remote call.
// A stop requested while Starting runs as soon as the start resolves.
func (c *Controller) Stop(ctx context.Context) (Status, error) {
	st, _, err := c.StopWithNotice(ctx)
	return st, err
}

// StopWithNotice is Stop that also reports whether this call took the engine
// from Active to Idle and so published CLOSE_SCREEN for the session. The
// decision is made under the controller lock.
func (c *Controller) StopWithNotice(ctx context.Context) (Status, bool, error) {
	c.mu.Lock()
	switch c.status.State {
	case domain.EngineIdle, domain.EngineStopping:
		st := c.status
		c.mu.Unlock()
		slog.Debug("Engine stop ignored", "state", st.State)
		return st, false, nil
	case domain.EngineStarting:
		c.stopPending = true
		st := c.status
		c.mu.Unlock()
		slog.Info("Engine stop deferred until start resolves")
		return st, false, nil
	case domain.EngineError:
		prev := c.transitionLocked(Status{State: domain.EngineIdle})
		next := c.status
		observers := c.observers
		c.mu.Unlock()
		c.notify(observers, prev, next)
		return next, false, nil
	}

	session := c.status.SessionID
	prev := c.transitionLocked(Status{
		State:     domain.EngineStopping,
		Message:   "Stopping engine...",
		SessionID: session,
	})
	next := c.status
	observers := c.observers
	c.mu.Unlock()
	c.notify(observers, prev, next)

	slog.Info("Stopping engine", "session", session)
	callCtx, cancel := c.callContext(ctx)
	err := c.remote.Stop(callCtx)
	cancel()
	c.metrics.EngineCall(opStop, err)

	idle := Status{State: domain.EngineIdle}
	if err != nil {
		slog.Warn("Engine stop failed, treating engine as stopped", "error", err, "session", session)
		idle.Message = UserMessage(err)
	}

	c.mu.Lock()
	prev = c.transitionLocked(idle)
	next = c.status
	observers = c.observers
	c.mu.Unlock()
	c.notify(observers, prev, next)

	c.announceClose(ctx, session)
	return next, true, err
}

// StopOrphan stops an engine that is running while the controller is Idle.
// The controller holds Stopping for the length of the remote call, so a
// concurrent Start is a no-op rather than a second call on the engine. It
// reports false without calling the remote when the controller is not Idle.
func (c *Controller) StopOrphan(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.status.State != domain.EngineIdle {
		st := c.status.State
		c.mu.Unlock()
		slog.Debug("Orphan engine stop ignored", "state", st)
		return false, nil
	}
	prev := c.transitionLocked(Status{
		State:   domain.EngineStopping,
		Message: "Stopping engine...",
	})
	next := c.status
	observers := c.observers
	c.mu.Unlock()
	c.notify(observers, prev, next)

	slog.Warn("Stopping engine running without a session")
	callCtx, cancel := c.callContext(ctx)
	err := c.remote.Stop(callCtx)
	cancel()
	c.metrics.EngineCall(opStop, err)

	idle := Status{State: domain.EngineIdle}
	if err != nil {
		idle.Message = UserMessage(err)
	}
	c.mu.Lock()
	prev = c.transitionLocked(idle)
	next = c.status
	observers = c.observers
	c.mu.Unlock()
	c.notify(observers, prev, next)

	if err != nil {
		return true, fmt.Errorf("stop orphaned engine: %w", err)
	}
	return true, nil
}

func (c *Controller) announceClose(ctx context.Context, session string) {
	if c.pub == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeNoticeTimeout)
	defer cancel()
	if err := c.pub.Publish(pubCtx, domain.NewCloseScreen(session)); err != nil {
		slog.Warn("Failed to publish CLOSE_SCREEN", "error", err, "session", session)
	}
}

// callContext bounds a remote call. In-flight calls are never cancelled by
// the caller going away, only by the timeout.
func (c *Controller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
}

// transitionLocked installs next and returns the previous status.
func (c *Controller) transitionLocked(next Status) Status {
	prev := c.status
	next.Since = time.Now()
	c.status = next
	c.metrics.EngineTransition(prev.State, next.State)
	slog.Debug("Engine state transition", "from", prev.State, "to", next.State)
	return prev
}

func (c *Controller) notify(observers []ObserverFunc, prev, next Status) {
	for _, fn := range observers {
		fn(prev, next)
	}
}
