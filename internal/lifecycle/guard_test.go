package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/bus"
	"github.com/ashureev/tryon-orchestrator/internal/customer"
	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRemote struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (r *countingRemote) Start(context.Context) error {
	r.starts.Add(1)
	return nil
}

func (r *countingRemote) Stop(context.Context) error {
	r.stops.Add(1)
	time.Sleep(10 * time.Millisecond)
	return nil
}

func (r *countingRemote) Running(context.Context) (bool, error) {
	return r.starts.Load() > r.stops.Load(), nil
}

func (r *countingRemote) StreamURL() string { return "http://engine/video_feed" }

type harness struct {
	hub      *bus.Hub
	remote   *countingRemote
	ctrl     *engine.Controller
	guard    *OperatorGuard
	operator *bus.Endpoint

	mu      sync.Mutex
	surface *customer.Surface
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{hub: bus.NewHub(), remote: &countingRemote{}}
	h.operator = h.hub.Join(bus.DefaultChannel)
	t.Cleanup(func() { _ = h.operator.Close() })

	h.ctrl = engine.NewController(h.remote, h.operator, engine.Config{CallTimeout: time.Second})
	h.guard = NewOperatorGuard(h.ctrl, h.operator, func(_ context.Context, st engine.Status) error {
		ep := h.hub.Join(bus.DefaultChannel)
		t.Cleanup(func() { _ = ep.Close() })
		s := customer.Open(ep, customer.Config{
			Session:         st.SessionID,
			EngineConfirmed: true,
			StreamURL:       st.StreamURL,
			CloseInterval:   time.Millisecond,
			Scan:            customer.ScanConfig{RampDuration: 30 * time.Millisecond, TickInterval: 5 * time.Millisecond},
		})
		h.mu.Lock()
		h.surface = s
		h.mu.Unlock()
		return nil
	})
	return h
}

func (h *harness) customer() *customer.Surface {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.surface
}

func TestLaunchOpensSurfaceAfterConfirmedStart(t *testing.T) {
	h := newHarness(t)

	st, err := h.guard.Launch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.EngineActive, st.State)

	s := h.customer()
	require.NotNil(t, s)
	assert.Equal(t, domain.ScanAwaitingTutorial, s.Scan().Progress().State)
	assert.Equal(t, "http://engine/video_feed", s.VideoSource())

	s.Scan().Acknowledge()
	assert.Equal(t, domain.ScanCapturing, s.Scan().Progress().State)
	require.Eventually(t, func() bool { return s.Scan().Progress().State == domain.ScanComplete }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.EngineActive, h.ctrl.State())

	_, err = h.guard.Launch(context.Background())
	require.NoError(t, err)
	assert.Same(t, s, h.customer(), "a second launch must not reopen the surface")
	assert.Equal(t, int32(1), h.remote.starts.Load())
}

func TestScreenClosedStopsEngineExactlyOnce(t *testing.T) {
	h := newHarness(t)
	_, err := h.guard.Launch(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.customer().Unload(context.Background()))

	require.Eventually(t, func() bool { return h.ctrl.State() == domain.EngineIdle }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.guard.StopRequests() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), h.remote.stops.Load())
}

func TestRequestStopClosesCustomerSurface(t *testing.T) {
	h := newHarness(t)
	_, err := h.guard.Launch(context.Background())
	require.NoError(t, err)
	s := h.customer()

	st, err := h.guard.RequestStop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.EngineIdle, st.State)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("customer surface did not close")
	}
	assert.Equal(t, int32(1), h.remote.stops.Load())
}

func TestRequestStopWhenIdleStillClosesStraySurface(t *testing.T) {
	h := newHarness(t)

	ep := h.hub.Join(bus.DefaultChannel)
	defer ep.Close()
	stray := customer.Open(ep, customer.Config{})
	assert.Empty(t, stray.VideoSource())

	_, err := h.guard.RequestStop(context.Background())
	require.NoError(t, err)

	select {
	case <-stray.Done():
	case <-time.After(time.Second):
		t.Fatal("stray surface did not close")
	}
	assert.Equal(t, int32(0), h.remote.stops.Load())
}

func TestScreenClosedForOtherSessionIsIgnored(t *testing.T) {
	h := newHarness(t)
	_, err := h.guard.Launch(context.Background())
	require.NoError(t, err)

	other := h.hub.Join(bus.DefaultChannel)
	defer other.Close()
	require.NoError(t, other.Publish(context.Background(), domain.NewScreenClosed("someone-else")))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, domain.EngineActive, h.ctrl.State())
	assert.Equal(t, int32(0), h.remote.stops.Load())
}

func TestFailedOpenStopsEngine(t *testing.T) {
	hub := bus.NewHub()
	ep := hub.Join(bus.DefaultChannel)
	defer ep.Close()
	remote := &countingRemote{}
	ctrl := engine.NewController(remote, ep, engine.Config{})
	guard := NewOperatorGuard(ctrl, ep, func(context.Context, engine.Status) error {
		return errors.New("display not attached")
	})

	st, err := guard.Launch(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.EngineIdle, st.State)
	assert.Equal(t, int32(1), remote.stops.Load())
}

func TestShutdownStopsEngine(t *testing.T) {
	h := newHarness(t)
	_, err := h.guard.Launch(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.guard.Shutdown(context.Background()))
	require.NoError(t, h.guard.Shutdown(context.Background()))
	assert.Equal(t, domain.EngineIdle, h.ctrl.State())
	assert.Equal(t, int32(1), h.remote.stops.Load())
}

// heldStopRemote blocks Stop until release is closed.
type heldStopRemote struct {
	stopEntered chan struct{}
	release     chan struct{}
}

func (r *heldStopRemote) Start(context.Context) error { return nil }

func (r *heldStopRemote) Stop(context.Context) error {
	select {
	case r.stopEntered <- struct{}{}:
	default:
	}
	<-r.release
	return nil
}

func (r *heldStopRemote) Running(context.Context) (bool, error) { return false, nil }
func (r *heldStopRemote) StreamURL() string                     { return "http://engine/video_feed" }

// closeNotices records the session of every CLOSE_SCREEN seen.
type closeNotices struct {
	mu       sync.Mutex
	sessions []string
}

func (c *closeNotices) handle(_ context.Context, msg domain.Message) {
	if msg.Type != domain.MsgCloseScreen {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, msg.Session)
}

func (c *closeNotices) count(session string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sessions {
		if s == session {
			n++
		}
	}
	return n
}

func TestRequestStopDuringInFlightStopStillPublishes(t *testing.T) {
	ctx := context.Background()
	hub := bus.NewHub()
	operator := hub.Join(bus.DefaultChannel)
	watcher := hub.Join(bus.DefaultChannel)
	defer operator.Close()
	defer watcher.Close()

	var notices closeNotices
	watcher.Subscribe(notices.handle)

	remote := &heldStopRemote{stopEntered: make(chan struct{}, 1), release: make(chan struct{})}
	ctrl := engine.NewController(remote, operator, engine.Config{CallTimeout: 5 * time.Second})
	guard := NewOperatorGuard(ctrl, operator, nil)

	started, err := guard.Launch(ctx)
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_, _ = ctrl.Stop(ctx)
	}()
	select {
	case <-remote.stopEntered:
	case <-time.After(2 * time.Second):
		t.Fatal("stop never reached the engine")
	}

	st, err := guard.RequestStop(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.EngineStopping, st.State)
	require.Eventually(t, func() bool { return notices.count("") == 1 }, time.Second, 5*time.Millisecond)

	close(remote.release)
	<-stopped
	require.Eventually(t, func() bool { return notices.count(started.SessionID) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.EngineIdle, ctrl.State())
}

func TestRequestStopFromActivePublishesOnlySessionNotice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	watcher := h.hub.Join(bus.DefaultChannel)
	defer watcher.Close()
	var notices closeNotices
	watcher.Subscribe(notices.handle)

	st, err := h.guard.Launch(ctx)
	require.NoError(t, err)

	_, err = h.guard.RequestStop(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return notices.count(st.SessionID) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, notices.count(""))
}
