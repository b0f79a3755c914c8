//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/bus"
	"github.com/ashureev/tryon-orchestrator/internal/catalog"
	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/engine"
	"github.com/ashureev/tryon-orchestrator/internal/middleware"
	"github.com/ashureev/tryon-orchestrator/internal/operator"
	"github.com/ashureev/tryon-orchestrator/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

type fakeRemote struct {
	startErr error
	starts   atomic.Int32
	stops    atomic.Int32
}

func (f *fakeRemote) Start(context.Context) error {
	f.starts.Add(1)
	return f.startErr
}

func (f *fakeRemote) Stop(context.Context) error {
	f.stops.Add(1)
	return nil
}

func (f *fakeRemote) Running(context.Context) (bool, error) {
	return f.starts.Load() > f.stops.Load(), nil
}

func (f *fakeRemote) StreamURL() string {
	return "http://engine/video_feed"
}

type fakeCatalog struct {
	garments []domain.Garment
	err      error
}

func (f *fakeCatalog) Products(context.Context) ([]domain.Garment, error) {
	return f.garments, f.err
}

func (f *fakeCatalog) Product(_ context.Context, id string) (domain.Garment, error) {
	if f.err != nil {
		return domain.Garment{}, f.err
	}
	for _, g := range f.garments {
		if g.ID == id {
			return g, nil
		}
	}
	return domain.Garment{}, catalog.ErrNotFound
}

type harness struct {
	router   http.Handler
	remote   *fakeRemote
	console  *operator.Console
	customer *bus.Endpoint
	repo     *store.SQLiteStore
	opened   atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newLimitedHarness(t, nil)
}

func newLimitedHarness(t *testing.T, limit func(http.Handler) http.Handler) *harness {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "tryon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	hub := bus.NewHub()
	opEp := hub.Join(bus.DefaultChannel)
	customer := hub.Join(bus.DefaultChannel)
	t.Cleanup(func() {
		_ = opEp.Close()
		_ = customer.Close()
	})

	h := &harness{remote: &fakeRemote{}, customer: customer, repo: repo}
	h.console = operator.NewConsole(h.remote, opEp, engine.Config{CallTimeout: time.Second},
		func(context.Context, engine.Status) error {
			h.opened.Add(1)
			return nil
		})

	cat := &fakeCatalog{garments: []domain.Garment{
		{ID: "1", Name: "Slim Jeans", Category: "Jeans", Price: 49.5},
		{ID: "2", Name: "Oxford Shirt", Category: "Shirts", Price: 35},
	}}

	r := chi.NewRouter()
	NewHandler(h.console, cat, repo).RegisterRoutes(r, limit)
	NewHealthHandler(repo, h.console.Controller()).RegisterHealth(r)
	h.router = r
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w, out
}

func TestEngineStartStop(t *testing.T) {
	h := newHarness(t)

	w, body := h.do(t, http.MethodPost, "/api/engine/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	eng := body["engine"].(map[string]any)
	assert.Equal(t, string(domain.EngineActive), eng["state"])
	assert.NotEmpty(t, eng["session_id"])
	assert.Equal(t, "http://engine/video_feed", eng["stream_url"])
	assert.Equal(t, "active", body["banner"].(map[string]any)["kind"])
	assert.Equal(t, int32(1), h.opened.Load())

	w, _ = h.do(t, http.MethodPost, "/api/engine/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int32(1), h.remote.starts.Load(), "start while active is a no-op")

	w, body = h.do(t, http.MethodPost, "/api/engine/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.EngineIdle), body["engine"].(map[string]any)["state"])
	assert.Equal(t, int32(1), h.remote.stops.Load())

	_, body = h.do(t, http.MethodGet, "/api/engine/status", nil)
	assert.Equal(t, "Engine stopped", body["banner"].(map[string]any)["text"])
}

func TestStopIsNotThrottledByStartBudget(t *testing.T) {
	h := newLimitedHarness(t, middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: 0.001,
		Burst:             4,
	}))

	for i := 0; i < 4; i++ {
		w, _ := h.do(t, http.MethodPost, "/api/engine/start", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, _ := h.do(t, http.MethodPost, "/api/engine/start", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, domain.EngineActive, h.console.Controller().State())

	w, body := h.do(t, http.MethodPost, "/api/engine/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.EngineIdle), body["engine"].(map[string]any)["state"])
	assert.Equal(t, int32(1), h.remote.stops.Load())
}

func TestEngineStartFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.remote.startErr = &engine.UnreachableError{Op: "start", Err: errors.New("connection refused")}

	w, body := h.do(t, http.MethodPost, "/api/engine/start", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, string(domain.EngineError), body["engine"].(map[string]any)["state"])
	assert.Contains(t, body["error"], "Could not reach the try-on engine")
	assert.Equal(t, "error", body["banner"].(map[string]any)["kind"])
	assert.Equal(t, int32(0), h.opened.Load())
}

func TestSelectByProductIDBroadcasts(t *testing.T) {
	h := newHarness(t)

	var got atomic.Value
	h.customer.Subscribe(func(_ context.Context, msg domain.Message) {
		if msg.Type == domain.MsgSelectItem {
			got.Store(msg)
		}
	})

	w, body := h.do(t, http.MethodPost, "/api/selection", map[string]any{"product_id": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.RegionLower), body["region"])

	require.Eventually(t, func() bool { return got.Load() != nil }, time.Second, 5*time.Millisecond)
	g, err := got.Load().(domain.Message).Garment()
	require.NoError(t, err)
	assert.Equal(t, "Slim Jeans", g.Name)

	w, body = h.do(t, http.MethodPost, "/api/selection", map[string]any{
		"garment": map[string]any{"id": "x9", "name": "Rain Jacket", "category": "Outerwear"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(domain.RegionUpper), body["region"])

	_, body = h.do(t, http.MethodGet, "/api/selection", nil)
	assert.NotNil(t, body["upper"])
	assert.NotNil(t, body["lower"])
}

func TestSelectErrors(t *testing.T) {
	h := newHarness(t)

	w, _ := h.do(t, http.MethodPost, "/api/selection", map[string]any{"product_id": 404})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = h.do(t, http.MethodPost, "/api/selection", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = h.do(t, http.MethodDelete, "/api/selection/feet", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeselectIsLocal(t *testing.T) {
	h := newHarness(t)

	var received atomic.Int32
	h.customer.Subscribe(func(context.Context, domain.Message) { received.Add(1) })

	w, _ := h.do(t, http.MethodPost, "/api/selection", map[string]any{"product_id": "2"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool { return received.Load() == 1 }, time.Second, 5*time.Millisecond)

	w, body := h.do(t, http.MethodDelete, "/api/selection/upper", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["cleared"])

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), received.Load(), "deselect is not broadcast")
}

func TestSessionsAndAnalytics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, h.repo.CreateSession(ctx, &domain.TryOnSession{
		ID: "s-1", Status: domain.SessionActive, StartedAt: now.Add(-10 * time.Minute), LastSeenAt: now,
	}))
	require.NoError(t, h.repo.EndSession(ctx, "s-1", domain.SessionCompleted, now))

	w, body := h.do(t, http.MethodGet, "/api/sessions?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, "completed", sessions[0].(map[string]any)["status"])

	w, body = h.do(t, http.MethodGet, "/api/sessions/analytics?days=7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(7), body["period_days"])
	assert.Equal(t, float64(1), body["total_sessions"])
	assert.Equal(t, float64(100), body["completion_rate"])
}

func TestProducts(t *testing.T) {
	h := newHarness(t)

	w, body := h.do(t, http.MethodGet, "/api/products", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["products"], 2)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	w, body := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, string(domain.EngineIdle), checks["engine"])
}
