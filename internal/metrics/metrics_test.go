package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineTransitionMovesStateGauge(t *testing.T) {
	m := New()

	m.EngineTransition(domain.EngineIdle, domain.EngineStarting)
	m.EngineTransition(domain.EngineStarting, domain.EngineActive)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineState.WithLabelValues("active")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EngineState.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineTransitions.WithLabelValues("idle", "starting")))
}

func TestEngineCallResults(t *testing.T) {
	m := New()
	m.EngineCall("start", nil)
	m.EngineCall("start", errors.New("boom"))
	m.EngineCall("start", errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineCalls.WithLabelValues("start", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EngineCalls.WithLabelValues("start", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.EngineTransition(domain.EngineIdle, domain.EngineActive)
		m.EngineCall("stop", nil)
		m.MessagePublished(domain.MsgCloseScreen)
		m.DeliveryDropped()
		m.SurfaceConnected(domain.RoleCustomer, 1)
		m.SessionReaped()
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.MessagePublished(domain.MsgSelectItem)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `tryon_bus_messages_total{type="SELECT_ITEM"} 1`))
}
