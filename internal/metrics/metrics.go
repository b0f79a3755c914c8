// Package metrics exposes Prometheus instrumentation for the orchestrator.
//
// All recording methods are safe on a nil *Metrics so library code can be
// used without a registry (tests, the kiosk binary).
package metrics

import (
	"net/http"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tryon"

var engineStates = []domain.EngineState{
	domain.EngineIdle,
	domain.EngineStarting,
	domain.EngineActive,
	domain.EngineStopping,
	domain.EngineError,
}

// Metrics holds the orchestrator collectors.
type Metrics struct {
	registry *prometheus.Registry

	EngineState       *prometheus.GaugeVec
	EngineTransitions *prometheus.CounterVec
	EngineCalls       *prometheus.CounterVec

	BusMessages *prometheus.CounterVec
	BusDropped  prometheus.Counter

	SurfacesConnected *prometheus.GaugeVec
	SessionsReaped    prometheus.Counter
}

// New creates collectors registered on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		EngineState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_state",
			Help:      "1 for the engine state the controller currently believes in.",
		}, []string{"state"}),
		EngineTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_transitions_total",
			Help:      "Engine controller state transitions.",
		}, []string{"from", "to"}),
		EngineCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_remote_calls_total",
			Help:      "Remote engine calls by operation and result.",
		}, []string{"op", "result"}),
		BusMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_total",
			Help:      "Messages published on the bus by type.",
		}, []string{"type"}),
		BusDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_deliveries_dropped_total",
			Help:      "Deliveries dropped because a subscriber queue was full.",
		}),
		SurfacesConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "surfaces_connected",
			Help:      "WebSocket surfaces connected to the bus relay.",
		}, []string{"role"}),
		SessionsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reaped_total",
			Help:      "Sessions stopped by the stale-session reaper.",
		}),
	}

	reg.MustRegister(
		m.EngineState,
		m.EngineTransitions,
		m.EngineCalls,
		m.BusMessages,
		m.BusDropped,
		m.SurfacesConnected,
		m.SessionsReaped,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	m.SetEngineState(domain.EngineIdle)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetEngineState flips the state gauge.
func (m *Metrics) SetEngineState(state domain.EngineState) {
	if m == nil {
		return
	}
	for _, s := range engineStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.EngineState.WithLabelValues(string(s)).Set(v)
	}
}

// EngineTransition records a controller transition.
func (m *Metrics) EngineTransition(from, to domain.EngineState) {
	if m == nil {
		return
	}
	m.EngineTransitions.WithLabelValues(string(from), string(to)).Inc()
	m.SetEngineState(to)
}

// EngineCall records a remote call outcome.
func (m *Metrics) EngineCall(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EngineCalls.WithLabelValues(op, result).Inc()
}

// MessagePublished counts a bus publication.
func (m *Metrics) MessagePublished(t domain.MessageType) {
	if m == nil {
		return
	}
	m.BusMessages.WithLabelValues(string(t)).Inc()
}

// DeliveryDropped counts a dropped bus delivery.
func (m *Metrics) DeliveryDropped() {
	if m == nil {
		return
	}
	m.BusDropped.Inc()
}

// SurfaceConnected adjusts the connected surface gauge by delta.
func (m *Metrics) SurfaceConnected(role domain.SurfaceRole, delta int) {
	if m == nil {
		return
	}
	m.SurfacesConnected.WithLabelValues(string(role)).Add(float64(delta))
}

// SessionReaped counts a reaper stop.
func (m *Metrics) SessionReaped() {
	if m == nil {
		return
	}
	m.SessionsReaped.Inc()
}
