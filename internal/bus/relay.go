package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/identity"
	"github.com/ashureev/tryon-orchestrator/internal/metrics"
	"github.com/coder/websocket"
)

const (
	relayWriteTimeout     = 5 * time.Second
	defaultRelayKeepalive = 15 * time.Second
)

// ActivityFunc is told that a surface in session showed signs of life.
type ActivityFunc func(session string)

// RelayConfig configures the WebSocket relay.
type RelayConfig struct {
	Channel       string
	AllowedOrigin string
	IsDev         bool
	Keepalive     time.Duration
	Metrics       *metrics.Metrics
}

// Relay bridges WebSocket surfaces onto a hub channel. Every connection
// becomes its own endpoint, so the no-echo rule holds across the wire.
type Relay struct {
	hub           *Hub
	registry      *Registry
	channel       string
	allowedOrigin string
	isDev         bool
	keepalive     time.Duration
	metrics       *metrics.Metrics

	mu         sync.RWMutex
	onActivity ActivityFunc
}

// NewRelay creates a relay for cfg.Channel on hub.
func NewRelay(hub *Hub, registry *Registry, cfg RelayConfig) *Relay {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = defaultRelayKeepalive
	}
	return &Relay{
		hub:           hub,
		registry:      registry,
		channel:       cfg.Channel,
		allowedOrigin: cfg.AllowedOrigin,
		isDev:         cfg.IsDev,
		keepalive:     cfg.Keepalive,
		metrics:       cfg.Metrics,
	}
}

// SetActivityHook installs fn as the activity callback.
func (r *Relay) SetActivityHook(fn ActivityFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onActivity = fn
}

func (r *Relay) activity(session string) {
	r.mu.RLock()
	fn := r.onActivity
	r.mu.RUnlock()
	if fn != nil && session != "" {
		fn(session)
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	role := identity.RoleFromContext(ctx)
	surfaceID := identity.SurfaceIDFromContext(ctx)
	session := identity.SessionIDFromContext(ctx)
	slog.Info("Bus connection request", "role", role, "surface_id", surfaceID, "session", session, "ip", identity.IPFromRequest(req))

	if !r.checkOrigin(req) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "surface_id", surfaceID)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "bus session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "surface_id", surfaceID)
		}
	}()

	r.registry.Register(role, surfaceID, conn)
	defer r.registry.Unregister(role, surfaceID, conn)
	r.metrics.SurfaceConnected(role, 1)
	defer r.metrics.SurfaceConnected(role, -1)

	ep := r.hub.Join(r.channel)
	defer func() {
		if closeErr := ep.Close(); closeErr != nil {
			slog.Debug("Failed to leave bus channel", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unsubscribe := ep.Subscribe(func(_ context.Context, msg domain.Message) {
		if err := writeMessage(ctx, conn, msg); err != nil {
			slog.Debug("Bus relay write failed", "error", err, "surface_id", surfaceID)
			cancel()
		}
	})
	defer unsubscribe()

	r.activity(session)
	go r.keepaliveLoop(ctx, conn, session)

	announcedClose := r.readLoop(ctx, conn, ep, role, surfaceID, session)

	// A customer surface that vanished without saying goodbye still has to
	// release the engine. Without a session the notice would match any
	// session, so a sessionless customer is only logged.
	if role == domain.RoleCustomer && !announcedClose && session == "" {
		slog.Warn("Sessionless customer surface dropped, not announcing SCREEN_CLOSED", "surface_id", surfaceID)
	} else if role == domain.RoleCustomer && !announcedClose {
		slog.Warn("Customer surface dropped without SCREEN_CLOSED, announcing on its behalf",
			"surface_id", surfaceID, "session", session)
		pubCtx, pubCancel := context.WithTimeout(context.Background(), relayWriteTimeout)
		if err := ep.Publish(pubCtx, domain.NewScreenClosed(session)); err != nil {
			slog.Error("Failed to publish SCREEN_CLOSED for dropped surface", "error", err)
		}
		pubCancel()
	}
	slog.Info("Bus connection ended", "role", role, "surface_id", surfaceID)
}

func (r *Relay) checkOrigin(req *http.Request) bool {
	if r.isDev {
		return true
	}
	origin := req.Header.Get("Origin")
	if origin == "" || r.allowedOrigin == "*" {
		return true
	}
	if origin == r.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", r.allowedOrigin)
	return false
}

// readLoop publishes every well-formed envelope from the socket. It reports
// whether the peer announced SCREEN_CLOSED before going away.
func (r *Relay) readLoop(ctx context.Context, conn *websocket.Conn, ep *Endpoint, role domain.SurfaceRole, surfaceID, session string) bool {
	announcedClose := false
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by surface", "surface_id", surfaceID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "surface_id", surfaceID)
			}
			return announcedClose
		}

		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Dropping undecodable bus message", "error", err, "surface_id", surfaceID)
			continue
		}
		if msg.Session == "" {
			msg.Session = session
		}
		if err := ep.Publish(ctx, msg); err != nil {
			slog.Warn("Dropping bus message", "error", err, "surface_id", surfaceID)
			continue
		}
		if msg.Type == domain.MsgScreenClosed && role == domain.RoleCustomer {
			announcedClose = true
		}
		r.activity(msg.Session)
	}
}

func (r *Relay) keepaliveLoop(ctx context.Context, conn *websocket.Conn, session string) {
	ticker := time.NewTicker(r.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, relayWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					slog.Debug("Bus keepalive ping failed", "error", err, "session", session)
				}
				continue
			}
			r.activity(session)
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, relayWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
