// Package kiosk runs the customer surface as a long-lived process: wait for
// the operator to start the engine, open the surface for that session, and
// go back to waiting once it closes.
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/bus"
	"github.com/ashureev/tryon-orchestrator/internal/customer"
	"github.com/ashureev/tryon-orchestrator/internal/domain"
	"github.com/ashureev/tryon-orchestrator/internal/engine"
	"github.com/ashureev/tryon-orchestrator/internal/healthsrv"
	"github.com/ashureev/tryon-orchestrator/internal/identity"
	"github.com/go-resty/resty/v2"
)

const (
	defaultPollInterval = time.Second
	unloadTimeout       = 2 * time.Second
)

// Config configures a Kiosk.
type Config struct {
	ServerURL    string
	SurfaceID    string
	PollInterval time.Duration
	HealthAddr   string
	CloseRepeats int
	Scan         customer.ScanConfig
}

// OpenedFunc is called with each surface right after it opens.
type OpenedFunc func(ctx context.Context, s *customer.Surface)

// Kiosk drives customer surfaces for one orchestrator.
type Kiosk struct {
	cfg    Config
	http   *resty.Client
	wsURL  string
	opened OpenedFunc

	lastSession string
}

// New creates a kiosk for the orchestrator at cfg.ServerURL.
func New(cfg Config, opened OpenedFunc) (*Kiosk, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	wsURL, err := busURL(cfg.ServerURL)
	if err != nil {
		return nil, err
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.ServerURL, "/")).
		SetTimeout(5*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader(identity.RoleHeaderName, string(domain.RoleCustomer))

	return &Kiosk{cfg: cfg, http: client, wsURL: wsURL, opened: opened}, nil
}

func busURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/bus"
	return u.String(), nil
}

// Run serves sessions until ctx ends.
func (k *Kiosk) Run(ctx context.Context) error {
	var health *healthsrv.Client
	if k.cfg.HealthAddr != "" {
		c, err := healthsrv.Dial(ctx, healthsrv.ClientConfig{Address: k.cfg.HealthAddr})
		if err != nil {
			slog.Warn("Health service unavailable, falling back to polling", "error", err)
		} else {
			health = c
			defer health.Close()
		}
	}

	for {
		st, err := k.WaitForEngine(ctx, health)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		reason, err := k.RunSession(ctx, st)
		if err != nil {
			slog.Error("Customer session failed", "error", err, "session", st.SessionID)
		} else {
			slog.Info("Customer session ended", "reason", reason, "session", st.SessionID)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// WaitForEngine blocks until the orchestrator reports an Active engine for
// a session this kiosk has not served yet. health may be nil.
func (k *Kiosk) WaitForEngine(ctx context.Context, health *healthsrv.Client) (engine.Status, error) {
	for {
		if health != nil {
			if err := health.WaitServing(ctx, healthsrv.EngineService); err != nil && ctx.Err() == nil {
				slog.Debug("Engine health watch ended", "error", err)
			}
		}

		st, err := k.Status(ctx)
		switch {
		case err != nil:
			slog.Debug("Engine status unavailable", "error", err)
		case st.State == domain.EngineActive && st.SessionID != k.lastSession:
			return st, nil
		}

		select {
		case <-ctx.Done():
			return engine.Status{}, ctx.Err()
		case <-time.After(k.cfg.PollInterval):
		}
	}
}

// Status fetches the orchestrator's engine status.
func (k *Kiosk) Status(ctx context.Context) (engine.Status, error) {
	var reply struct {
		Engine engine.Status `json:"engine"`
	}
	resp, err := k.http.R().SetContext(ctx).SetResult(&reply).Get("/api/engine/status")
	if err != nil {
		return engine.Status{}, fmt.Errorf("fetch engine status: %w", err)
	}
	if resp.IsError() {
		return engine.Status{}, fmt.Errorf("fetch engine status: %s", resp.Status())
	}
	return reply.Engine, nil
}

// RunSession opens a surface for st and blocks until it terminates. When ctx
// ends first the surface is unloaded, announcing SCREEN_CLOSED.
func (k *Kiosk) RunSession(ctx context.Context, st engine.Status) (string, error) {
	k.lastSession = st.SessionID

	remote, err := bus.Dial(ctx, k.wsURL, bus.DialOptions{
		Role:      domain.RoleCustomer,
		SurfaceID: k.cfg.SurfaceID,
		Session:   st.SessionID,
	})
	if err != nil {
		return "", err
	}
	defer func() {
		if closeErr := remote.Close(); closeErr != nil {
			slog.Debug("Failed to close bus connection", "error", closeErr)
		}
	}()

	surface := customer.Open(remote, customer.Config{
		Session:         st.SessionID,
		EngineConfirmed: st.State == domain.EngineActive,
		StreamURL:       st.StreamURL,
		CloseRepeats:    k.cfg.CloseRepeats,
		Scan:            k.cfg.Scan,
	})
	slog.Info("Showing video", "source", surface.VideoSource(), "session", st.SessionID)
	if k.opened != nil {
		k.opened(ctx, surface)
	}

	select {
	case <-surface.Done():
		return surface.Reason(), nil
	case <-remote.Disconnected():
		unload(surface)
		return "", errors.New("bus relay disconnected")
	case <-ctx.Done():
		unload(surface)
		return surface.Reason(), nil
	}
}

func unload(s *customer.Surface) {
	ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
	defer cancel()
	if err := s.Unload(ctx); err != nil {
		slog.Warn("Customer surface unloaded without announcing", "error", err)
	}
}
