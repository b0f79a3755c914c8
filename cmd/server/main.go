// Try-on orchestrator server: engine control, the surface message bus and
// session history for one kiosk.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/tryon-orchestrator/internal/api"
	"github.com/ashureev/tryon-orchestrator/internal/bus"
	"github.com/ashureev/tryon-orchestrator/internal/catalog"
	"github.com/ashureev/tryon-orchestrator/internal/config"
	"github.com/ashureev/tryon-orchestrator/internal/engine"
	"github.com/ashureev/tryon-orchestrator/internal/healthsrv"
	"github.com/ashureev/tryon-orchestrator/internal/history"
	"github.com/ashureev/tryon-orchestrator/internal/identity"
	"github.com/ashureev/tryon-orchestrator/internal/metrics"
	"github.com/ashureev/tryon-orchestrator/internal/middleware"
	"github.com/ashureev/tryon-orchestrator/internal/operator"
	"github.com/ashureev/tryon-orchestrator/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const shutdownDrainTimeout = 2 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "engine_backend", cfg.Engine.Backend)

	m := metrics.New()

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	remote, closeRemote, err := newRemote(cfg)
	if err != nil {
		slog.Error("Failed to initialize engine client", "error", err)
		os.Exit(1)
	}
	defer closeRemote()

	// Bus: the operator console, the history recorder and every relayed
	// surface join the same channel as separate endpoints.
	hub := bus.NewHub(bus.WithMetrics(m))
	operatorEp := hub.Join(cfg.BusChannel)
	recorderEp := hub.Join(cfg.BusChannel)

	recorder := history.NewRecorder(repo, history.RecorderConfig{
		OutletID: cfg.Catalog.OutletID,
		KioskID:  cfg.Kiosk.ID,
	})
	stopRecording := recorder.Listen(recorderEp)

	console := operator.NewConsole(remote, operatorEp, engine.Config{
		CallTimeout: cfg.Engine.CallTimeout,
		Metrics:     m,
	}, recorder.Open)
	ctrl := console.Controller()
	ctrl.OnChange(recorder.ObserveTransition)

	healthServer := healthsrv.New()
	ctrl.OnChange(healthServer.ObserveEngine)

	registry := bus.NewRegistry()
	relay := bus.NewRelay(hub, registry, bus.RelayConfig{
		Channel:       cfg.BusChannel,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		Keepalive:     cfg.Session.Keepalive,
		Metrics:       m,
	})
	relay.SetActivityHook(recorder.Touch)

	var products api.Catalog
	if cfg.Catalog.BaseURL != "" {
		products = catalog.New(catalog.Config{
			BaseURL:  cfg.Catalog.BaseURL,
			OutletID: cfg.Catalog.OutletID,
			Timeout:  cfg.Catalog.Timeout,
			RetryMax: cfg.Catalog.RetryMax,
		})
	}

	apiHandler := api.NewHandler(console, products, repo)
	healthHandler := api.NewHealthHandler(repo, ctrl)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", m.Handler())
	apiHandler.RegisterRoutes(r, middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}))

	// WebSocket endpoint.
	r.With(identity.Middleware).Get("/ws/bus", relay.ServeHTTP)

	// Note: WebSocket connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reaper := history.NewReaper(repo, ctrl, recorder, history.ReaperConfig{
		TTL:      cfg.Session.TTL,
		Interval: cfg.Session.SweepInterval,
		Metrics:  m,
		Probe:    remote,
	})
	reaper.Start(ctx)
	slog.Info("Session reaper started", "session_ttl", cfg.Session.TTL)

	go func() {
		if err := healthServer.ListenAndServe(":" + cfg.GRPCPort); err != nil {
			slog.Error("Health service failed", "error", err)
		}
	}()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// The operator surface going away stops the engine and tells the
	// customer surface to close before the relay drops it.
	if err := console.Close(shutdownCtx); err != nil {
		slog.Warn("Engine stop during shutdown reported an error", "error", err)
	}
	// Let the relay write the close notice before its sockets are dropped.
	drainCtx, drainCancel := context.WithTimeout(shutdownCtx, shutdownDrainTimeout)
	if err := hub.Flush(drainCtx, cfg.BusChannel); err != nil {
		slog.Warn("Bus did not drain before shutdown", "error", err)
	}
	drainCancel()
	stopRecording()
	_ = recorderEp.Close()
	_ = operatorEp.Close()
	registry.CloseAll("server shutting down")
	healthServer.Stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func newRemote(cfg *config.Config) (engine.Remote, func(), error) {
	switch cfg.Engine.Backend {
	case config.BackendDocker:
		d, err := engine.NewDockerRemote(engine.DockerConfig{
			Image:     cfg.Engine.DockerImage,
			Container: cfg.Engine.DockerContainer,
			Network:   cfg.Engine.DockerNetwork,
			StreamURL: cfg.Engine.StreamURL,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, func() {
			if err := d.Close(); err != nil {
				slog.Warn("Failed to close docker client", "error", err)
			}
		}, nil
	default:
		return engine.NewHTTPRemote(engine.HTTPConfig{
			BaseURL:   cfg.Engine.BaseURL,
			StreamURL: cfg.Engine.StreamURL,
			Timeout:   cfg.Engine.CallTimeout,
		}), func() {}, nil
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
