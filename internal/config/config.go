// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Engine backends.
const (
	BackendHTTP   = "http"
	BackendDocker = "docker"
)

// Config holds all application configuration.
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	GRPCPort    string `envconfig:"GRPC_PORT" default:"9090"`
	FrontendURL string `envconfig:"FRONTEND_URL"`
	DBPath      string `envconfig:"DB_PATH" default:"./data/tryon.db"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	BusChannel  string `envconfig:"BUS_CHANNEL" default:"virtual-fit-app"`

	Engine    EngineConfig
	Catalog   CatalogConfig
	Scan      ScanConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Kiosk     KioskConfig
}

// EngineConfig selects and configures the try-on engine backend.
type EngineConfig struct {
	Backend         string        `envconfig:"ENGINE_BACKEND" default:"http"`
	BaseURL         string        `envconfig:"ENGINE_BASE_URL" default:"http://localhost:5000"`
	StreamURL       string        `envconfig:"ENGINE_STREAM_URL"`
	CallTimeout     time.Duration `envconfig:"ENGINE_CALL_TIMEOUT" default:"10s"`
	DockerImage     string        `envconfig:"ENGINE_DOCKER_IMAGE" default:"tryon-engine:latest"`
	DockerContainer string        `envconfig:"ENGINE_DOCKER_CONTAINER" default:"tryon-engine"`
	DockerNetwork   string        `envconfig:"ENGINE_DOCKER_NETWORK" default:"tryon-engine-net"`
}

// CatalogConfig points at the product service.
type CatalogConfig struct {
	BaseURL  string        `envconfig:"CATALOG_BASE_URL" default:"http://localhost:5000/api"`
	OutletID string        `envconfig:"CATALOG_OUTLET_ID"`
	Timeout  time.Duration `envconfig:"CATALOG_TIMEOUT" default:"10s"`
	RetryMax int           `envconfig:"CATALOG_RETRY_MAX" default:"2"`
}

// ScanConfig controls the simulated body-scan ramp.
type ScanConfig struct {
	RampDuration time.Duration `envconfig:"SCAN_RAMP_DURATION" default:"3s"`
	TickInterval time.Duration `envconfig:"SCAN_TICK_INTERVAL" default:"50ms"`
}

// SessionConfig controls session bookkeeping and surface liveness.
type SessionConfig struct {
	TTL           time.Duration `envconfig:"SESSION_TTL" default:"30m"`
	SweepInterval time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"1m"`
	CloseRepeats  int           `envconfig:"SESSION_CLOSE_REPEATS" default:"3"`
	Keepalive     time.Duration `envconfig:"SESSION_KEEPALIVE" default:"15s"`
}

// RateLimitConfig bounds engine control requests.
type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"ENGINE_RATE_LIMIT_RPS" default:"2"`
	Burst             int     `envconfig:"ENGINE_RATE_LIMIT_BURST" default:"4"`
}

// KioskConfig is read by the customer kiosk binary.
type KioskConfig struct {
	ServerURL    string        `envconfig:"KIOSK_SERVER_URL" default:"http://localhost:8080"`
	ID           string        `envconfig:"KIOSK_ID" default:"kiosk-1"`
	PollInterval time.Duration `envconfig:"KIOSK_POLL_INTERVAL" default:"1s"`
	// HealthAddr, when set, is the orchestrator's gRPC health address; the
	// kiosk then waits on the engine health watch instead of polling.
	HealthAddr string `envconfig:"KIOSK_HEALTH_ADDR"`
}

// Load reads .env (if present) and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.BusChannel == "" {
		return fmt.Errorf("BUS_CHANNEL cannot be empty")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.Engine.Backend {
	case BackendHTTP:
		if _, err := url.ParseRequestURI(c.Engine.BaseURL); err != nil {
			return fmt.Errorf("ENGINE_BASE_URL is not a valid URL: %w", err)
		}
	case BackendDocker:
		if c.Engine.DockerImage == "" || c.Engine.DockerContainer == "" {
			return fmt.Errorf("ENGINE_DOCKER_IMAGE and ENGINE_DOCKER_CONTAINER are required for the docker backend")
		}
	default:
		return fmt.Errorf("ENGINE_BACKEND must be %q or %q, got %q", BackendHTTP, BackendDocker, c.Engine.Backend)
	}

	if c.Engine.CallTimeout <= 0 {
		return fmt.Errorf("ENGINE_CALL_TIMEOUT must be > 0")
	}
	if c.Scan.RampDuration <= 0 || c.Scan.TickInterval <= 0 {
		return fmt.Errorf("SCAN_RAMP_DURATION and SCAN_TICK_INTERVAL must be > 0")
	}
	if c.Scan.TickInterval > c.Scan.RampDuration {
		return fmt.Errorf("SCAN_TICK_INTERVAL must not exceed SCAN_RAMP_DURATION")
	}
	if c.Session.TTL <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_TTL and SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Session.CloseRepeats < 1 {
		return fmt.Errorf("SESSION_CLOSE_REPEATS must be >= 1")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1 {
		return fmt.Errorf("ENGINE_RATE_LIMIT_RPS must be > 0 and ENGINE_RATE_LIMIT_BURST >= 1")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, _ := ParseLevel(c.LogLevel)
	return level
}

// ParseLevel maps debug|info|warn|error onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", s)
	}
}
