package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "virtual-fit-app", cfg.BusChannel)
	assert.Equal(t, BackendHTTP, cfg.Engine.Backend)
	assert.Equal(t, 10*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, 3*time.Second, cfg.Scan.RampDuration)
	assert.Equal(t, 50*time.Millisecond, cfg.Scan.TickInterval)
	assert.Equal(t, 3, cfg.Session.CloseRepeats)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadFromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("ENGINE_BACKEND", "docker")
	t.Setenv("ENGINE_CALL_TIMEOUT", "2s")
	t.Setenv("SESSION_TTL", "5m")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("FRONTEND_URL", "https://kiosk.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, BackendDocker, cfg.Engine.Backend)
	assert.Equal(t, 2*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Session.TTL)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.False(t, cfg.IsDevelopment())
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())

	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"ENGINE_BACKEND": "ssh"}},
		{"bad engine url", map[string]string{"ENGINE_BASE_URL": "not a url"}},
		{"zero timeout", map[string]string{"ENGINE_CALL_TIMEOUT": "0s"}},
		{"tick longer than ramp", map[string]string{"SCAN_RAMP_DURATION": "10ms", "SCAN_TICK_INTERVAL": "1s"}},
		{"no close repeats", map[string]string{"SESSION_CLOSE_REPEATS": "0"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
		{"empty channel", map[string]string{"BUS_CHANNEL": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
