package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, BackendGoja, cfg.Sandbox.Backend)
	assert.Equal(t, 10*time.Millisecond, cfg.Sandbox.Grace)
	assert.Equal(t, 50*time.Millisecond, cfg.Playground.Settle)
	assert.Equal(t, 100*time.Millisecond, cfg.Playground.Cooldown)
	assert.Equal(t, 500*time.Millisecond, cfg.Playground.Drain)
	assert.Equal(t, 100000, cfg.Server.MaxCodeLength)
	assert.Equal(t, int64(128*1024*1024), cfg.Docker.MemoryBytes())
	assert.Equal(t, slog.LevelInfo, cfg.Log.SlogLevel())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SANDBOX_BACKEND", "docker")
	t.Setenv("DRAIN_DELAY", "1s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, BackendDocker, cfg.Sandbox.Backend)
	assert.Equal(t, time.Second, cfg.Playground.Drain)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("MAX_SESSIONS=3\nPORT=7000\n"), 0o600))

	t.Setenv("PORT", "9191")
	t.Cleanup(func() { os.Unsetenv("MAX_SESSIONS") })

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, int64(3), cfg.Server.MaxSessions)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"SANDBOX_BACKEND": "v8",
		"LOG_LEVEL":       "loud",
		"LOG_FORMAT":      "xml",
		"PORT":            "0",
		"MAX_SESSIONS":    "0",
		"DRAIN_DELAY":     "-1s",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}

func TestCallbackURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/auth/github/callback", AuthConfig{}.CallbackURL(8080))
	assert.Equal(t, "https://x.test/cb", AuthConfig{GitHubCallbackURL: "https://x.test/cb"}.CallbackURL(8080))
}
