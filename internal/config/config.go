// Package config loads server settings from the environment.
//
// SOURCES, IN ORDER:
//  1. An optional .env file (joho/godotenv). It never overrides variables
//     that are already set in the real environment.
//  2. Environment variables, decoded by kelseyhightower/envconfig into the
//     typed Config below. Every field has a default.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Sandbox backends.
const (
	BackendGoja   = "goja"
	BackendDocker = "docker"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Auth       AuthConfig
	Sandbox    SandboxConfig
	Docker     DockerConfig
	Playground PlaygroundConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int      `envconfig:"PORT" default:"8080"`
	DBPath         string   `envconfig:"DB_PATH" default:"data/playground.db"`
	MaxSessions    int64    `envconfig:"MAX_SESSIONS" default:"8"`
	MaxCodeLength  int      `envconfig:"MAX_CODE_LENGTH" default:"100000"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"text"`
}

// AuthConfig holds GitHub login settings. Auth is disabled when JWTSecret
// is empty.
type AuthConfig struct {
	JWTSecret          string `envconfig:"JWT_SECRET"`
	GitHubClientID     string `envconfig:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `envconfig:"GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string `envconfig:"GITHUB_CALLBACK_URL"`
	SecureCookies      bool   `envconfig:"COOKIE_SECURE" default:"false"`
}

// SandboxConfig selects and tunes the execution backend.
type SandboxConfig struct {
	Backend    string        `envconfig:"SANDBOX_BACKEND" default:"goja"`
	MaxRuntime time.Duration `envconfig:"SANDBOX_MAX_RUNTIME" default:"5s"`
	Grace      time.Duration `envconfig:"BOOTSTRAP_GRACE" default:"10ms"`
}

// DockerConfig tunes the container backend.
type DockerConfig struct {
	Image    string  `envconfig:"DOCKER_IMAGE" default:"node:22-alpine"`
	MemoryMB int64   `envconfig:"DOCKER_MEMORY_MB" default:"128"`
	CPUs     float64 `envconfig:"DOCKER_CPUS" default:"0.5"`
	PoolSize int     `envconfig:"DOCKER_POOL_SIZE" default:"2"`
}

// PlaygroundConfig holds the fixed waits of a comparison cycle.
type PlaygroundConfig struct {
	Settle   time.Duration `envconfig:"SETTLE_DELAY" default:"50ms"`
	Cooldown time.Duration `envconfig:"COOLDOWN_DELAY" default:"100ms"`
	Drain    time.Duration `envconfig:"DRAIN_DELAY" default:"500ms"`
}

// RateLimitConfig holds per-client limits on run endpoints.
type RateLimitConfig struct {
	Enabled bool    `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RPS     float64 `envconfig:"RATE_LIMIT_RPS" default:"1"`
	Burst   int     `envconfig:"RATE_LIMIT_BURST" default:"5"`
}

// Load reads the given .env files (default ".env"; missing files are
// skipped) and then the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that envconfig cannot.
func (c *Config) Validate() error {
	var errs []error

	switch c.Sandbox.Backend {
	case BackendGoja, BackendDocker:
	default:
		errs = append(errs, fmt.Errorf("SANDBOX_BACKEND must be %q or %q, got %q", BackendGoja, BackendDocker, c.Sandbox.Backend))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", c.Server.Port))
	}
	if c.Server.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("MAX_SESSIONS must be at least 1"))
	}
	if c.Server.MaxCodeLength < 1 {
		errs = append(errs, fmt.Errorf("MAX_CODE_LENGTH must be at least 1"))
	}
	if c.Sandbox.Grace < 0 || c.Playground.Settle < 0 || c.Playground.Cooldown < 0 || c.Playground.Drain < 0 {
		errs = append(errs, fmt.Errorf("delays must not be negative"))
	}
	return errors.Join(errs...)
}

// CallbackURL returns the configured OAuth callback, or the local default.
func (a AuthConfig) CallbackURL(port int) string {
	if a.GitHubCallbackURL != "" {
		return a.GitHubCallbackURL
	}
	return fmt.Sprintf("http://localhost:%d/auth/github/callback", port)
}

// MemoryBytes is the container memory limit in bytes.
func (d DockerConfig) MemoryBytes() int64 {
	return d.MemoryMB * 1024 * 1024
}

// SlogLevel converts Log.Level; Validate guarantees it parses.
func (l LogConfig) SlogLevel() slog.Level {
	level, _ := parseLevel(l.Level)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
