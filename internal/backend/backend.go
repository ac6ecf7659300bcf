// Package backend picks the sandbox backend named in the configuration.
// Both the server and the compare CLI start one the same way.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/pattern-playground/internal/config"
	"github.com/sakif/pattern-playground/internal/metrics"
	"github.com/sakif/pattern-playground/internal/sandbox"
	"github.com/sakif/pattern-playground/internal/sandbox/docker"
)

// Open starts the configured backend. The returned close func releases it
// (for goja it does nothing). m may be nil.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (sandbox.Backend, func() error, error) {
	switch cfg.Sandbox.Backend {
	case config.BackendGoja:
		gcfg := sandbox.DefaultGojaConfig()
		gcfg.MaxRuntime = cfg.Sandbox.MaxRuntime
		return sandbox.NewGojaBackend(gcfg, logger), func() error { return nil }, nil

	case config.BackendDocker:
		dcfg := docker.DefaultConfig()
		dcfg.Image = cfg.Docker.Image
		dcfg.MemoryLimit = cfg.Docker.MemoryBytes()
		dcfg.CPULimit = cfg.Docker.CPUs
		dcfg.PoolSize = cfg.Docker.PoolSize
		dcfg.MaxRuntime = cfg.Sandbox.MaxRuntime

		b, err := docker.New(ctx, dcfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("starting docker backend: %w", err)
		}
		if m != nil {
			pool := b.Pool()
			m.RegisterGauge("docker_pool_warm", "Pre-warmed sandbox containers ready for use.",
				func() float64 { return float64(pool.Warm()) })
		}
		return b, b.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown sandbox backend %q", cfg.Sandbox.Backend)
}
