package docker

import (
	"time"
)

// Config holds the settings of the container backend.
type Config struct {
	// Image must provide a `node` binary on PATH.
	Image string
	// MemoryLimit is the container memory cap in bytes.
	MemoryLimit int64
	// CPULimit is the number of CPUs a container may use.
	CPULimit float64
	// MaxRuntime force-stops a context that is still alive after this long.
	MaxRuntime time.Duration
	// PoolSize is the number of pre-warmed containers kept ready.
	PoolSize int
	// User the program runs as inside the container.
	User string
}

// DefaultConfig returns limits suited to short JavaScript snippets.
func DefaultConfig() Config {
	return Config{
		Image:       "node:22-alpine",
		MemoryLimit: 128 * 1024 * 1024,
		CPULimit:    0.5,
		MaxRuntime:  5 * time.Second,
		// two sides per cycle
		PoolSize: 2,
		User:     "node",
	}
}
