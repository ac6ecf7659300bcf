package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ErrPoolStopped is returned by Acquire after the pool has been stopped.
var ErrPoolStopped = errors.New("docker: container pool stopped")

// Pool keeps PoolSize idle containers warm so launching a context only costs
// an exec, not a container create + start.
//
// LIFECYCLE OF A CONTAINER:
//
//	create ("sleep infinity") → warm in pool → Acquire → one program → Remove
//
// Containers are single-use: whatever a program left behind in /tmp dies with
// its container. The refill loop notices the gap and starts a replacement.
type Pool struct {
	cli    *client.Client
	cfg    Config
	logger *slog.Logger

	warm    chan string
	refill  chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	stopped atomic.Bool
}

// NewPool creates an empty pool. Call Start to begin warming containers.
func NewPool(cli *client.Client, cfg Config, logger *slog.Logger) *Pool {
	size := max(cfg.PoolSize, 1)
	return &Pool{
		cli:    cli,
		cfg:    cfg,
		logger: logger,
		warm:   make(chan string, size),
		refill: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the refill loop.
func (p *Pool) Start() {
	p.once.Do(func() {
		p.logger.Info("starting sandbox container pool",
			slog.String("image", p.cfg.Image),
			slog.Int("size", cap(p.warm)),
		)
		p.wg.Add(1)
		go p.loop()
	})
}

// Stop ends the refill loop and removes every warm container.
func (p *Pool) Stop() {
	if p.stopped.Swap(true) {
		return
	}
	close(p.done)
	p.wg.Wait()

	for {
		select {
		case id := <-p.warm:
			p.Remove(id)
		default:
			return
		}
	}
}

// Warm returns the number of containers currently ready.
func (p *Pool) Warm() int {
	return len(p.warm)
}

// Acquire hands out a warm container, waiting until one is ready or ctx is
// done. The caller owns the container and must Remove it.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	select {
	case id := <-p.warm:
		p.kick()
		return id, nil
	case <-p.done:
		return "", ErrPoolStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Remove force-removes a container, bounded by a short timeout.
func (p *Pool) Remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		p.logger.Warn("failed to remove sandbox container",
			slog.String("container", shortID(id)),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) kick() {
	select {
	case p.refill <- struct{}{}:
	default:
	}
}

// loop tops the pool up whenever it is kicked, and every second as a safety
// net after failures.
func (p *Pool) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	p.fill()
	for {
		select {
		case <-p.done:
			return
		case <-p.refill:
		case <-ticker.C:
		}
		p.fill()
	}
}

func (p *Pool) fill() {
	for len(p.warm) < cap(p.warm) {
		id, err := p.create()
		if err != nil {
			p.logger.Error("failed to warm sandbox container", slog.String("error", err.Error()))
			return
		}

		select {
		case p.warm <- id:
		case <-p.done:
			p.Remove(id)
			return
		}
	}
}

// create starts an idle, locked-down container: no network, read-only root
// filesystem, a small tmpfs, capped memory and CPU, unprivileged user.
func (p *Pool) create() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=16m"},
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:   p.cfg.MemoryLimit,
			NanoCPUs: int64(p.cfg.CPULimit * 1e9),
		},
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:      p.cfg.Image,
		Entrypoint: []string{"sleep"},
		Cmd:        []string{"infinity"},
		User:       p.cfg.User,
		Labels:     map[string]string{"playground.role": "sandbox"},
	}, hostConfig, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.Remove(resp.ID)
		return "", fmt.Errorf("container start: %w", err)
	}
	return resp.ID, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
