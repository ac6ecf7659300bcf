// Package docker is the container sandbox backend: every context is a
// `node` process exec'd inside a pre-warmed, network-less container.
//
// THE CHANNEL:
// A container has no parent window to post to. The bootstrap's node variant
// writes each message as one stdout line prefixed with bootstrap.LineMarker;
// the backend demultiplexes the exec stream, picks out the marked lines and
// hands them to the Manager exactly like the in-process backend does.
// Unmarked stdout and all of stderr only reach the server log.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/pattern-playground/internal/bootstrap"
	"github.com/sakif/pattern-playground/internal/sandbox"
)

// Backend implements sandbox.Backend on top of Docker.
type Backend struct {
	cli    *client.Client
	cfg    Config
	logger *slog.Logger
	pool   *Pool
}

// New connects to the Docker daemon, makes sure the image is present and
// starts warming containers.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	pullCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	logger.Info("ensuring sandbox image is available", slog.String("image", cfg.Image))
	reader, err := cli.ImagePull(pullCtx, cfg.Image, image.PullOptions{})
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("pulling %s: %w", cfg.Image, err)
	}
	// the pull only completes once the progress stream is drained
	_, _ = io.Copy(io.Discard, reader)
	_ = reader.Close()

	b := &Backend{
		cli:    cli,
		cfg:    cfg,
		logger: logger,
		pool:   NewPool(cli, cfg, logger),
	}
	b.pool.Start()
	return b, nil
}

func (b *Backend) Name() string { return "docker" }

func (b *Backend) Host() bootstrap.Host { return bootstrap.HostNode }

// Pool exposes the container pool (for metrics).
func (b *Backend) Pool() *Pool { return b.pool }

// Close stops the pool and the client.
func (b *Backend) Close() error {
	b.pool.Stop()
	return b.cli.Close()
}

// Launch takes a warm container, starts `node -` in it and writes the
// program to its stdin. Output is streamed in the background; Launch
// returns as soon as the program is handed over.
func (b *Backend) Launch(ctx context.Context, spec sandbox.LaunchSpec) (sandbox.Instance, error) {
	containerID, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring container: %w", err)
	}

	logger := b.logger.With(
		slog.String("context", spec.ID),
		slog.String("side", string(spec.Side)),
		slog.String("container", shortID(containerID)),
	)

	// The exec must outlive the request that launched it; Stop cancels it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	execResp, err := b.cli.ContainerExecCreate(runCtx, containerID, execOptions(b.cfg.User))
	if err != nil {
		cancel()
		b.pool.Remove(containerID)
		return nil, fmt.Errorf("exec create: %w", err)
	}

	attach, err := b.cli.ContainerExecAttach(runCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		cancel()
		b.pool.Remove(containerID)
		return nil, fmt.Errorf("exec attach: %w", err)
	}

	inst := &instance{
		pool:        b.pool,
		containerID: containerID,
		logger:      logger,
		cancel:      cancel,
		exited:      make(chan struct{}),
	}

	stdout := newLineWriter(bootstrap.LineMarker, spec.Post, func(line []byte) {
		logger.Debug("sandbox stdout", slog.String("line", string(line)))
	})
	stderr := newLineWriter(bootstrap.LineMarker, func([]byte) {}, func(line []byte) {
		logger.Debug("sandbox stderr", slog.String("line", string(line)))
	})

	go func() {
		defer close(inst.exited)
		defer attach.Close()
		if _, err := stdcopy.StdCopy(stdout, stderr, attach.Reader); err != nil && !inst.stopped.Load() {
			logger.Debug("sandbox stream ended", slog.String("error", err.Error()))
		}
		stdout.Flush()
		stderr.Flush()
	}()

	// node only starts evaluating once stdin is closed.
	if _, err := io.WriteString(attach.Conn, spec.Program); err != nil {
		inst.Stop()
		return nil, fmt.Errorf("exec stdin: %w", err)
	}
	if err := attach.CloseWrite(); err != nil {
		inst.Stop()
		return nil, fmt.Errorf("exec stdin: %w", err)
	}

	if b.cfg.MaxRuntime > 0 {
		inst.guard = time.AfterFunc(b.cfg.MaxRuntime, func() {
			logger.Warn("sandbox container exceeded max runtime, stopping",
				slog.Duration("max_runtime", b.cfg.MaxRuntime))
			inst.Stop()
		})
	}
	return inst, nil
}

// execOptions runs node reading its program from stdin. The program never
// goes on the command line, so its size is not bounded by the kernel's
// per-argument limit.
func execOptions(user string) container.ExecOptions {
	return container.ExecOptions{
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{"node", "-"},
		User:         user,
	}
}

// instance is one exec in one container.
type instance struct {
	pool        *Pool
	containerID string
	logger      *slog.Logger
	cancel      context.CancelFunc
	guard       *time.Timer

	exited  chan struct{}
	stopped atomic.Bool
	once    sync.Once
}

// Idle reports whether the node process has exited.
func (i *instance) Idle() bool {
	select {
	case <-i.exited:
		return true
	default:
		return i.stopped.Load()
	}
}

// Stop cancels the exec stream and removes the container in the background.
func (i *instance) Stop() {
	i.once.Do(func() {
		i.stopped.Store(true)
		if i.guard != nil {
			i.guard.Stop()
		}
		i.cancel()
		go i.pool.Remove(i.containerID)
	})
}
