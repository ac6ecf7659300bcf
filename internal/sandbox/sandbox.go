// Package sandbox owns the isolated execution contexts that user code runs in.
//
// ISOLATION BOUNDARY:
// The Manager creates a context, hands it a program, and from then on never
// looks inside it. The ONLY way information flows back to the host is the
// context's outbound channel: the context calls Post with raw bytes, the
// Manager tags them with the context's identity, and forwards them to a Sink
// (the Message Relay). Whatever the context claims in those bytes is
// validated downstream; the Manager trusts nothing.
//
// ONE CONTEXT PER SIDE:
// There are two logical sides (A and B). Creating a context for a side first
// destroys the current one for that side, so two contexts for the same side
// never coexist. A destroyed context is silenced immediately: anything it
// tries to post afterwards is dropped before it reaches the Sink, so a late
// timer from an old run can never be mistaken for output of a newer run.
// Teardown also waits for deliveries already past that check, so once
// Destroy or DestroyAll returns the context has nothing left in flight.
//
// BACKENDS:
// How a context is actually realised is pluggable:
//   - GojaBackend: an in-process goja runtime on its own event loop
//   - docker.Backend: a node process inside a locked-down container
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/pattern-playground/internal/bootstrap"
	"github.com/sakif/pattern-playground/internal/event"
)

var (
	ErrInvalidSide = errors.New("sandbox: invalid side")
	ErrClosed      = errors.New("sandbox: manager is closed")
)

// Message is one raw report from a context, tagged by the Manager with the
// identity and side of the context that sent it.
type Message struct {
	Origin string     // context ID
	Side   event.Side // side the context was created for
	Data   []byte     // raw payload, validated by the receiver
}

// Sink receives every message posted by a live context.
type Sink interface {
	Deliver(Message)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Message)

func (f SinkFunc) Deliver(m Message) { f(m) }

// LaunchSpec is what a Backend needs to start one context.
type LaunchSpec struct {
	ID      string
	Side    event.Side
	Program string
	// Post is the context's outbound channel. It is safe to call from any
	// goroutine and becomes a no-op once the context is destroyed.
	Post func(data []byte)
}

// Instance is a running context as seen by the Manager.
type Instance interface {
	// Idle reports whether the context has no more work scheduled.
	Idle() bool
	// Stop tears the context down. It must be idempotent and must not block
	// on user code.
	Stop()
}

// Backend realises execution contexts.
type Backend interface {
	Name() string
	// Host tells the caller which bootstrap variant programs must be built for.
	Host() bootstrap.Host
	Launch(ctx context.Context, spec LaunchSpec) (Instance, error)
}

// State is the lifecycle state of a context.
type State string

const (
	StateRunning   State = "running"
	StateIdle      State = "idle"
	StateDestroyed State = "destroyed"
)

// Handle identifies one context. It is returned by Create and is the only
// thing callers hold; the backend instance stays private.
type Handle struct {
	ID        string
	Side      event.Side
	CreatedAt time.Time

	destroyed atomic.Bool
	mu        sync.Mutex
	inst      Instance
}

// State reports the current lifecycle state.
func (h *Handle) State() State {
	if h.destroyed.Load() {
		return StateDestroyed
	}
	h.mu.Lock()
	inst := h.inst
	h.mu.Unlock()
	if inst == nil || !inst.Idle() {
		return StateRunning
	}
	return StateIdle
}

func (h *Handle) attach(inst Instance) {
	h.mu.Lock()
	h.inst = inst
	h.mu.Unlock()

	// Destroy may have raced with Launch; Stop is idempotent.
	if h.destroyed.Load() {
		inst.Stop()
	}
}

func (h *Handle) teardown() bool {
	if h.destroyed.Swap(true) {
		return false
	}
	h.mu.Lock()
	inst := h.inst
	h.mu.Unlock()
	if inst != nil {
		inst.Stop()
	}
	return true
}

// Observer is notified about context lifecycle events (metrics).
type Observer interface {
	ContextCreated(side event.Side)
	ContextDestroyed(side event.Side)
}

type nopObserver struct{}

func (nopObserver) ContextCreated(event.Side)   {}
func (nopObserver) ContextDestroyed(event.Side) {}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver attaches a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// Manager creates and destroys contexts, at most one live context per side.
type Manager struct {
	backend  Backend
	sink     Sink
	logger   *slog.Logger
	observer Observer

	mu     sync.Mutex
	live   map[event.Side]*Handle
	closed bool

	// gate is read-held for the duration of every delivery and write-locked
	// by teardown to wait out deliveries that passed the destroyed check.
	gate sync.RWMutex
}

// NewManager creates a Manager that launches contexts on backend and
// forwards their messages to sink.
func NewManager(backend Backend, sink Sink, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		backend:  backend,
		sink:     sink,
		logger:   logger,
		observer: nopObserver{},
		live:     make(map[event.Side]*Handle, len(event.Sides)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Host is the bootstrap variant the configured backend expects.
func (m *Manager) Host() bootstrap.Host {
	return m.backend.Host()
}

// Create destroys any live context for side and launches a fresh one that
// runs program.
func (m *Manager) Create(ctx context.Context, side event.Side, program string) (*Handle, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, string(side))
	}

	h := &Handle{
		ID:        xid.New().String(),
		Side:      side,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	prev := m.live[side]
	// Register before launching so the very first post already counts as live.
	m.live[side] = h
	m.mu.Unlock()

	if prev != nil {
		m.teardown(prev)
	}

	inst, err := m.backend.Launch(ctx, LaunchSpec{
		ID:      h.ID,
		Side:    side,
		Program: program,
		Post:    func(data []byte) { m.deliver(h, data) },
	})
	if err != nil {
		m.mu.Lock()
		if m.live[side] == h {
			delete(m.live, side)
		}
		m.mu.Unlock()
		h.destroyed.Store(true)
		return nil, fmt.Errorf("sandbox: launching %s context on %s: %w", side.Label(), m.backend.Name(), err)
	}
	h.attach(inst)

	m.observer.ContextCreated(side)
	m.logger.Debug("sandbox context created",
		slog.String("context", h.ID),
		slog.String("side", string(side)),
		slog.String("backend", m.backend.Name()),
	)
	return h, nil
}

// Destroy detaches and tears down the context. Destroying an already
// destroyed handle is a no-op.
func (m *Manager) Destroy(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	if m.live[h.Side] == h {
		delete(m.live, h.Side)
	}
	m.mu.Unlock()

	m.teardown(h)
}

// DestroyAll tears down every live context.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.live))
	for side, h := range m.live {
		handles = append(handles, h)
		delete(m.live, side)
	}
	m.mu.Unlock()

	for _, h := range handles {
		m.teardown(h)
	}
}

// Close destroys all contexts and refuses further Creates.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.DestroyAll()
}

// Live returns the live context for side, or nil.
func (m *Manager) Live(side event.Side) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[side]
}

// IsLive reports whether id names a context that has not been destroyed.
func (m *Manager) IsLive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.live {
		if h.ID == id {
			return true
		}
	}
	return false
}

// Count returns the number of live contexts.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *Manager) teardown(h *Handle) {
	if !h.teardown() {
		return
	}
	// Wait out deliveries that got past the destroyed check.
	m.gate.Lock()
	m.gate.Unlock() //nolint:staticcheck

	m.observer.ContextDestroyed(h.Side)
	m.logger.Debug("sandbox context destroyed",
		slog.String("context", h.ID),
		slog.String("side", string(h.Side)),
	)
}

func (m *Manager) deliver(h *Handle, data []byte) {
	m.gate.RLock()
	defer m.gate.RUnlock()
	if h.destroyed.Load() {
		return
	}
	m.sink.Deliver(Message{Origin: h.ID, Side: h.Side, Data: data})
}
