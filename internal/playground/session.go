package playground

import (
	"log/slog"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/pattern-playground/internal/bootstrap"
	"github.com/sakif/pattern-playground/internal/recorder"
	"github.com/sakif/pattern-playground/internal/relay"
	"github.com/sakif/pattern-playground/internal/sandbox"
)

// SessionConfig wires one playground session.
type SessionConfig struct {
	Delays  Delays
	Grace   time.Duration
	Sleeper Sleeper

	SandboxObserver sandbox.Observer
	RelayObserver   relay.Observer
	CycleObserver   Observer
}

// DefaultSessionConfig returns standard delays and grace, no observers.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Delays: DefaultDelays(),
		Grace:  bootstrap.DefaultGrace,
	}
}

// Session bundles everything one user (or one request) needs to run
// comparisons: its own Recorder, RunState, Relay, sandbox Manager and
// Coordinator. Sessions share nothing but the Backend.
type Session struct {
	*Coordinator

	ID       string
	Recorder *recorder.Recorder

	manager *sandbox.Manager
}

// NewSession assembles a session on top of backend.
//
// The Manager and the Relay refer to each other: the Manager delivers into
// the Relay, and the Relay asks the Manager whether an origin is still live.
func NewSession(backend sandbox.Backend, logger *slog.Logger, cfg SessionConfig) *Session {
	id := xid.New().String()
	logger = logger.With(slog.String("session", id))

	rec := recorder.New()
	state := &RunState{}

	var rl *relay.Relay
	manager := sandbox.NewManager(backend,
		sandbox.SinkFunc(func(m sandbox.Message) { rl.Deliver(m) }),
		logger,
		sandbox.WithObserver(cfg.SandboxObserver),
	)
	rl = relay.New(rec, state, logger,
		relay.WithOriginCheck(manager.IsLive),
		relay.WithObserver(cfg.RelayObserver),
	)

	coordinator := New(manager, rec, state, logger,
		WithDelays(cfg.Delays),
		WithGrace(cfg.Grace),
		WithSleeper(cfg.Sleeper),
		WithObserver(cfg.CycleObserver),
	)

	return &Session{
		Coordinator: coordinator,
		ID:          id,
		Recorder:    rec,
		manager:     manager,
	}
}

// Close destroys the session's contexts. The session cannot run afterwards.
func (s *Session) Close() {
	s.manager.Close()
}
