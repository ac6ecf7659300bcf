// Package playground sequences a comparison cycle: run side A, cool down,
// run side B, drain late output, then report which side was faster.
//
// THE CYCLE:
//
//	Idle → RunningA → Cooldown → RunningB → Draining → Reporting → Idle
//
// Each side gets a fresh sandbox context built from the bootstrap payload.
// The coordinator never waits for user code to "finish" (it cannot know); it
// waits fixed, injectable delays and trusts the contexts to report their own
// timing through the Relay before the drain window closes.
//
// SINGLE FLIGHT:
// Only one cycle runs at a time. A Run that arrives while a cycle is in
// progress is refused with ErrAlreadyRunning and leaves everything untouched,
// apart from one warning notice.
package playground

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/pattern-playground/internal/bootstrap"
	"github.com/sakif/pattern-playground/internal/event"
	"github.com/sakif/pattern-playground/internal/recorder"
	"github.com/sakif/pattern-playground/internal/sandbox"
)

// ErrAlreadyRunning is returned by Run and Reset while a cycle is in progress.
var ErrAlreadyRunning = errors.New("playground: a comparison is already running")

// Phase is the coordinator's position in the cycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunningA  Phase = "running-a"
	PhaseCooldown  Phase = "cooldown"
	PhaseRunningB  Phase = "running-b"
	PhaseDraining  Phase = "draining"
	PhaseReporting Phase = "reporting"
)

func runningPhase(side event.Side) Phase {
	if side == event.SideB {
		return PhaseRunningB
	}
	return PhaseRunningA
}

// Cycle outcomes, used as metric labels.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Delays are the fixed waits of a cycle.
type Delays struct {
	Settle   time.Duration // after creating each context
	Cooldown time.Duration // between side A and side B
	Drain    time.Duration // after side B, before reporting
}

// DefaultDelays returns the standard cycle timing.
func DefaultDelays() Delays {
	return Delays{
		Settle:   50 * time.Millisecond,
		Cooldown: 100 * time.Millisecond,
		Drain:    500 * time.Millisecond,
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ContextManager is the part of sandbox.Manager the coordinator uses.
type ContextManager interface {
	Host() bootstrap.Host
	Create(ctx context.Context, side event.Side, program string) (*sandbox.Handle, error)
	DestroyAll()
}

// Observer is notified about cycles (metrics).
type Observer interface {
	CycleStarted()
	CycleFinished(outcome string, elapsed time.Duration)
	CycleRejected()
	SideTimed(side event.Side, ms float64)
}

type nopObserver struct{}

func (nopObserver) CycleStarted()                        {}
func (nopObserver) CycleFinished(string, time.Duration) {}
func (nopObserver) CycleRejected()                       {}
func (nopObserver) SideTimed(event.Side, float64)        {}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithDelays(d Delays) Option { return func(c *Coordinator) { c.delays = d } }

func WithSleeper(s Sleeper) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithGrace sets the bootstrap grace delay baked into every program.
func WithGrace(d time.Duration) Option { return func(c *Coordinator) { c.grace = d } }

func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// Coordinator runs comparison cycles.
type Coordinator struct {
	contexts ContextManager
	rec      *recorder.Recorder
	state    *RunState
	logger   *slog.Logger
	delays   Delays
	grace    time.Duration
	sleep    Sleeper
	observer Observer

	mu       sync.Mutex
	phase    Phase
	warnings []string
}

// New creates an idle Coordinator.
func New(contexts ContextManager, rec *recorder.Recorder, state *RunState, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		contexts: contexts,
		rec:      rec,
		state:    state,
		logger:   logger,
		delays:   DefaultDelays(),
		grace:    bootstrap.DefaultGrace,
		sleep:    Sleep,
		observer: nopObserver{},
		phase:    PhaseIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// State returns a snapshot of the run state.
func (c *Coordinator) State() State {
	return c.state.Snapshot()
}

// Warnings returns every notice recorded for refused Runs, oldest first.
func (c *Coordinator) Warnings() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.warnings...)
}

// Run executes one full cycle with codeA on side A and codeB on side B and
// returns the comparison that was appended to the Recorder.
//
// Failures never escape as a stuck coordinator: whatever happens, the
// coordinator is back in PhaseIdle when Run returns, and the failure is
// visible in the output as an "Execution error" line.
func (c *Coordinator) Run(ctx context.Context, codeA, codeB string) (result event.Comparison, err error) {
	if !c.begin() {
		c.refuse()
		return event.Comparison{}, ErrAlreadyRunning
	}

	started := time.Now()
	inFlight := event.SideA
	c.observer.CycleStarted()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		outcome := OutcomeOK
		if err != nil {
			outcome = OutcomeFailed
			c.contexts.DestroyAll()
			c.rec.Console(event.LevelError, "Execution error: "+err.Error(), inFlight)
			c.logger.Error("comparison cycle failed",
				slog.String("side", inFlight.String()),
				slog.String("error", err.Error()),
			)
		}
		c.state.stop()
		c.setPhase(PhaseIdle)
		c.observer.CycleFinished(outcome, time.Since(started))
	}()

	c.rec.Clear()
	c.state.start()

	code := map[event.Side]string{event.SideA: codeA, event.SideB: codeB}
	for i, side := range event.Sides {
		if i > 0 {
			c.setPhase(PhaseCooldown)
			if err := c.sleep(ctx, c.delays.Cooldown); err != nil {
				return event.Comparison{}, err
			}
		}

		inFlight = side
		c.setPhase(runningPhase(side))
		if err := c.launch(ctx, side, code[side]); err != nil {
			return event.Comparison{}, err
		}
		if err := c.sleep(ctx, c.delays.Settle); err != nil {
			return event.Comparison{}, err
		}
	}

	c.setPhase(PhaseDraining)
	if err := c.sleep(ctx, c.delays.Drain); err != nil {
		return event.Comparison{}, err
	}

	// Contexts go first so nothing can land after the summary.
	c.setPhase(PhaseReporting)
	c.contexts.DestroyAll()

	snap := c.state.Snapshot()
	result = event.Compare(snap.TimeA, snap.TimeB)
	c.rec.Summary(result)
	c.observer.SideTimed(event.SideA, snap.TimeA)
	c.observer.SideTimed(event.SideB, snap.TimeB)

	c.logger.Info("comparison cycle finished",
		slog.Float64("time_a_ms", snap.TimeA),
		slog.Float64("time_b_ms", snap.TimeB),
		slog.String("faster", result.Faster.String()),
		slog.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

// Reset tears down both contexts, clears the output and zeroes the timings.
func (c *Coordinator) Reset() error {
	if !c.begin() {
		return ErrAlreadyRunning
	}
	defer c.setPhase(PhaseIdle)

	c.contexts.DestroyAll()
	c.rec.Clear()
	c.state.reset()
	return nil
}

// Clear empties the output without touching contexts or timings.
func (c *Coordinator) Clear() {
	c.rec.Clear()
}

func (c *Coordinator) launch(ctx context.Context, side event.Side, code string) error {
	d := bootstrap.Defaults(side, c.contexts.Host())
	d.Grace = c.grace

	payload, err := bootstrap.Build(d)
	if err != nil {
		return fmt.Errorf("building bootstrap for %s: %w", side.Label(), err)
	}
	if _, err := c.contexts.Create(ctx, side, payload.Program(code)); err != nil {
		return err
	}
	return nil
}

// begin moves Idle → RunningA. It reports false if a cycle is in progress.
func (c *Coordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseIdle {
		return false
	}
	c.phase = PhaseRunningA
	return true
}

func (c *Coordinator) refuse() {
	const notice = "a comparison is already running; request ignored"

	c.mu.Lock()
	c.warnings = append(c.warnings, notice)
	phase := c.phase
	c.mu.Unlock()

	c.observer.CycleRejected()
	c.logger.Warn(notice, slog.String("phase", string(phase)))
}

func (c *Coordinator) setPhase(p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = p
}
