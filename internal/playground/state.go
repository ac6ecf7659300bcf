package playground

import (
	"sync"

	"github.com/sakif/pattern-playground/internal/event"
)

// State is a snapshot of RunState.
type State struct {
	IsRunning bool    `json:"isRunning"`
	TimeA     float64 `json:"timeA"`
	TimeB     float64 `json:"timeB"`
}

// RunState tracks whether a cycle is in progress and the latest timing
// reported by each side. The Relay writes timings; the Coordinator resets it
// and reads it when reporting.
type RunState struct {
	mu    sync.Mutex
	state State
}

// RecordTime overwrites the time of side. Timings for unknown sides are
// ignored.
func (s *RunState) RecordTime(side event.Side, ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch side {
	case event.SideA:
		s.state.TimeA = ms
	case event.SideB:
		s.state.TimeB = ms
	}
}

// Snapshot returns a copy of the current state.
func (s *RunState) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *RunState) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{IsRunning: true}
}

func (s *RunState) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IsRunning = false
}

func (s *RunState) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{}
}
