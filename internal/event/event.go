// Package event defines the vocabulary shared by the execution engine:
// which side produced something, at which console level, and the two kinds of
// message a sandboxed context may report back to the host.
//
// WHY A SUM TYPE?
// Contexts talk to the host over a weakly-typed channel (raw JSON). At the
// boundary we turn that into one of exactly two Go types, Console or
// Performance, and everything downstream switches on the concrete type.
// Unknown shapes never get past the Relay, so no other package has to
// re-check "does this map have a message field?".
package event

import "strings"

// Side identifies which sandbox produced an event.
//
// The wire tokens are "A" and "B". Anything else is invalid; there is no
// third side and no zero-value default.
type Side string

const (
	SideA Side = "A" // vanilla implementation
	SideB Side = "B" // library implementation
)

// Sides lists every valid side in run order.
var Sides = [...]Side{SideA, SideB}

// ParseSide whitelists a raw token. Only the exact tokens "A" and "B" pass.
func ParseSide(s string) (Side, bool) {
	switch Side(s) {
	case SideA, SideB:
		return Side(s), true
	}
	return "", false
}

// Valid reports whether s is one of the two recognised sides.
func (s Side) Valid() bool {
	_, ok := ParseSide(string(s))
	return ok
}

// Label is the human-facing name of the side.
func (s Side) Label() string {
	switch s {
	case SideA:
		return "vanilla"
	case SideB:
		return "library"
	}
	return "unknown"
}

// Level is one of the four intercepted console channels.
type Level string

const (
	LevelLog   Level = "log"
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
)

// Levels lists the intercepted console methods.
var Levels = [...]Level{LevelLog, LevelError, LevelWarn, LevelInfo}

// ParseLevel accepts only the four intercepted levels.
func ParseLevel(s string) (Level, bool) {
	switch Level(s) {
	case LevelLog, LevelError, LevelWarn, LevelInfo:
		return Level(s), true
	}
	return "", false
}

// Wire type tags.
const (
	TypeConsole     = "console"
	TypePerformance = "performance"
)

// Inbound is a validated message reported by a running context.
// The only implementations are Console and Performance.
type Inbound interface {
	// Origin returns the side the event is attributed to.
	Origin() Side
	inbound()
}

// Console is one intercepted console call.
type Console struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
	Side    Side   `json:"side"`
}

func (c Console) Origin() Side { return c.Side }
func (Console) inbound()       {}

// Performance carries the elapsed wall-clock time of one side's user code.
type Performance struct {
	Side Side `json:"side"`
	// Time is in milliseconds (fractional).
	Time float64 `json:"time"`
}

func (p Performance) Origin() Side { return p.Side }
func (Performance) inbound()       {}

// String renders a side for logs, e.g. "A (vanilla)".
func (s Side) String() string {
	if !s.Valid() {
		return strings.TrimSpace(string(s) + " (unknown)")
	}
	return string(s) + " (" + s.Label() + ")"
}
