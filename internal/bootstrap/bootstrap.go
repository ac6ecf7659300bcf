// Package bootstrap generates the initialisation code that runs inside a
// fresh sandbox before any user code.
//
// DESCRIPTOR → SERIALIZER:
// Callers never build JavaScript by string concatenation. They fill in a
// typed Descriptor (which side, which host, which features) and Build turns
// it into text through embedded text/templates. Every value that reaches the
// template is either a whitelisted token or a JSON-encoded literal, so a
// hostile side name or user snippet cannot escape into the bootstrap itself.
//
// The generated prelude:
//   - wraps console.log/error/warn/info (original behaviour + report)
//   - traps uncaught errors and unhandled promise rejections
//   - exposes a frozen __playground object the runner uses to report timing
//
// The runner (Payload.Program) evaluates the user code inside a guarded async
// block and, in a finally block, reports the elapsed time exactly once.
package bootstrap

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/sakif/pattern-playground/internal/event"
)

// Host selects which host API the generated code targets.
type Host string

const (
	// HostEmbedded targets the in-process goja sandbox: parent.postMessage,
	// addEventListener('error' | 'unhandledrejection').
	HostEmbedded Host = "embedded"
	// HostNode targets a node process: marker-prefixed JSON lines on stdout,
	// process.on('uncaughtException' | 'unhandledRejection').
	HostNode Host = "node"
)

// LineMarker prefixes every channel message a HostNode bootstrap writes to
// stdout, so the host can tell reports apart from pass-through console output.
const LineMarker = "\x1eplayground\x1e"

// DefaultGrace is how long the runner waits after user code settles before
// reporting its timing, giving fire-and-forget callbacks a chance to finish.
const DefaultGrace = 10 * time.Millisecond

var (
	ErrInvalidSide = errors.New("bootstrap: invalid side")
	ErrInvalidHost = errors.New("bootstrap: invalid host")
)

//go:embed templates/*.js.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.js.tmpl"))

// Descriptor describes one bootstrap. Side is the only required field when
// starting from Defaults.
type Descriptor struct {
	Side          event.Side
	Host          Host
	Console       bool          // intercept console.*
	ErrorTrap     bool          // report uncaught errors
	RejectionTrap bool          // report unhandled rejections
	Timing        bool          // report a performance event after user code
	Grace         time.Duration // delay before the performance event
}

// Defaults returns a descriptor with every feature enabled.
func Defaults(side event.Side, host Host) Descriptor {
	return Descriptor{
		Side:          side,
		Host:          host,
		Console:       true,
		ErrorTrap:     true,
		RejectionTrap: true,
		Timing:        true,
		Grace:         DefaultGrace,
	}
}

// Payload is a built bootstrap, ready to be combined with user code.
type Payload struct {
	Descriptor Descriptor
	Prelude    string
}

// Build validates the descriptor and renders the prelude.
func Build(d Descriptor) (Payload, error) {
	if !d.Side.Valid() {
		return Payload{}, fmt.Errorf("%w: %q", ErrInvalidSide, string(d.Side))
	}
	switch d.Host {
	case HostEmbedded, HostNode:
	default:
		return Payload{}, fmt.Errorf("%w: %q", ErrInvalidHost, string(d.Host))
	}
	if d.Grace < 0 {
		d.Grace = 0
	}

	var buf bytes.Buffer
	err := templates.ExecuteTemplate(&buf, "prelude.js.tmpl", map[string]any{
		"Side":          jsString(string(d.Side)),
		"Host":          string(d.Host),
		"Marker":        jsString(LineMarker),
		"Console":       d.Console,
		"ErrorTrap":     d.ErrorTrap,
		"RejectionTrap": d.RejectionTrap,
	})
	if err != nil {
		return Payload{}, fmt.Errorf("bootstrap: rendering prelude: %w", err)
	}

	return Payload{Descriptor: d, Prelude: buf.String()}, nil
}

// Program returns the complete script for a context: the prelude followed by
// the runner that evaluates userCode.
func (p Payload) Program(userCode string) string {
	var buf bytes.Buffer
	buf.WriteString(p.Prelude)
	buf.WriteString("\n")

	// The runner template only ever sees literals produced by jsString and an
	// integer, so rendering cannot fail for a payload that Build accepted.
	_ = templates.ExecuteTemplate(&buf, "runner.js.tmpl", map[string]any{
		"Source":      jsString(userCode),
		"Timing":      p.Descriptor.Timing,
		"GraceMillis": p.Descriptor.Grace.Milliseconds(),
	})
	return buf.String()
}

// jsString encodes s as a JSON string literal, which is also a valid
// JavaScript string literal. encoding/json escapes quotes, control
// characters, U+2028/U+2029 and <, >, &.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
