// Package relay is the single inbound channel between running contexts and
// the host.
//
// Everything a context reports arrives here as raw bytes. The relay decides
// whether those bytes are one of the two recognised events and, if so,
// forwards them: console lines to the Recorder, timings to the run state.
// Anything else is dropped without a trace in the output; a debug log line
// and a metric are the only evidence it ever arrived.
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/pattern-playground/internal/event"
	"github.com/sakif/pattern-playground/internal/recorder"
	"github.com/sakif/pattern-playground/internal/sandbox"
)

var (
	// ErrMalformed marks a message that is not a valid console or
	// performance event.
	ErrMalformed = errors.New("relay: malformed message")
	// ErrForeignOrigin marks a message from a context that is no longer live.
	ErrForeignOrigin = errors.New("relay: message from a context that is not live")
)

// Drop reasons, used as metric labels.
const (
	ReasonMalformed = "malformed"
	ReasonOrigin    = "origin"
)

// TimingSink receives accepted performance events. A later report for the
// same side overwrites the earlier one.
type TimingSink interface {
	RecordTime(side event.Side, ms float64)
}

// Observer is notified about every accepted or dropped message.
type Observer interface {
	MessageAccepted(kind string, side event.Side)
	MessageDropped(reason string)
}

type nopObserver struct{}

func (nopObserver) MessageAccepted(string, event.Side) {}
func (nopObserver) MessageDropped(string)              {}

// Option configures a Relay.
type Option func(*Relay)

// WithOriginCheck drops messages whose origin is not reported live by fn.
func WithOriginCheck(fn func(origin string) bool) Option {
	return func(r *Relay) { r.isLive = fn }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(r *Relay) {
		if o != nil {
			r.observer = o
		}
	}
}

// Relay validates inbound messages and forwards the accepted ones.
type Relay struct {
	rec      *recorder.Recorder
	timing   TimingSink
	logger   *slog.Logger
	observer Observer
	isLive   func(string) bool
}

// New creates a Relay writing console events to rec and timings to timing.
func New(rec *recorder.Recorder, timing TimingSink, logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		rec:      rec,
		timing:   timing,
		logger:   logger,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Deliver implements sandbox.Sink. The origin check (when configured) runs
// before the payload is even decoded.
func (r *Relay) Deliver(m sandbox.Message) {
	if r.isLive != nil && !r.isLive(m.Origin) {
		r.drop(ReasonOrigin, fmt.Errorf("%w: %s", ErrForeignOrigin, m.Origin))
		return
	}
	_ = r.OnEvent(m.Data)
}

// OnEvent decodes raw and applies it. The returned error is informational;
// callers are free to ignore it since the message has already been dropped.
func (r *Relay) OnEvent(raw []byte) error {
	ev, err := Decode(raw)
	if err != nil {
		r.drop(ReasonMalformed, err)
		return err
	}

	switch e := ev.(type) {
	case event.Console:
		r.rec.Console(e.Level, e.Message, e.Side)
		r.observer.MessageAccepted(event.TypeConsole, e.Side)
	case event.Performance:
		r.timing.RecordTime(e.Side, e.Time)
		r.observer.MessageAccepted(event.TypePerformance, e.Side)
	}
	return nil
}

func (r *Relay) drop(reason string, err error) {
	r.observer.MessageDropped(reason)
	r.logger.Debug("relay dropped message",
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
}

// DECODING:

// Decode turns a raw message into an event.Console or event.Performance.
//
// Fields are checked one by one rather than unmarshalled straight into the
// event structs: a struct decode would happily accept a missing field as its
// zero value, or a number where a string belongs.
func Decode(raw []byte) (event.Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	typ, ok := stringField(fields, "type")
	if !ok {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	side, err := sideField(fields)
	if err != nil {
		return nil, err
	}

	switch typ {
	case event.TypeConsole:
		rawLevel, _ := stringField(fields, "level")
		level, ok := event.ParseLevel(rawLevel)
		if !ok {
			return nil, fmt.Errorf("%w: bad console level %q", ErrMalformed, rawLevel)
		}
		message, ok := stringField(fields, "message")
		if !ok || message == "" {
			return nil, fmt.Errorf("%w: empty console message", ErrMalformed)
		}
		return event.Console{Level: level, Message: message, Side: side}, nil

	case event.TypePerformance:
		ms, ok := numberField(fields, "time")
		if !ok {
			return nil, fmt.Errorf("%w: performance time is not a number", ErrMalformed)
		}
		return event.Performance{Side: side, Time: ms}, nil
	}

	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, typ)
}

func sideField(fields map[string]json.RawMessage) (event.Side, error) {
	rawSide, _ := stringField(fields, "side")
	side, ok := event.ParseSide(rawSide)
	if !ok {
		return "", fmt.Errorf("%w: bad side %q", ErrMalformed, rawSide)
	}
	return side, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := fields[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func numberField(fields map[string]json.RawMessage, name string) (float64, bool) {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	return n, true
}
