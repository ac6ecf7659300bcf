package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"

	"github.com/sakif/pattern-playground/internal/bootstrap"
)

// DefaultMaxRuntime bounds how long one context may stay alive.
const DefaultMaxRuntime = 5 * time.Second

// GojaConfig configures the in-process backend.
type GojaConfig struct {
	// MaxRuntime force-stops a context that is still alive after this long.
	// Zero disables the guard.
	MaxRuntime time.Duration
	// MaxCallStackSize caps recursion depth inside the runtime.
	MaxCallStackSize int
}

// DefaultGojaConfig returns the production defaults.
func DefaultGojaConfig() GojaConfig {
	return GojaConfig{
		MaxRuntime:       DefaultMaxRuntime,
		MaxCallStackSize: 1024,
	}
}

// GojaBackend runs every context in its own goja runtime, driven by its own
// event loop goroutine. Contexts share nothing: separate heaps, separate
// globals, separate timers.
//
// THE HOST SURFACE:
// A context sees a small browser-like global environment:
//   - window / self        aliases of globalThis
//   - parent.postMessage   the outbound channel
//   - console.*            passes through to the server log at debug level
//   - performance.now()    milliseconds since the context was created
//   - setTimeout & co.     timers whose callback errors surface as "error" events
//   - addEventListener     "error" and "unhandledrejection" events
//
// Node-style host objects (require, process, module) are never exposed.
type GojaBackend struct {
	cfg    GojaConfig
	logger *slog.Logger
}

// NewGojaBackend creates the in-process backend.
func NewGojaBackend(cfg GojaConfig, logger *slog.Logger) *GojaBackend {
	return &GojaBackend{cfg: cfg, logger: logger}
}

func (b *GojaBackend) Name() string { return "goja" }

func (b *GojaBackend) Host() bootstrap.Host { return bootstrap.HostEmbedded }

// Launch starts the context's loop and schedules the program as its first
// job. It returns before the program has finished running.
func (b *GojaBackend) Launch(_ context.Context, spec LaunchSpec) (Instance, error) {
	c := &jsContext{
		spec:    spec,
		cfg:     b.cfg,
		logger:  b.logger.With(slog.String("context", spec.ID), slog.String("side", string(spec.Side))),
		created: time.Now(),
		loop:    eventloop.NewEventLoop(eventloop.EnableConsole(false)),
	}
	c.start()
	return c, nil
}

// listener is one addEventListener registration.
type listener struct {
	value goja.Value
	fn    goja.Callable
}

// timerRef is what setTimeout/setInterval hand back to user code.
type timerRef struct {
	timeout  *eventloop.Timer
	interval *eventloop.Interval
	settled  atomic.Bool
}

// jsContext is one goja context. Fields below the loop marker are touched
// only from the loop goroutine.
type jsContext struct {
	spec    LaunchSpec
	cfg     GojaConfig
	logger  *slog.Logger
	created time.Time
	loop    *eventloop.EventLoop

	vm         atomic.Pointer[goja.Runtime]
	evaluating atomic.Bool
	pending    atomic.Int64
	stopped    atomic.Bool
	stopOnce   sync.Once
	guard      *time.Timer

	// loop goroutine only
	listeners      map[string][]listener
	rejections     []*goja.Promise
	flushScheduled bool
}

func (c *jsContext) start() {
	c.evaluating.Store(true)
	c.loop.Start()

	c.loop.RunOnLoop(func(vm *goja.Runtime) {
		defer c.evaluating.Store(false)
		c.vm.Store(vm)
		if c.stopped.Load() {
			return
		}

		if err := c.install(vm); err != nil {
			c.logger.Error("sandbox host setup failed", slog.String("error", err.Error()))
			return
		}
		if _, err := vm.RunString(c.spec.Program); err != nil {
			c.uncaught(vm, err)
		}
	})

	if c.cfg.MaxRuntime > 0 {
		c.guard = time.AfterFunc(c.cfg.MaxRuntime, func() {
			c.logger.Warn("sandbox context exceeded max runtime, stopping",
				slog.Duration("max_runtime", c.cfg.MaxRuntime))
			c.Stop()
		})
	}
}

// Idle reports whether the program finished evaluating and no timers are
// pending.
func (c *jsContext) Idle() bool {
	if c.stopped.Load() {
		return true
	}
	return !c.evaluating.Load() && c.pending.Load() == 0
}

// Stop interrupts any running script and stops the loop without waiting
// for it; a context stuck in an infinite loop is abandoned at its next
// interrupt check.
func (c *jsContext) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		if c.guard != nil {
			c.guard.Stop()
		}
		if vm := c.vm.Load(); vm != nil {
			vm.Interrupt("context destroyed")
		}
		c.loop.StopNoWait()
	})
}

// install builds the host surface on a fresh runtime.
func (c *jsContext) install(vm *goja.Runtime) error {
	if c.cfg.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(c.cfg.MaxCallStackSize)
	}
	c.listeners = make(map[string][]listener)
	vm.SetPromiseRejectionTracker(c.trackRejection)

	global := vm.GlobalObject()
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := global.Delete(name); err != nil {
			return err
		}
	}

	console := vm.NewObject()
	for _, level := range []string{"log", "error", "warn", "info"} {
		if err := console.Set(level, c.consoleFunc(level)); err != nil {
			return err
		}
	}

	performance := vm.NewObject()
	if err := performance.Set("now", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(float64(time.Since(c.created).Nanoseconds()) / 1e6)
	}); err != nil {
		return err
	}

	parent := vm.NewObject()
	if err := parent.Set("postMessage", c.postMessage); err != nil {
		return err
	}

	globals := map[string]any{
		"window":              global,
		"self":                global,
		"parent":              parent,
		"console":             console,
		"performance":         performance,
		"addEventListener":    c.addEventListener(vm),
		"removeEventListener": c.removeEventListener,
		"setTimeout":          c.setTimeout(vm),
		"setImmediate":        c.setImmediate(vm),
		"setInterval":         c.setInterval(vm),
		"clearTimeout":        c.clearTimer,
		"clearImmediate":      c.clearTimer,
		"clearInterval":       c.clearTimer,
	}
	for name, value := range globals {
		if err := global.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// OUTBOUND CHANNEL:

// postMessage serialises the first argument and hands it to the Manager.
// Values that cannot be represented as JSON (functions, cycles) are dropped.
func (c *jsContext) postMessage(call goja.FunctionCall) goja.Value {
	if c.stopped.Load() {
		return goja.Undefined()
	}
	data, err := json.Marshal(call.Argument(0).Export())
	if err != nil {
		c.logger.Debug("dropping unserialisable message", slog.String("error", err.Error()))
		return goja.Undefined()
	}
	c.spec.Post(data)
	return goja.Undefined()
}

func (c *jsContext) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		c.logger.Debug("sandbox console",
			slog.String("level", level),
			slog.String("message", strings.Join(parts, " ")),
		)
		return goja.Undefined()
	}
}

// EVENTS:

func (c *jsContext) addEventListener(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(vm.NewTypeError("addEventListener: listener is not a function"))
		}
		c.listeners[typ] = append(c.listeners[typ], listener{value: call.Argument(1), fn: fn})
		return goja.Undefined()
	}
}

func (c *jsContext) removeEventListener(call goja.FunctionCall) goja.Value {
	typ := call.Argument(0).String()
	target := call.Argument(1)
	registered := c.listeners[typ]
	for i, l := range registered {
		if l.value.SameAs(target) {
			c.listeners[typ] = append(registered[:i:i], registered[i+1:]...)
			break
		}
	}
	return goja.Undefined()
}

// dispatch calls every listener for typ with an event object carrying props.
// It reports whether any listener called preventDefault.
func (c *jsContext) dispatch(vm *goja.Runtime, typ string, props map[string]any) bool {
	registered := append([]listener(nil), c.listeners[typ]...)
	if len(registered) == 0 {
		return false
	}

	prevented := false
	ev := vm.NewObject()
	_ = ev.Set("type", typ)
	for k, v := range props {
		_ = ev.Set(k, v)
	}
	_ = ev.Set("preventDefault", func(goja.FunctionCall) goja.Value {
		prevented = true
		return goja.Undefined()
	})

	for _, l := range registered {
		if c.stopped.Load() {
			break
		}
		if _, err := l.fn(vm.GlobalObject(), ev); err != nil {
			c.logger.Debug("event listener failed",
				slog.String("event", typ),
				slog.String("error", err.Error()),
			)
		}
	}
	return prevented
}

// uncaught turns an error that escaped to the top level into an "error"
// event, the way a browser would.
func (c *jsContext) uncaught(vm *goja.Runtime, err error) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || c.stopped.Load() {
		return
	}

	props := map[string]any{
		"message": err.Error(),
		"lineno":  0,
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		value := ex.Value()
		if _, isObject := value.(*goja.Object); isObject {
			props["error"] = value
		} else {
			props["message"] = value.String()
		}
	}

	if !c.dispatch(vm, "error", props) {
		c.logger.Debug("uncaught error in sandbox", slog.String("error", err.Error()))
	}
}

// trackRejection collects promises rejected without a handler and checks
// them once the current job (and its microtasks) is over.
func (c *jsContext) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		c.rejections = append(c.rejections, p)
		if !c.flushScheduled {
			c.flushScheduled = true
			c.loop.RunOnLoop(c.flushRejections)
		}
	case goja.PromiseRejectionHandle:
		for i, pending := range c.rejections {
			if pending == p {
				c.rejections = append(c.rejections[:i:i], c.rejections[i+1:]...)
				break
			}
		}
	}
}

func (c *jsContext) flushRejections(vm *goja.Runtime) {
	c.flushScheduled = false
	unhandled := c.rejections
	c.rejections = nil

	for _, p := range unhandled {
		if c.stopped.Load() {
			return
		}
		props := map[string]any{
			"reason":  p.Result(),
			"promise": p,
		}
		if !c.dispatch(vm, "unhandledrejection", props) {
			c.logger.Debug("unhandled rejection in sandbox", slog.String("reason", p.Result().String()))
		}
	}
}

// TIMERS:

func (c *jsContext) setTimeout(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return c.schedule(vm, call, false)
	}
}

func (c *jsContext) setInterval(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return c.schedule(vm, call, true)
	}
}

func (c *jsContext) setImmediate(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := append([]goja.Value{call.Argument(0), vm.ToValue(0)}, call.Arguments[min(1, len(call.Arguments)):]...)
		return c.schedule(vm, goja.FunctionCall{This: call.This, Arguments: args}, false)
	}
}

func (c *jsContext) schedule(vm *goja.Runtime, call goja.FunctionCall, repeat bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(vm.NewTypeError("timer callback is not a function"))
	}
	delay := time.Duration(max(call.Argument(1).ToInteger(), 0)) * time.Millisecond
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	ref := &timerRef{}
	c.pending.Add(1)

	if repeat {
		ref.interval = c.loop.SetInterval(func(vm *goja.Runtime) {
			c.invoke(vm, fn, args)
		}, delay)
	} else {
		ref.timeout = c.loop.SetTimeout(func(vm *goja.Runtime) {
			if ref.settled.CompareAndSwap(false, true) {
				c.pending.Add(-1)
			}
			c.invoke(vm, fn, args)
		}, delay)
	}
	return vm.ToValue(ref)
}

func (c *jsContext) clearTimer(call goja.FunctionCall) goja.Value {
	ref, ok := call.Argument(0).Export().(*timerRef)
	if !ok {
		return goja.Undefined()
	}
	if ref.settled.CompareAndSwap(false, true) {
		c.pending.Add(-1)
	}
	switch {
	case ref.timeout != nil:
		c.loop.ClearTimeout(ref.timeout)
	case ref.interval != nil:
		c.loop.ClearInterval(ref.interval)
	}
	return goja.Undefined()
}

func (c *jsContext) invoke(vm *goja.Runtime, fn goja.Callable, args []goja.Value) {
	if c.stopped.Load() {
		return
	}
	if _, err := fn(goja.Undefined(), args...); err != nil {
		c.uncaught(vm, err)
	}
}
