package bootstrap

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pattern-playground/internal/event"
)

func TestBuildRejectsUnknownSide(t *testing.T) {
	for _, side := range []event.Side{"", "C", "vanilla", `A'; alert(1); '`} {
		_, err := Build(Defaults(side, HostEmbedded))
		assert.ErrorIs(t, err, ErrInvalidSide, "side %q", side)
	}
}

func TestBuildRejectsUnknownHost(t *testing.T) {
	_, err := Build(Defaults(event.SideA, Host("browser")))
	assert.ErrorIs(t, err, ErrInvalidHost)
}

func TestPreludeEmbedsSideAsLiteral(t *testing.T) {
	p, err := Build(Defaults(event.SideB, HostEmbedded))
	require.NoError(t, err)

	assert.Contains(t, p.Prelude, `var side = "B";`)
	assert.Contains(t, p.Prelude, "parent")
	assert.Contains(t, p.Prelude, "addEventListener('error'")
	assert.Contains(t, p.Prelude, "addEventListener('unhandledrejection'")
	assert.NotContains(t, p.Prelude, "process.on")
}

func TestPreludeNodeHost(t *testing.T) {
	p, err := Build(Defaults(event.SideA, HostNode))
	require.NoError(t, err)

	assert.Contains(t, p.Prelude, "process.on('uncaughtException'")
	assert.Contains(t, p.Prelude, "process.on('unhandledRejection'")
	assert.NotContains(t, p.Prelude, "addEventListener")
	assert.Contains(t, p.Prelude, `"\u001eplayground\u001e"`)
}

func TestFeatureFlagsOmitSections(t *testing.T) {
	d := Defaults(event.SideA, HostEmbedded)
	d.Console = false
	d.ErrorTrap = false
	d.RejectionTrap = false
	d.Timing = false

	p, err := Build(d)
	require.NoError(t, err)

	assert.NotContains(t, p.Prelude, "original[level]")
	assert.NotContains(t, p.Prelude, "addEventListener")

	prog := p.Program("1")
	assert.NotContains(t, prog, "'performance'")
}

func TestProgramEscapesUserCode(t *testing.T) {
	p, err := Build(Defaults(event.SideA, HostEmbedded))
	require.NoError(t, err)

	code := "console.log(\"})(); evil(); (function(){\")\n</script> "
	prog := p.Program(code)

	encoded, _ := json.Marshal(code)
	assert.Contains(t, prog, string(encoded))
	assert.NotContains(t, prog, "</script>")
	assert.True(t, strings.HasPrefix(prog, p.Prelude))
}

func TestProgramGraceMillis(t *testing.T) {
	d := Defaults(event.SideA, HostEmbedded)
	d.Grace = 25 * time.Millisecond
	p, err := Build(d)
	require.NoError(t, err)

	assert.Contains(t, p.Program(""), "}, 25);")
}

// stubHost is a minimal embedded host: it collects posted messages, keeps
// listeners, and runs timers synchronously.
type stubHost struct {
	vm        *goja.Runtime
	posted    []map[string]any
	listeners map[string][]goja.Callable
}

func newStubHost(t *testing.T) *stubHost {
	t.Helper()
	h := &stubHost{vm: goja.New(), listeners: map[string][]goja.Callable{}}

	parent := h.vm.NewObject()
	require.NoError(t, parent.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		h.posted = append(h.posted, call.Argument(0).Export().(map[string]any))
		return goja.Undefined()
	}))
	require.NoError(t, h.vm.Set("parent", parent))

	require.NoError(t, h.vm.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
			h.listeners[call.Argument(0).String()] = append(h.listeners[call.Argument(0).String()], fn)
		}
		return goja.Undefined()
	}))

	perf := h.vm.NewObject()
	require.NoError(t, perf.Set("now", func() float64 { return 0 }))
	require.NoError(t, h.vm.Set("performance", perf))

	require.NoError(t, h.vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			_, _ = fn(goja.Undefined())
		}
		return goja.Undefined()
	}))

	console := h.vm.NewObject()
	for _, name := range []string{"log", "error", "warn", "info"} {
		require.NoError(t, console.Set(name, func(goja.FunctionCall) goja.Value { return goja.Undefined() }))
	}
	require.NoError(t, h.vm.Set("console", console))
	return h
}

func (h *stubHost) run(t *testing.T, side event.Side, code string) {
	t.Helper()
	p, err := Build(Defaults(side, HostEmbedded))
	require.NoError(t, err)
	_, err = h.vm.RunString(p.Program(code))
	require.NoError(t, err)
}

func TestProgramReportsConsoleAndTiming(t *testing.T) {
	h := newStubHost(t)
	h.run(t, event.SideA, `console.log('x', 1, {a: 1}); console.warn('w')`)

	require.Len(t, h.posted, 3)
	assert.Equal(t, "console", h.posted[0]["type"])
	assert.Equal(t, "log", h.posted[0]["level"])
	assert.Equal(t, "x 1 {\n  \"a\": 1\n}", h.posted[0]["message"])
	assert.Equal(t, "A", h.posted[0]["side"])
	assert.Equal(t, "warn", h.posted[1]["level"])

	assert.Equal(t, "performance", h.posted[2]["type"])
	assert.Equal(t, "A", h.posted[2]["side"])
	assert.Contains(t, h.posted[2], "time")
}

func TestProgramReportsThrowAndStillTimes(t *testing.T) {
	h := newStubHost(t)
	h.run(t, event.SideB, `throw new Error('boom')`)

	require.Len(t, h.posted, 2)
	assert.Equal(t, "error", h.posted[0]["level"])
	assert.Contains(t, h.posted[0]["message"], "boom")
	assert.Equal(t, "B", h.posted[0]["side"])
	assert.Equal(t, "performance", h.posted[1]["type"])
}

func TestProgramReportsThrowAfterConsoleIsReplaced(t *testing.T) {
	h := newStubHost(t)
	h.run(t, event.SideA, `console.error = function () {}; throw new Error('hidden')`)

	require.Len(t, h.posted, 2)
	assert.Equal(t, "error", h.posted[0]["level"])
	assert.Contains(t, h.posted[0]["message"], "hidden")
	assert.Equal(t, "A", h.posted[0]["side"])
	assert.Equal(t, "performance", h.posted[1]["type"])
}

func TestProgramReportsSyntaxErrorAndStillTimes(t *testing.T) {
	h := newStubHost(t)
	h.run(t, event.SideA, `this is not javascript (`)

	require.Len(t, h.posted, 2)
	assert.Equal(t, "error", h.posted[0]["level"])
	assert.NotEmpty(t, h.posted[0]["message"])
	assert.Equal(t, "performance", h.posted[1]["type"])
}

func TestProgramCyclicObjectFallsBackToString(t *testing.T) {
	h := newStubHost(t)
	h.run(t, event.SideA, `var o = {}; o.self = o; console.log(o)`)

	require.NotEmpty(t, h.posted)
	assert.Equal(t, "[object Object]", h.posted[0]["message"])
}

func TestErrorListenerReportsAndPreventsDefault(t *testing.T) {
	h := newStubHost(t)
	h.run(t, event.SideA, ``)
	h.posted = nil

	require.Len(t, h.listeners["error"], 1)
	prevented := false
	ev := h.vm.NewObject()
	_ = ev.Set("error", goja.Null())
	_ = ev.Set("message", "Script error")
	_ = ev.Set("lineno", 7)
	_ = ev.Set("preventDefault", func() { prevented = true })

	_, err := h.listeners["error"][0](goja.Undefined(), ev)
	require.NoError(t, err)

	require.Len(t, h.posted, 1)
	assert.Equal(t, "Script error (Line 7)", h.posted[0]["message"])
	assert.True(t, prevented)
}

func TestRejectionListenerLabelsReason(t *testing.T) {
	h := newStubHost(t)
	h.run(t, event.SideB, ``)
	h.posted = nil

	require.Len(t, h.listeners["unhandledrejection"], 1)
	ev := h.vm.NewObject()
	_ = ev.Set("reason", "nope")
	_ = ev.Set("preventDefault", func() {})

	_, err := h.listeners["unhandledrejection"][0](goja.Undefined(), ev)
	require.NoError(t, err)

	require.Len(t, h.posted, 1)
	assert.Equal(t, "Unhandled Promise Rejection: nope", h.posted[0]["message"])
	assert.Equal(t, "B", h.posted[0]["side"])
}
