package playground

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pattern-playground/internal/event"
	"github.com/sakif/pattern-playground/internal/recorder"
	"github.com/sakif/pattern-playground/internal/sandbox"
)

func newGojaSession(t *testing.T) *Session {
	t.Helper()
	backend := sandbox.NewGojaBackend(sandbox.DefaultGojaConfig(), testLogger())
	s := NewSession(backend, testLogger(), DefaultSessionConfig())
	t.Cleanup(s.Close)
	return s
}

func TestGojaCycleEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("runs real delays")
	}
	s := newGojaSession(t)

	result, err := s.Run(context.Background(), "console.log('x')", "console.log('y')")
	require.NoError(t, err)

	entries := s.Recorder.List()
	require.Len(t, entries, 3)

	assert.Equal(t, recorder.KindConsole, entries[0].Kind)
	assert.Equal(t, "x", entries[0].Message)
	assert.Equal(t, event.SideA, entries[0].Side)
	assert.Equal(t, "y", entries[1].Message)
	assert.Equal(t, event.SideB, entries[1].Side)

	assert.Equal(t, recorder.KindPerformance, entries[2].Kind)
	assert.GreaterOrEqual(t, result.TimeA, 0.0)
	assert.GreaterOrEqual(t, result.TimeB, 0.0)
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestGojaCycleThrowOnSideA(t *testing.T) {
	if testing.Short() {
		t.Skip("runs real delays")
	}
	s := newGojaSession(t)

	_, err := s.Run(context.Background(), "throw new Error('boom')", "console.log('fine')")
	require.NoError(t, err)

	entries := s.Recorder.List()
	require.Len(t, entries, 3)

	assert.Equal(t, event.LevelError, entries[0].Level)
	assert.Equal(t, event.SideA, entries[0].Side)
	assert.Contains(t, entries[0].Message, "boom")
	assert.Equal(t, "fine", entries[1].Message)
	assert.Equal(t, recorder.KindPerformance, entries[2].Kind)
}

func TestGojaLateOutputIsDropped(t *testing.T) {
	if testing.Short() {
		t.Skip("runs real delays")
	}
	s := newGojaSession(t)

	// due shortly after the drain window closes
	_, err := s.Run(context.Background(), "setTimeout(function () { console.log('late'); }, 900)", "")
	require.NoError(t, err)

	n := s.Recorder.Len()
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, n, s.Recorder.Len())
	assert.Equal(t, recorder.KindPerformance, s.Recorder.List()[n-1].Kind)
}
