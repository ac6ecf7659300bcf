package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pattern-playground/internal/event"
	"github.com/sakif/pattern-playground/internal/pattern"
	"github.com/sakif/pattern-playground/internal/recorder"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"pattern", []string{"-pattern", "routing"}, false},
		{"files", []string{"-a", "a.js", "-b", "b.js"}, false},
		{"pattern with override", []string{"-pattern", "routing", "-b", "b.js"}, false},
		{"list", []string{"-list"}, false},
		{"only one file", []string{"-a", "a.js"}, true},
		{"nothing", nil, true},
		{"stray argument", []string{"-pattern", "routing", "extra"}, true},
		{"unknown flag", []string{"-z"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, io.Discard)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	catalog, err := pattern.Builtin()
	require.NoError(t, err)
	routing, err := catalog.Get("routing")
	require.NoError(t, err)

	dir := t.TempDir()
	fileB := filepath.Join(dir, "b.js")
	require.NoError(t, os.WriteFile(fileB, []byte("console.log('b')"), 0o644))

	codeA, codeB, err := resolve(options{patternID: "routing", fileB: fileB}, catalog)
	require.NoError(t, err)
	assert.Equal(t, routing.CodeA, codeA)
	assert.Equal(t, "console.log('b')", codeB)

	_, _, err = resolve(options{patternID: "nope"}, catalog)
	assert.ErrorIs(t, err, pattern.ErrNotFound)

	_, _, err = resolve(options{fileA: filepath.Join(dir, "missing.js"), fileB: fileB}, catalog)
	assert.ErrorContains(t, err, "missing.js")
}

func TestRenderer(t *testing.T) {
	var buf bytes.Buffer
	r := newRenderer(&buf)

	rec := recorder.New()
	sub := rec.Subscribe()
	defer sub.Close()

	rec.Console(event.LevelLog, "hello", event.SideA)
	rec.Console(event.LevelError, "boom", event.SideB)
	rec.Clear()
	rec.Summary(event.Compare(1.2, 4.8))

	r.updates(sub.Drain())

	assert.Equal(t,
		"[A] Vanilla hello\n"+
			"[B] Library boom\n"+
			"Vanilla JS: 1.20ms | Library: 4.80ms | Difference: 75.0% faster\n",
		buf.String())
}

func TestPrintCatalog(t *testing.T) {
	catalog, err := pattern.Builtin()
	require.NoError(t, err)

	var buf bytes.Buffer
	printCatalog(&buf, catalog)

	assert.Contains(t, buf.String(), "ID")
	assert.Contains(t, buf.String(), "memoization")
	assert.Contains(t, buf.String(), "routing")
}
