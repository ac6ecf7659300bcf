// Command compare runs one comparison cycle from the terminal and prints the
// output the way the playground page shows it.
//
//	compare -a vanilla.js -b library.js
//	compare -pattern memoization
//	compare -list
//
// Sandbox and delay settings come from the same environment variables as the
// server (see internal/config); -backend overrides SANDBOX_BACKEND.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/sakif/pattern-playground/internal/backend"
	"github.com/sakif/pattern-playground/internal/config"
	"github.com/sakif/pattern-playground/internal/pattern"
	"github.com/sakif/pattern-playground/internal/playground"
)

func main() {
	err := run(os.Args[1:], os.Stdout, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "compare:", err)
		os.Exit(1)
	}
}

type options struct {
	fileA, fileB string
	patternID    string
	list         bool
	backend      string
	noColor      bool
	verbose      bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.fileA, "a", "", "file with the vanilla implementation (side A)")
	fs.StringVar(&o.fileB, "b", "", "file with the library implementation (side B)")
	fs.StringVar(&o.patternID, "pattern", "", "run a built-in pattern; -a/-b override its sides")
	fs.BoolVar(&o.list, "list", false, "list the built-in patterns and exit")
	fs.StringVar(&o.backend, "backend", "", "sandbox backend: goja or docker")
	fs.BoolVar(&o.noColor, "no-color", false, "disable colored output")
	fs.BoolVar(&o.verbose, "v", false, "log sandbox activity to stderr")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if !o.list && o.patternID == "" && (o.fileA == "" || o.fileB == "") {
		return o, errors.New("need -pattern <id>, or both -a and -b")
	}
	return o, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if opts.noColor {
		color.NoColor = true
	}

	catalog, err := pattern.Builtin()
	if err != nil {
		return err
	}
	if opts.list {
		printCatalog(stdout, catalog)
		return nil
	}

	codeA, codeB, err := resolve(opts, catalog)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.backend != "" {
		cfg.Sandbox.Backend = opts.backend
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sb, closeBackend, err := backend.Open(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	session := playground.NewSession(sb, logger, playground.SessionConfig{
		Delays: playground.Delays{
			Settle:   cfg.Playground.Settle,
			Cooldown: cfg.Playground.Cooldown,
			Drain:    cfg.Playground.Drain,
		},
		Grace: cfg.Sandbox.Grace,
	})
	defer session.Close()

	r := newRenderer(stdout)
	updates := session.Recorder.Subscribe()
	defer updates.Close()

	finished := make(chan struct{})
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for {
			select {
			case <-updates.Ready():
				r.updates(updates.Drain())
			case <-finished:
				r.updates(updates.Drain())
				return
			}
		}
	}()

	_, runErr := session.Run(ctx, codeA, codeB)
	close(finished)
	<-printed

	// The error is already on screen as an "Execution error" line.
	if runErr != nil {
		return errors.New("comparison failed")
	}
	return nil
}

// resolve reads the two sides from the pattern and/or the files.
func resolve(o options, catalog *pattern.Catalog) (codeA, codeB string, err error) {
	if o.patternID != "" {
		p, err := catalog.Get(o.patternID)
		if err != nil {
			return "", "", fmt.Errorf("%w: %q (try -list)", err, o.patternID)
		}
		codeA, codeB = p.CodeA, p.CodeB
	}
	if o.fileA != "" {
		if codeA, err = readFile(o.fileA); err != nil {
			return "", "", err
		}
	}
	if o.fileB != "" {
		if codeB, err = readFile(o.fileB); err != nil {
			return "", "", err
		}
	}
	return codeA, codeB, nil
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(b), nil
}
