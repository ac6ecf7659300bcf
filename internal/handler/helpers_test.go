package handler_test

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/pattern-playground/internal/bootstrap"
	"github.com/sakif/pattern-playground/internal/event"
	"github.com/sakif/pattern-playground/internal/pattern"
	"github.com/sakif/pattern-playground/internal/playground"
	sqliteRepo "github.com/sakif/pattern-playground/internal/repository/sqlite"
	"github.com/sakif/pattern-playground/internal/sandbox"
	"github.com/sakif/pattern-playground/internal/service"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedBackend answers every launch with a console line echoing the
// side and a fixed timing, posted synchronously from Launch.
type scriptedBackend struct {
	mu       sync.Mutex
	launches int
	hold     chan struct{} // when set, Launch blocks until it is closed
	extraA   int           // extra console lines side A logs before its greeting
}

func (b *scriptedBackend) Name() string         { return "scripted" }
func (b *scriptedBackend) Host() bootstrap.Host { return bootstrap.HostEmbedded }

func (b *scriptedBackend) Launch(ctx context.Context, spec sandbox.LaunchSpec) (sandbox.Instance, error) {
	b.mu.Lock()
	b.launches++
	hold, extraA := b.hold, b.extraA
	b.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if spec.Side == event.SideA {
		for i := range extraA {
			spec.Post([]byte(`{"type":"console","level":"log","message":"line ` + strconv.Itoa(i) + `","side":"A"}`))
		}
	}

	ms := "3"
	if spec.Side == event.SideB {
		ms = "6"
	}
	spec.Post([]byte(`{"type":"console","level":"log","message":"hello from ` + string(spec.Side) + `","side":"` + string(spec.Side) + `"}`))
	spec.Post([]byte(`{"type":"performance","side":"` + string(spec.Side) + `","time":` + ms + `}`))
	return idle{}, nil
}

type idle struct{}

func (idle) Idle() bool { return true }
func (idle) Stop()      {}

func testCatalog(t *testing.T) *pattern.Catalog {
	t.Helper()
	c, err := pattern.Builtin()
	require.NoError(t, err)
	return c
}

func newCompareService(t *testing.T, b *scriptedBackend, maxSessions int64) *service.CompareService {
	t.Helper()
	cfg := playground.DefaultSessionConfig()
	cfg.Sleeper = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return service.NewCompareService(b, testCatalog(t), service.CompareConfig{
		MaxSessions:   maxSessions,
		MaxCodeLength: 10_000,
		Session:       cfg,
	}, quietLogger())
}

func newTestDB(t *testing.T) *sqliteRepo.DB {
	t.Helper()
	db, err := sqliteRepo.New(sqliteRepo.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func body(s string) io.Reader { return strings.NewReader(s) }
