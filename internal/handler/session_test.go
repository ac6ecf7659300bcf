package handler_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pattern-playground/internal/event"
	"github.com/sakif/pattern-playground/internal/handler"
	"github.com/sakif/pattern-playground/internal/recorder"
	"github.com/sakif/pattern-playground/internal/service"
)

type countingGauge struct{ n atomic.Int32 }

func (g *countingGauge) Inc() { g.n.Add(1) }
func (g *countingGauge) Dec() { g.n.Add(-1) }

func startSessionServer(t *testing.T, svc *service.CompareService, origins []string, g handler.Gauge) *httptest.Server {
	t.Helper()
	h := handler.NewSessionHandler(svc, origins, g, quietLogger())
	srv := httptest.NewServer(http.HandlerFunc(h.HandleSession))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, cmd string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(cmd)))
}

func next(t *testing.T, conn *websocket.Conn) handler.Push {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var p handler.Push
	require.NoError(t, conn.ReadJSON(&p))
	return p
}

func TestSessionRun(t *testing.T) {
	srv := startSessionServer(t, newCompareService(t, &scriptedBackend{}, 2), nil, nil)
	conn := dial(t, srv)

	hello := next(t, conn)
	assert.Equal(t, "hello", hello.Type)
	assert.NotEmpty(t, hello.SessionID)
	assert.Equal(t, "scripted", hello.Backend)

	send(t, conn, `{"type":"run","patternId":"memoization"}`)

	assert.Equal(t, "clear", next(t, conn).Type)

	a := next(t, conn)
	require.Equal(t, "entry", a.Type)
	assert.Equal(t, "hello from A", a.Entry.Message)
	assert.Equal(t, event.SideA, a.Entry.Side)

	b := next(t, conn)
	require.Equal(t, "entry", b.Type)
	assert.Equal(t, event.SideB, b.Entry.Side)

	summary := next(t, conn)
	require.Equal(t, "entry", summary.Type)
	assert.Equal(t, recorder.KindPerformance, summary.Entry.Kind)

	done := next(t, conn)
	require.Equal(t, "done", done.Type)
	require.NotNil(t, done.Comparison)
	assert.Equal(t, event.SideA, done.Comparison.Faster)
	assert.Empty(t, done.Error)
}

func TestSessionDeliversEveryLineOfLongOutput(t *testing.T) {
	const lines = 400
	srv := startSessionServer(t, newCompareService(t, &scriptedBackend{extraA: lines}, 2), nil, nil)
	conn := dial(t, srv)
	require.Equal(t, "hello", next(t, conn).Type)

	send(t, conn, `{"type":"run","codeA":"1","codeB":"2"}`)
	require.Equal(t, "clear", next(t, conn).Type)

	var entries []recorder.Entry
	for {
		p := next(t, conn)
		if p.Type == "done" {
			require.NotNil(t, p.Comparison)
			break
		}
		require.Equal(t, "entry", p.Type)
		entries = append(entries, *p.Entry)
	}

	require.Len(t, entries, lines+3)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Seq, "entries arrive complete and in order")
	}
	assert.Equal(t, "line 0", entries[0].Message)
	assert.Equal(t, fmt.Sprintf("line %d", lines-1), entries[lines-1].Message)
	assert.Equal(t, recorder.KindPerformance, entries[len(entries)-1].Kind)
}

func TestSessionCommands(t *testing.T) {
	srv := startSessionServer(t, newCompareService(t, &scriptedBackend{}, 2), nil, nil)
	conn := dial(t, srv)
	require.Equal(t, "hello", next(t, conn).Type)

	send(t, conn, `{"type":"ping"}`)
	assert.Equal(t, "pong", next(t, conn).Type)

	send(t, conn, `{"type":"clear"}`)
	assert.Equal(t, "clear", next(t, conn).Type)

	send(t, conn, `{"type":"launch"}`)
	p := next(t, conn)
	assert.Equal(t, "error", p.Type)
	assert.Contains(t, p.Message, `"launch"`)

	send(t, conn, `not json`)
	p = next(t, conn)
	assert.Equal(t, "error", p.Type)
	assert.Contains(t, p.Message, "invalid command")

	send(t, conn, `{"type":"run","codeA":"1"}`)
	p = next(t, conn)
	assert.Equal(t, "error", p.Type)
	assert.Contains(t, p.Message, "codeB")

	// Reset while idle succeeds and empties the output.
	send(t, conn, `{"type":"reset"}`)
	assert.Equal(t, "clear", next(t, conn).Type)
}

func TestSessionRefusesWhileRunning(t *testing.T) {
	b := &scriptedBackend{hold: make(chan struct{})}
	srv := startSessionServer(t, newCompareService(t, b, 2), nil, nil)
	conn := dial(t, srv)
	require.Equal(t, "hello", next(t, conn).Type)

	send(t, conn, `{"type":"run","codeA":"1","codeB":"2"}`)
	assert.Equal(t, "clear", next(t, conn).Type)

	send(t, conn, `{"type":"run","codeA":"1","codeB":"2"}`)
	p := next(t, conn)
	assert.Equal(t, "warning", p.Type)
	assert.Contains(t, p.Message, "already running")

	send(t, conn, `{"type":"reset"}`)
	p = next(t, conn)
	assert.Equal(t, "warning", p.Type)
	assert.Contains(t, p.Message, "cannot reset")

	close(b.hold)

	var types []string
	for {
		p := next(t, conn)
		types = append(types, p.Type)
		if p.Type == "done" {
			break
		}
	}
	assert.Equal(t, []string{"entry", "entry", "entry", "done"}, types)
}

func TestSessionLimit(t *testing.T) {
	g := &countingGauge{}
	srv := startSessionServer(t, newCompareService(t, &scriptedBackend{}, 1), nil, g)

	conn := dial(t, srv)
	require.Equal(t, "hello", next(t, conn).Type)
	assert.Equal(t, int32(1), g.n.Load())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestSessionOrigins(t *testing.T) {
	srv := startSessionServer(t, newCompareService(t, &scriptedBackend{}, 4), []string{"https://play.example.com/"}, nil)

	header := http.Header{}
	header.Set("Origin", "https://play.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.NoError(t, err)
	conn.Close()

	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
