package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/pattern-playground/internal/event"
	"github.com/sakif/pattern-playground/internal/playground"
	"github.com/sakif/pattern-playground/internal/recorder"
	"github.com/sakif/pattern-playground/internal/service"
)

// WEBSOCKET SESSION PROTOCOL
//
// One connection = one playground session with its own output log.
//
// Client → server:
//
//	{"type":"run","patternId":"...","codeA":"...","codeB":"..."}
//	{"type":"clear"}
//	{"type":"reset"}
//	{"type":"ping"}
//
// Server → client:
//
//	{"type":"hello","sessionId":"...","backend":"goja"}
//	{"type":"entry","entry":{...}}           one per recorded line, in order
//	{"type":"clear"}                         the output was emptied
//	{"type":"warning","message":"..."}       e.g. run while running
//	{"type":"done","comparison":{...}}       after the summary entry
//	{"type":"done","error":"..."}            the cycle failed
//	{"type":"error","message":"..."}         a command was rejected
//	{"type":"pong"}
const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsOutbox     = 64
)

// Command is a client → server message.
type Command struct {
	Type string `json:"type"`
	service.CompareRequest
}

// Push is a server → client message.
type Push struct {
	Type       string            `json:"type"`
	SessionID  string            `json:"sessionId,omitempty"`
	Backend    string            `json:"backend,omitempty"`
	Entry      *recorder.Entry   `json:"entry,omitempty"`
	Comparison *event.Comparison `json:"comparison,omitempty"`
	Message    string            `json:"message,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Gauge is satisfied by prometheus.Gauge.
type Gauge interface {
	Inc()
	Dec()
}

type nopGauge struct{}

func (nopGauge) Inc() {}
func (nopGauge) Dec() {}

// SessionHandler upgrades GET /api/sessions/ws and drives one session per
// connection.
type SessionHandler struct {
	compare  *service.CompareService
	upgrader websocket.Upgrader
	conns    Gauge
	logger   *slog.Logger
}

// NewSessionHandler accepts browser connections from allowedOrigins. With
// no origins configured only same-host pages may connect. conns may be nil.
func NewSessionHandler(compare *service.CompareService, allowedOrigins []string, conns Gauge, logger *slog.Logger) *SessionHandler {
	if conns == nil {
		conns = nopGauge{}
	}
	h := &SessionHandler{
		compare: compare,
		conns:   conns,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = originChecker(allowedOrigins)
	}
	return h
}

// originChecker allows requests without an Origin header (non-browser
// clients) and browsers whose origin is on the list.
func originChecker(allowed []string) func(r *http.Request) bool {
	norm := make([]string, 0, len(allowed))
	for _, o := range allowed {
		norm = append(norm, strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/"))
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.Contains(norm, strings.ToLower(u.Scheme+"://"+u.Host))
	}
}

// HandleSession is GET /api/sessions/ws.
//
// The session slot is reserved BEFORE the upgrade so that a full server
// can still answer with a plain 429.
func (h *SessionHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	session, release, err := h.compare.OpenSession()
	if err != nil {
		writeError(w, err)
		return
	}
	defer release()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	h.conns.Inc()
	defer h.conns.Dec()

	logger := h.logger.With(slog.String("session", session.ID))
	logger.Info("websocket session opened", slog.String("remote", r.RemoteAddr))

	c := &wsConn{
		conn:    conn,
		session: session,
		compare: h.compare,
		outbox:  make(chan Push, wsOutbox),
		logger:  logger,
	}
	c.serve(r.Context())

	logger.Info("websocket session closed")
}

// wsConn is one live connection.
//
// CONCURRENCY:
// gorilla/websocket allows one concurrent writer and one concurrent reader.
// The reader is serve's own goroutine; every write happens in writeLoop.
// Everything else (run results, recorder updates) reaches the socket by way
// of outbox or the recorder subscription.
type wsConn struct {
	conn    *websocket.Conn
	session *playground.Session
	compare *service.CompareService
	outbox  chan Push
	logger  *slog.Logger

	runs sync.WaitGroup
}

func (c *wsConn) serve(parent context.Context) {
	// Runs must not outlive the connection.
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	updates := c.session.Recorder.Subscribe()
	defer updates.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(ctx, updates)
	}()

	c.push(ctx, Push{Type: "hello", SessionID: c.session.ID, Backend: c.compare.BackendName()})
	c.readLoop(ctx)

	cancel()
	c.runs.Wait()
	<-writerDone
	c.conn.Close()
}

func (c *wsConn) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(maxBodyBytes)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.push(ctx, Push{Type: "error", Message: "invalid command: " + err.Error()})
			continue
		}
		c.dispatch(ctx, cmd)
	}
}

func (c *wsConn) dispatch(ctx context.Context, cmd Command) {
	switch cmd.Type {
	case "run":
		codeA, codeB, err := c.compare.Resolve(cmd.CompareRequest)
		if err != nil {
			c.push(ctx, Push{Type: "error", Message: err.Error()})
			return
		}
		// The cycle runs in the background so the reader keeps serving
		// commands; a second "run" meanwhile is refused by the coordinator.
		c.runs.Add(1)
		go func() {
			defer c.runs.Done()
			c.run(ctx, codeA, codeB)
		}()

	case "clear":
		c.session.Clear()

	case "reset":
		if err := c.session.Reset(); err != nil {
			c.push(ctx, Push{Type: "warning", Message: "cannot reset while a comparison is running"})
		}

	case "ping":
		c.push(ctx, Push{Type: "pong"})

	default:
		c.push(ctx, Push{Type: "error", Message: "unknown command type " + strconv.Quote(cmd.Type)})
	}
}

func (c *wsConn) run(ctx context.Context, codeA, codeB string) {
	cmp, err := c.session.Run(ctx, codeA, codeB)
	switch {
	case errors.Is(err, playground.ErrAlreadyRunning):
		warnings := c.session.Warnings()
		c.push(ctx, Push{Type: "warning", Message: warnings[len(warnings)-1]})
	case err != nil:
		c.push(ctx, Push{Type: "done", Error: err.Error()})
	default:
		c.push(ctx, Push{Type: "done", Comparison: &cmp})
	}
}

// push queues a message for the writer. It gives up once the connection is
// going away.
func (c *wsConn) push(ctx context.Context, p Push) {
	select {
	case c.outbox <- p:
	case <-ctx.Done():
	}
}

// writeLoop is the only goroutine that writes to the socket.
//
// ORDERING:
// The recorder queues an update on the subscription before the call that
// produced it returns, so by the time a run's "done" is queued its summary
// entry is already waiting. Draining the subscription before every outbox
// message keeps "done" after the entries it reports on. The subscription
// never drops, so a run that logs faster than the socket drains arrives
// late but whole.
func (c *wsConn) writeLoop(ctx context.Context, updates *recorder.Subscription) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-updates.Ready():
			if !c.drain(updates) {
				return
			}

		case p := <-c.outbox:
			if !c.drain(updates) || !c.write(p) {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) drain(updates *recorder.Subscription) bool {
	for _, u := range updates.Drain() {
		if !c.write(updatePush(u)) {
			return false
		}
	}
	return true
}

func (c *wsConn) write(p Push) bool {
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteJSON(p); err != nil {
		c.logger.Debug("websocket write failed", slog.String("error", err.Error()))
		// Unblock the reader so serve can wind down.
		c.conn.Close()
		return false
	}
	return true
}

func updatePush(u recorder.Update) Push {
	if u.Type == recorder.UpdateClear {
		return Push{Type: "clear"}
	}
	e := u.Entry
	return Push{Type: "entry", Entry: &e}
}
