package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// gatewayFrame is a frame received by the mock gateway.
type gatewayFrame struct {
	conn int
	op   Opcode
	data json.RawMessage
}

// serverConn is the mock gateway's side of one socket.
type serverConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (sc *serverConn) sendRaw(data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.ws.WriteMessage(websocket.TextMessage, data)
}

func (sc *serverConn) send(op Opcode, d any) error {
	data, _ := json.Marshal(map[string]any{"op": op, "d": d})
	return sc.sendRaw(data)
}

func (sc *serverConn) dispatch(seq int64, event string, d any) error {
	data, _ := json.Marshal(map[string]any{"op": OpDispatch, "s": seq, "t": event, "d": d})
	return sc.sendRaw(data)
}

func (sc *serverConn) closeWith(code int) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, "")
	return sc.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// mockGateway speaks enough of the gateway protocol to drive a Client:
// hello on connect, READY on identify, RESUMED on resume.
type mockGateway struct {
	t       *testing.T
	server  *httptest.Server
	frames  chan gatewayFrame
	queries chan url.Values
	dials   atomic.Int32

	// Set before the server starts
	sessionID     string
	ackHeartbeats bool
	silent        bool // never send hello

	// onResume replaces the immediate RESUMED answer when set.
	onResume func(sc *serverConn)

	rejecting atomic.Bool // answer handshakes with 503

	mu    sync.Mutex
	conns []*serverConn
}

func newMockGateway(t *testing.T, setup ...func(*mockGateway)) *mockGateway {
	g := &mockGateway{
		t:         t,
		frames:    make(chan gatewayFrame, 256),
		queries:   make(chan url.Values, 64),
		sessionID: "session-1",
	}
	for _, fn := range setup {
		fn(g)
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(g.dials.Add(1))
		select {
		case g.queries <- r.URL.Query():
		default:
		}

		if g.rejecting.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer ws.Close()

		sc := &serverConn{ws: ws}
		g.mu.Lock()
		g.conns = append(g.conns, sc)
		g.mu.Unlock()

		g.serve(idx, sc)
	}))
	t.Cleanup(g.server.Close)

	return g
}

func (g *mockGateway) serve(idx int, sc *serverConn) {
	if !g.silent {
		sc.send(OpHello, HelloData{HeartbeatInterval: 45000})
	}

	for {
		_, data, err := sc.ws.ReadMessage()
		if err != nil {
			return
		}

		var f struct {
			Op Opcode          `json:"op"`
			D  json.RawMessage `json:"d"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		select {
		case g.frames <- gatewayFrame{conn: idx, op: f.Op, data: f.D}:
		default:
		}

		switch f.Op {
		case OpIdentify:
			sc.dispatch(1, EventNameReady, map[string]any{
				"v":                  10,
				"session_id":         g.sessionID,
				"resume_gateway_url": g.URL(),
				"user":               map[string]any{"id": "bot-1", "username": "draftbot"},
				"application":        map[string]any{"id": "app-1"},
				"guilds":             []any{},
			})
		case OpResume:
			if g.onResume != nil {
				g.onResume(sc)
				continue
			}
			sc.dispatch(0, EventNameResumed, map[string]any{})
		case OpHeartbeat:
			if g.ackHeartbeats {
				sc.send(OpHeartbeatAck, nil)
			}
		}
	}
}

// URL returns the ws:// address of the mock.
func (g *mockGateway) URL() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http")
}

// conn returns the server side of the i-th (1-based) accepted socket.
func (g *mockGateway) conn(i int) *serverConn {
	g.t.Helper()
	var sc *serverConn
	waitFor(g.t, 5*time.Second, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		if len(g.conns) >= i {
			sc = g.conns[i-1]
			return true
		}
		return false
	})
	return sc
}

// waitFrame returns the next received frame with opcode op.
func (g *mockGateway) waitFrame(op Opcode) gatewayFrame {
	g.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f := <-g.frames:
			if f.op == op {
				return f
			}
		case <-timeout:
			g.t.Fatalf("timed out waiting for %s frame", op)
		}
	}
}

// testConfig returns a config with timings shrunk for tests.
func testConfig(gatewayURL string) Config {
	cfg := DefaultConfig()
	cfg.Token = "test-token"
	cfg.ApplicationID = "app-1"
	cfg.URL = gatewayURL
	cfg.IdentifyDelay = 0
	cfg.RecoverDelay = 10 * time.Millisecond
	cfg.ReconnectBaseWait = time.Millisecond
	cfg.ReconnectMaxWait = 5 * time.Millisecond
	cfg.ReconnectJitter = 0
	cfg.HelloTimeout = 2 * time.Second
	cfg.ReadyTimeout = 2 * time.Second
	cfg.CloseTimeout = 500 * time.Millisecond
	cfg.HealthInterval = 0
	cfg.SendJitter = 0
	return cfg
}

func newTestClient(t *testing.T, cfg Config, opts ...Option) *Client {
	t.Helper()
	c := New(cfg, append([]Option{WithLogger(discardLogger)}, opts...)...)
	t.Cleanup(c.Cleanup)
	return c
}

// eventRecorder collects events from a Client.
type eventRecorder struct {
	mu     sync.Mutex
	counts map[EventKind]int
	ch     chan Event
}

func record(c *Client, kinds ...EventKind) *eventRecorder {
	r := &eventRecorder{counts: make(map[EventKind]int), ch: make(chan Event, 64)}
	for _, k := range kinds {
		c.Subscribe(k, func(ev Event) {
			r.mu.Lock()
			r.counts[ev.Kind()]++
			r.mu.Unlock()
			select {
			case r.ch <- ev:
			default:
			}
		})
	}
	return r
}

func (r *eventRecorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[kind]
}

func (r *eventRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.counts {
		n += c
	}
	return n
}

// next returns the next recorded event of kind.
func (r *eventRecorder) next(t *testing.T, kind EventKind) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind() == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
			return nil
		}
	}
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
