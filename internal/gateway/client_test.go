package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jsonfox/draft-league-bot/internal/audit"
)

type notification struct {
	level audit.Level
	title string
	body  string
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notification
}

func (n *recordingNotifier) Notify(ctx context.Context, level audit.Level, title, body string, fields ...audit.Field) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, notification{level, title, body})
}

func (n *recordingNotifier) find(level audit.Level) (notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, note := range n.notes {
		if note.level == level {
			return note, true
		}
	}
	return notification{}, false
}

type recordingHandler struct {
	ch chan json.RawMessage
}

func (h *recordingHandler) HandleInteraction(ctx context.Context, raw json.RawMessage) error {
	h.ch <- raw
	return nil
}

func openClient(t *testing.T, g *mockGateway, cfg Config, opts ...Option) *Client {
	t.Helper()
	c := newTestClient(t, cfg, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return c
}

func TestClient_OpenIdentifiesAndBecomesReady(t *testing.T) {
	g := newMockGateway(t)
	c := newTestClient(t, testConfig(g.URL()))
	rec := record(c, EventReady, EventHello)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Open(ctx); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if c.Status() != StatusReady {
		t.Errorf("Status() = %s, want ready", c.Status())
	}
	waitFor(t, time.Second, func() bool { return rec.count(EventReady) == 1 })
	time.Sleep(50 * time.Millisecond)
	if n := rec.count(EventReady); n != 1 {
		t.Errorf("ready fired %d times, want 1", n)
	}
	if rec.count(EventHello) != 1 {
		t.Errorf("hello fired %d times, want 1", rec.count(EventHello))
	}

	h := c.Health()
	if h.ReconnectAttempts != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", h.ReconnectAttempts)
	}
	if !h.Connected {
		t.Error("Health().Connected = false")
	}
	if c.Session().ID != "session-1" {
		t.Errorf("session id = %q", c.Session().ID)
	}

	f := g.waitFrame(OpIdentify)
	var identify IdentifyData
	if err := json.Unmarshal(f.data, &identify); err != nil {
		t.Fatalf("decode identify: %v", err)
	}
	if identify.Token != "test-token" {
		t.Errorf("token = %q", identify.Token)
	}
	if identify.Intents != DefaultIntents {
		t.Errorf("intents = %d, want %d", identify.Intents, DefaultIntents)
	}
	if identify.Properties.Browser != "draft-league-bot" {
		t.Errorf("browser = %q", identify.Properties.Browser)
	}

	q := <-g.queries
	if q.Get("v") != "10" || q.Get("encoding") != "json" {
		t.Errorf("query = %v, want v=10&encoding=json", q)
	}

	if err := c.Open(ctx); err != nil {
		t.Errorf("second Open() error = %v", err)
	}
	if n := g.dials.Load(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
}

func TestClient_ResumesAfterResumableClose(t *testing.T) {
	g := newMockGateway(t)
	c := openClient(t, g, testConfig(g.URL()))
	rec := record(c, EventClosed, EventResumed)

	sc := g.conn(1)
	sc.dispatch(5, "GUILD_CREATE", map[string]any{})
	sc.dispatch(3, "TYPING_START", map[string]any{})
	waitFor(t, time.Second, func() bool { return c.Session().Sequence == 5 })

	sc.closeWith(CloseUnknownError)

	closed := rec.next(t, EventClosed).(ClosedEvent)
	if closed.Code != CloseUnknownError {
		t.Errorf("closed code = %d, want %d", closed.Code, CloseUnknownError)
	}
	rec.next(t, EventResumed)

	f := g.waitFrame(OpResume)
	var resume ResumeData
	if err := json.Unmarshal(f.data, &resume); err != nil {
		t.Fatalf("decode resume: %v", err)
	}
	if f.conn != 2 {
		t.Errorf("resume sent on connection %d, want 2", f.conn)
	}
	if resume.SessionID != "session-1" || resume.Seq != 5 || resume.Token != "test-token" {
		t.Errorf("resume = %+v", resume)
	}

	if c.Status() != StatusReady {
		t.Errorf("Status() = %s, want ready", c.Status())
	}
	if c.Session().ID != "session-1" {
		t.Errorf("session id changed to %q", c.Session().ID)
	}
	if h := c.Health(); h.ReconnectAttempts != 0 || h.TotalReconnects != 1 {
		t.Errorf("reconnects = %d/%d, want 0/1", h.ReconnectAttempts, h.TotalReconnects)
	}
}

func TestClient_ResumeCountsReplayedDispatches(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	g := newMockGateway(t, func(g *mockGateway) {
		g.onResume = func(sc *serverConn) {
			sc.dispatch(6, "MESSAGE_CREATE", map[string]any{})
			sc.dispatch(4, "TYPING_START", map[string]any{})
			<-release
			sc.dispatch(0, EventNameResumed, map[string]any{})
		}
	})
	c := openClient(t, g, testConfig(g.URL()))
	rec := record(c, EventResumed)

	sc := g.conn(1)
	sc.dispatch(5, "GUILD_CREATE", map[string]any{})
	waitFor(t, time.Second, func() bool { return c.Session().Sequence == 5 })
	sc.closeWith(CloseUnknownError)

	waitFor(t, 5*time.Second, func() bool {
		return c.Status() == StatusResuming && c.Session().Sequence == 6
	})
	unblock()

	ev := rec.next(t, EventResumed).(ResumedEvent)
	if ev.Replayed != 2 {
		t.Errorf("Replayed = %d, want 2", ev.Replayed)
	}
	if c.Status() != StatusReady {
		t.Errorf("Status() = %s, want ready", c.Status())
	}
	if seq := c.Session().Sequence; seq != 6 {
		t.Errorf("Sequence = %d, want 6", seq)
	}
}

func TestClient_ResumeTimeoutIdentifiesAfresh(t *testing.T) {
	g := newMockGateway(t, func(g *mockGateway) {
		g.onResume = func(*serverConn) {}
	})
	cfg := testConfig(g.URL())
	cfg.ReadyTimeout = 200 * time.Millisecond
	c := openClient(t, g, cfg)
	rec := record(c, EventReady, EventResumed)

	g.conn(1).closeWith(CloseUnknownError)

	if f := g.waitFrame(OpResume); f.conn != 2 {
		t.Errorf("resume sent on connection %d, want 2", f.conn)
	}
	if f := g.waitFrame(OpIdentify); f.conn != 3 {
		t.Errorf("identify sent on connection %d, want 3", f.conn)
	}
	rec.next(t, EventReady)

	if n := rec.count(EventResumed); n != 0 {
		t.Errorf("resumed events = %d, want 0", n)
	}
	if c.Status() != StatusReady {
		t.Errorf("Status() = %s, want ready", c.Status())
	}
}

func TestClient_ReconnectsAfterNormalClose(t *testing.T) {
	g := newMockGateway(t)
	c := openClient(t, g, testConfig(g.URL()))
	rec := record(c, EventReady)

	g.conn(1).closeWith(CloseNormal)
	rec.next(t, EventReady)

	f := g.waitFrame(OpIdentify)
	for f.conn != 2 {
		f = g.waitFrame(OpIdentify)
	}
	if c.Status() != StatusReady {
		t.Errorf("Status() = %s, want ready", c.Status())
	}
}

func TestClient_StopsAfterReconnectLimit(t *testing.T) {
	g := newMockGateway(t, func(g *mockGateway) { g.rejecting.Store(true) })
	n := &recordingNotifier{}
	c := newTestClient(t, testConfig(g.URL()), WithNotifier(n))

	limit := make(chan error, 1)
	c.Subscribe(EventError, func(ev Event) {
		if err := ev.(ErrorEvent).Err; errors.Is(err, ErrReconnectLimit) {
			select {
			case limit <- err:
			default:
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Open(ctx); err == nil {
		t.Fatal("Open() succeeded against a rejecting gateway")
	}

	select {
	case <-limit:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect limit never reached")
	}

	time.Sleep(100 * time.Millisecond)
	if d := g.dials.Load(); d != 11 {
		t.Errorf("dials = %d, want 11", d)
	}
	if c.Status() != StatusIdle {
		t.Errorf("Status() = %s, want idle", c.Status())
	}
	waitFor(t, time.Second, func() bool {
		_, ok := n.find(audit.LevelCritical)
		return ok
	})

	t.Run("restart recovers", func(t *testing.T) {
		g.rejecting.Store(false)
		rec := record(c, EventReady)
		if err := c.Restart(); err != nil {
			t.Fatalf("Restart() error = %v", err)
		}
		rec.next(t, EventReady)
		if c.Status() != StatusReady {
			t.Errorf("Status() = %s, want ready", c.Status())
		}
		if h := c.Health(); h.ReconnectAttempts != 0 {
			t.Errorf("ReconnectAttempts = %d, want 0", h.ReconnectAttempts)
		}
	})
}

func TestClient_IgnoresMalformedFrames(t *testing.T) {
	g := newMockGateway(t)
	c := openClient(t, g, testConfig(g.URL()))
	rec := record(c, EventHello, EventReady, EventResumed, EventError, EventClosed)
	before := c.Session()

	sc := g.conn(1)
	sc.sendRaw([]byte("{not json"))
	sc.sendRaw([]byte(`{"op":0,"d":`))
	sc.dispatch(7, "TYPING_START", map[string]any{})

	waitFor(t, time.Second, func() bool { return c.Session().Sequence == 7 })

	if c.Status() != StatusReady {
		t.Errorf("Status() = %s, want ready", c.Status())
	}
	if c.Session().ID != before.ID {
		t.Errorf("session id = %q, want %q", c.Session().ID, before.ID)
	}
	if n := rec.total(); n != 0 {
		t.Errorf("%d events emitted, want 0", n)
	}
}

func TestClient_CloseWhileIdleIsNoop(t *testing.T) {
	c := newTestClient(t, testConfig("ws://127.0.0.1:1"))
	rec := record(c, EventClosed)

	c.Close(CloseOptions{})
	c.Close(CloseOptions{Recover: RecoverResume})

	if c.Status() != StatusIdle {
		t.Errorf("Status() = %s, want idle", c.Status())
	}
	if rec.count(EventClosed) != 0 {
		t.Error("closed event emitted while idle")
	}
}

func TestClient_ConnectWhileNotIdleFails(t *testing.T) {
	g := newMockGateway(t)
	c := openClient(t, g, testConfig(g.URL()))

	dials := g.dials.Load()
	err := c.connect()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("connect() error = %v, want ErrInvalidTransition", err)
	}

	time.Sleep(50 * time.Millisecond)
	if g.dials.Load() != dials {
		t.Error("connect() dialed while not idle")
	}
	if c.Status() != StatusReady {
		t.Errorf("Status() = %s, want ready", c.Status())
	}
}

func TestClient_CloseSessionHandling(t *testing.T) {
	t.Run("without resume clears session", func(t *testing.T) {
		g := newMockGateway(t)
		c := openClient(t, g, testConfig(g.URL()))
		rec := record(c, EventClosed)

		c.Close(CloseOptions{Reason: "test"})

		if c.Session().ID != "" {
			t.Errorf("session id = %q, want empty", c.Session().ID)
		}
		if c.Status() != StatusIdle {
			t.Errorf("Status() = %s, want idle", c.Status())
		}
		if ev := rec.next(t, EventClosed).(ClosedEvent); ev.Code != CloseNormal {
			t.Errorf("closed code = %d, want %d", ev.Code, CloseNormal)
		}

		time.Sleep(50 * time.Millisecond)
		if g.dials.Load() != 1 {
			t.Errorf("dials = %d, want 1", g.dials.Load())
		}
	})

	t.Run("with resume keeps session", func(t *testing.T) {
		g := newMockGateway(t)
		c := openClient(t, g, testConfig(g.URL()))
		rec := record(c, EventClosed, EventResumed)

		c.Close(CloseOptions{Recover: RecoverResume})

		if c.Session().ID != "session-1" {
			t.Errorf("session id = %q, want session-1", c.Session().ID)
		}
		if ev := rec.next(t, EventClosed).(ClosedEvent); ev.Code != CloseResuming {
			t.Errorf("closed code = %d, want %d", ev.Code, CloseResuming)
		}
		rec.next(t, EventResumed)
	})
}

func TestClient_InvalidSession(t *testing.T) {
	t.Run("resumable", func(t *testing.T) {
		g := newMockGateway(t)
		c := openClient(t, g, testConfig(g.URL()))
		rec := record(c, EventResumed)

		g.conn(1).send(OpInvalidSession, true)

		rec.next(t, EventResumed)
		if c.Session().ID != "session-1" {
			t.Errorf("session id = %q", c.Session().ID)
		}
	})

	t.Run("not resumable", func(t *testing.T) {
		g := newMockGateway(t)
		c := openClient(t, g, testConfig(g.URL()))
		rec := record(c, EventReady, EventError)

		g.conn(1).send(OpInvalidSession, false)

		rec.next(t, EventError)
		rec.next(t, EventReady)
		f := g.waitFrame(OpIdentify)
		for f.conn != 2 {
			f = g.waitFrame(OpIdentify)
		}
	})
}

func TestClient_ReconnectRequest(t *testing.T) {
	g := newMockGateway(t)
	c := openClient(t, g, testConfig(g.URL()))
	rec := record(c, EventClosed, EventResumed)

	g.conn(1).send(OpReconnect, nil)

	if ev := rec.next(t, EventClosed).(ClosedEvent); ev.Code != CloseResuming {
		t.Errorf("closed code = %d, want %d", ev.Code, CloseResuming)
	}
	rec.next(t, EventResumed)
}

func TestClient_HelloTimeout(t *testing.T) {
	g := newMockGateway(t, func(g *mockGateway) { g.silent = true })
	cfg := testConfig(g.URL())
	cfg.HelloTimeout = 50 * time.Millisecond
	cfg.MaxReconnects = 1
	c := newTestClient(t, cfg)

	limit := make(chan struct{}, 1)
	c.Subscribe(EventError, func(ev Event) {
		if errors.Is(ev.(ErrorEvent).Err, ErrReconnectLimit) {
			select {
			case limit <- struct{}{}:
			default:
			}
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go c.Open(ctx)

	select {
	case <-limit:
	case <-time.After(5 * time.Second):
		t.Fatal("hello timeouts did not exhaust the reconnect budget")
	}
	if d := g.dials.Load(); d != 2 {
		t.Errorf("dials = %d, want 2", d)
	}
}

func TestClient_Interactions(t *testing.T) {
	g := newMockGateway(t)
	h := &recordingHandler{ch: make(chan json.RawMessage, 4)}
	c := openClient(t, g, testConfig(g.URL()), WithInteractionHandler(h))

	sc := g.conn(1)
	sc.dispatch(2, EventNameInteractionCreate, map[string]any{"id": "i1", "application_id": "other-app", "type": 2})
	sc.dispatch(3, EventNameInteractionCreate, map[string]any{"id": "i2", "application_id": "app-1", "type": 2})

	select {
	case raw := <-h.ch:
		if !strings.Contains(string(raw), `"i2"`) {
			t.Errorf("forwarded %s, want interaction i2", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("interaction not forwarded")
	}

	select {
	case raw := <-h.ch:
		t.Errorf("unexpected interaction forwarded: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}

	if c.Session().Sequence != 3 {
		t.Errorf("Sequence = %d, want 3", c.Session().Sequence)
	}
}

func TestClient_AuditedDispatch(t *testing.T) {
	g := newMockGateway(t)
	n := &recordingNotifier{}
	openClient(t, g, testConfig(g.URL()), WithNotifier(n))

	g.conn(1).dispatch(2, EventNameGuildMemberAdd, map[string]any{
		"guild_id": "g1",
		"user":     map[string]any{"id": "u1", "username": "bob"},
	})

	waitFor(t, 2*time.Second, func() bool {
		_, ok := n.find(audit.LevelInfo)
		return ok
	})
	note, _ := n.find(audit.LevelInfo)
	if note.title != "Member Joined" || note.body != "bob (u1)" {
		t.Errorf("notification = %+v", note)
	}
}

func TestDescribeDispatch(t *testing.T) {
	chanType := 0
	tests := []struct {
		event  string
		p      auditPayload
		title  string
		body   string
		fields int
	}{
		{EventNameGuildBanAdd, auditPayload{GuildID: "g", User: &User{ID: "u", Username: "eve"}}, "Member Banned", "eve (u)", 3},
		{EventNameChannelCreate, auditPayload{GuildID: "g", ID: "c", Name: "general", Type: &chanType}, "Channel Created", "#general (c)", 4},
		{EventNameGuildRoleDelete, auditPayload{GuildID: "g", RoleID: "r"}, "Role Deleted", "Role r", 2},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			title, body, fields := describeDispatch(tt.event, tt.p)
			if title != tt.title || body != tt.body {
				t.Errorf("got %q / %q, want %q / %q", title, body, tt.title, tt.body)
			}
			if len(fields) != tt.fields {
				t.Errorf("fields = %d, want %d", len(fields), tt.fields)
			}
		})
	}
}

func TestClient_SendBudget(t *testing.T) {
	g := newMockGateway(t)
	cfg := testConfig(g.URL())
	cfg.SendBudget = 2
	cfg.SendWindow = 300 * time.Millisecond
	c := openClient(t, g, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := c.UpdatePresence(ctx, Presence{Status: "online"}); err != nil {
			t.Fatalf("UpdatePresence() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("three sends took %v, want the third delayed to the next window", elapsed)
	}

	for i := 0; i < 3; i++ {
		g.waitFrame(OpPresenceUpdate)
	}
}

func TestClient_ThrottledSendMovesToNextConnection(t *testing.T) {
	g := newMockGateway(t)
	cfg := testConfig(g.URL())
	cfg.SendBudget = 1
	cfg.SendWindow = time.Minute
	c := openClient(t, g, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.UpdatePresence(ctx, Presence{Status: "online"}); err != nil {
		t.Fatalf("first UpdatePresence() error = %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- c.UpdatePresence(ctx, Presence{Status: "idle"}) }()

	// The second send holds the slot while throttled.
	waitFor(t, time.Second, func() bool {
		if c.slot.TryAcquire(1) {
			c.slot.Release(1)
			return false
		}
		return true
	})

	g.conn(1).closeWith(CloseUnknownError)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("throttled UpdatePresence() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("throttled send never completed")
	}

	var presence Presence
	for {
		f := g.waitFrame(OpPresenceUpdate)
		json.Unmarshal(f.data, &presence)
		if presence.Status == "idle" {
			if f.conn != 2 {
				t.Errorf("requeued frame sent on connection %d, want 2", f.conn)
			}
			break
		}
	}
}

func TestClient_Cleanup(t *testing.T) {
	g := newMockGateway(t)
	c := openClient(t, g, testConfig(g.URL()))

	c.Cleanup()

	if c.Status() != StatusIdle {
		t.Errorf("Status() = %s, want idle", c.Status())
	}
	if err := c.UpdatePresence(context.Background(), Presence{}); !errors.Is(err, ErrClientShutdown) {
		t.Errorf("UpdatePresence() error = %v, want ErrClientShutdown", err)
	}
	if err := c.Restart(); !errors.Is(err, ErrClientShutdown) {
		t.Errorf("Restart() error = %v, want ErrClientShutdown", err)
	}
	c.Cleanup()
}

// attachConn installs a live socket on c as generation 1 in the ready state.
// The returned channel receives every opcode the server reads.
func attachConn(t *testing.T, c *Client) <-chan Opcode {
	t.Helper()
	ops := make(chan Opcode, 32)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var f Frame
			if json.Unmarshal(data, &f) == nil {
				ops <- f.Op
			}
		}
	}))
	t.Cleanup(server.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	cn := newConn(ws, 1, time.Second)
	ctx, cancel := context.WithCancel(c.lifeCtx)

	c.mu.Lock()
	c.gen = 1
	c.conn = cn
	c.status = StatusReady
	c.attempted = true
	c.heartbeatAcked = true
	c.session = Session{ID: "s", Sequence: 4}
	c.health.connectedSince = time.Now()
	c.attemptCtx, c.attemptCancel = ctx, cancel
	c.mu.Unlock()

	c.spawn(func() { c.readLoop(ctx, cn) })
	return ops
}

func countOps(ops <-chan Opcode, want Opcode, quiet time.Duration) int {
	n := 0
	for {
		select {
		case op := <-ops:
			if op == want {
				n++
			}
		case <-time.After(quiet):
			return n
		}
	}
}

func TestHeartbeat_ZombieAfterThreeMisses(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1")
	cfg.RecoverDelay = time.Hour
	c := newTestClient(t, cfg)
	ops := attachConn(t, c)
	rec := record(c, EventClosed)

	for i := 0; i < 4; i++ {
		c.heartbeat(1, false)
	}

	ev := rec.next(t, EventClosed).(ClosedEvent)
	if ev.Code != CloseResuming {
		t.Errorf("closed code = %d, want %d", ev.Code, CloseResuming)
	}
	if n := countOps(ops, OpHeartbeat, 200*time.Millisecond); n != 3 {
		t.Errorf("heartbeats sent = %d, want 3", n)
	}
	if c.Session().ID != "s" {
		t.Error("zombie close dropped the session")
	}
}

func TestHeartbeat_RequestedBypassesMissCheck(t *testing.T) {
	c := newTestClient(t, testConfig("ws://127.0.0.1:1"))
	ops := attachConn(t, c)

	c.mu.Lock()
	c.heartbeatAcked = false
	c.mu.Unlock()

	for i := 0; i < 5; i++ {
		c.heartbeat(1, true)
	}

	if n := countOps(ops, OpHeartbeat, 200*time.Millisecond); n != 5 {
		t.Errorf("heartbeats sent = %d, want 5", n)
	}
	if h := c.Health(); h.ConsecutiveMissedAcks != 0 {
		t.Errorf("ConsecutiveMissedAcks = %d, want 0", h.ConsecutiveMissedAcks)
	}
	if c.Status() != StatusReady {
		t.Errorf("Status() = %s, want ready", c.Status())
	}
}

func TestHeartbeat_Ack(t *testing.T) {
	c := newTestClient(t, testConfig("ws://127.0.0.1:1"))
	attachConn(t, c)
	rec := record(c, EventHeartbeatComplete)

	c.heartbeat(1, false)
	c.heartbeat(1, false)
	if h := c.Health(); h.ConsecutiveMissedAcks != 1 {
		t.Fatalf("ConsecutiveMissedAcks = %d, want 1", h.ConsecutiveMissedAcks)
	}

	c.handleHeartbeatAck(1)

	ev := rec.next(t, EventHeartbeatComplete).(HeartbeatCompleteEvent)
	if ev.HeartbeatAt.IsZero() || ev.Latency < 0 || ev.AckAt.Before(ev.HeartbeatAt) {
		t.Errorf("event = %+v", ev)
	}
	h := c.Health()
	if h.ConsecutiveMissedAcks != 0 || h.LastHeartbeatAckAt.IsZero() {
		t.Errorf("health = %+v", h)
	}

	c.handleHeartbeatAck(99)
	time.Sleep(20 * time.Millisecond)
	if rec.count(EventHeartbeatComplete) != 1 {
		t.Error("ack for a stale generation was processed")
	}
}

func TestCheckHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		c := newTestClient(t, testConfig("ws://127.0.0.1:1"))
		attachConn(t, c)
		if c.checkHealth(1, time.Now()) {
			t.Error("checkHealth() tripped on a fresh connection")
		}
	})

	t.Run("stale ack", func(t *testing.T) {
		cfg := testConfig("ws://127.0.0.1:1")
		cfg.RecoverDelay = time.Hour
		n := &recordingNotifier{}
		c := newTestClient(t, cfg, WithNotifier(n))
		attachConn(t, c)
		rec := record(c, EventClosed)

		c.mu.Lock()
		c.health.lastHeartbeatAck = time.Now().Add(-6 * time.Minute)
		c.mu.Unlock()

		if !c.checkHealth(1, time.Now()) {
			t.Fatal("checkHealth() did not trip")
		}
		if ev := rec.next(t, EventClosed).(ClosedEvent); ev.Code != CloseResuming {
			t.Errorf("closed code = %d, want %d", ev.Code, CloseResuming)
		}
		waitFor(t, time.Second, func() bool {
			_, ok := n.find(audit.LevelWarn)
			return ok
		})
	})

	t.Run("missed acks", func(t *testing.T) {
		cfg := testConfig("ws://127.0.0.1:1")
		cfg.RecoverDelay = time.Hour
		c := newTestClient(t, cfg)
		attachConn(t, c)

		c.mu.Lock()
		c.health.missedAcks = 5
		c.mu.Unlock()

		if !c.checkHealth(1, time.Now()) {
			t.Error("checkHealth() did not trip")
		}
	})

	t.Run("stale generation", func(t *testing.T) {
		c := newTestClient(t, testConfig("ws://127.0.0.1:1"))
		attachConn(t, c)
		c.mu.Lock()
		c.health.missedAcks = 10
		c.mu.Unlock()
		if c.checkHealth(7, time.Now()) {
			t.Error("checkHealth() acted on a stale generation")
		}
	})
}

func TestBackoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectJitter = 0
	c := New(cfg, WithLogger(discardLogger))

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{9, 256 * time.Second},
		{10, 5 * time.Minute},
		{40, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := c.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	c.cfg.ReconnectJitter = time.Second
	for i := 0; i < 20; i++ {
		got := c.backoff(1)
		if got < time.Second || got >= 2*time.Second {
			t.Fatalf("backoff(1) with jitter = %v, want [1s, 2s)", got)
		}
	}
}
