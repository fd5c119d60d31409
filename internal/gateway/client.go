package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/jsonfox/draft-league-bot/internal/audit"
	"github.com/jsonfox/draft-league-bot/internal/metrics"
)

// Notifier receives operational notifications. *audit.Service implements it.
type Notifier interface {
	Notify(ctx context.Context, level audit.Level, title, body string, fields ...audit.Field)
}

// InteractionHandler processes INTERACTION_CREATE payloads addressed to this
// application.
type InteractionHandler interface {
	HandleInteraction(ctx context.Context, raw json.RawMessage) error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNotifier sets the audit notifier.
func WithNotifier(n Notifier) Option {
	return func(c *Client) {
		c.notifier = n
	}
}

// WithInteractionHandler sets the handler for interactions.
func WithInteractionHandler(h InteractionHandler) Option {
	return func(c *Client) {
		c.interactions = h
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithDialer sets a custom WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// Client maintains one logical connection to the gateway. It resumes or
// re-identifies after connection loss and gives up after MaxReconnects
// consecutive failed attempts.
type Client struct {
	cfg          Config
	logger       *slog.Logger
	notifier     Notifier
	interactions InteractionHandler
	metrics      *metrics.Metrics
	dialer       *websocket.Dialer

	events  *emitter
	limiter *windowLimiter
	slot    *semaphore.Weighted

	// Lifetime of the client, cancelled by Cleanup
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	wg         sync.WaitGroup

	// Serializes teardown
	closeMu sync.Mutex

	mu                sync.Mutex
	status            Status
	session           Session
	conn              *conn
	gen               uint64
	attemptCtx        context.Context
	attemptCancel     context.CancelFunc
	recoverCancel     context.CancelFunc // pending post-close reconnect
	attempted         bool
	everConnected     bool
	stopped           bool
	reconnectAttempts int
	replayed          int
	heartbeatAcked    bool
	health            healthState
}

// New creates a Client. It does not connect; call Open.
func New(cfg Config, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:           cfg,
		logger:        slog.Default(),
		dialer:        &websocket.Dialer{HandshakeTimeout: cfg.HandshakeLimit},
		events:        newEmitter(),
		limiter:       newWindowLimiter(cfg.SendBudget, cfg.SendWindow),
		slot:          semaphore.NewWeighted(1),
		lifeCtx:       ctx,
		lifeCancel:    cancel,
		attemptCtx:    ctx,
		attemptCancel: func() {},
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "gateway")

	return c
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Session returns a copy of the resumable session state.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Subscribe registers fn for events of kind and returns a function that
// removes it. Events are not replayed to late subscribers.
func (c *Client) Subscribe(kind EventKind, fn Listener) func() {
	return c.events.subscribe(kind, fn)
}

// WaitForEvent blocks until an event of kind fires. A closed event, the
// timeout (0 disables it) or ctx cancellation abandon the wait.
func (c *Client) WaitForEvent(ctx context.Context, kind EventKind, timeout time.Duration) (Event, error) {
	w := c.events.waiter(kind != EventClosed, kind)
	return w.wait(ctx, timeout)
}

// Open starts connecting and blocks until the session is ready or resumed,
// or the attempt reports an error. It returns nil immediately once the
// client has connected before.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.everConnected {
		c.mu.Unlock()
		return nil
	}
	if c.stopped {
		c.mu.Unlock()
		return ErrClientShutdown
	}
	if err := checkTransition(c.status, StatusConnecting); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("open: %w", err)
	}
	c.mu.Unlock()

	w := c.events.waiter(false, EventReady, EventResumed, EventError)
	defer w.stop()

	c.spawn(func() {
		if err := c.connect(); err != nil {
			c.logger.Debug("connect attempt ended", "error", err)
		}
	})

	ev, err := w.wait(ctx, 0)
	if err != nil {
		return err
	}
	if e, ok := ev.(ErrorEvent); ok {
		return e.Err
	}
	return nil
}

// Close tears down the current connection. It is a no-op while Idle. With
// RecoverResume the session is kept and the client resumes after
// RecoverDelay; with RecoverReconnect it identifies afresh.
func (c *Client) Close(opts CloseOptions) {
	c.closeGen(0, opts)
}

// Restart resets the reconnect counter and reconnects. It is the operator
// path out of an exhausted reconnect budget.
func (c *Client) Restart() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrClientShutdown
	}
	c.reconnectAttempts = 0
	status := c.status
	c.mu.Unlock()

	c.logger.Info("restarting gateway connection", "status", status)

	if status != StatusIdle {
		c.closeGen(0, CloseOptions{Reason: "restart", Recover: RecoverReconnect})
		return nil
	}

	c.cancelPendingRecover()
	c.spawn(func() {
		if err := c.connect(); err != nil {
			c.logger.Debug("connect attempt ended", "error", err)
		}
	})
	return nil
}

// UpdatePresence sends a presence update. No acknowledgment is awaited.
func (c *Client) UpdatePresence(ctx context.Context, p Presence) error {
	if p.Activities == nil {
		p.Activities = []Activity{}
	}
	return c.send(ctx, OpPresenceUpdate, p)
}

// Cleanup stops the client for process shutdown. The socket is dropped
// without a close handshake and background goroutines are awaited for at
// most CloseTimeout.
func (c *Client) Cleanup() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.lifeCancel()
	cn := c.conn
	c.conn = nil
	if c.status != StatusIdle {
		c.setStatusLocked(StatusIdle)
	}
	c.mu.Unlock()

	if cn != nil {
		cn.terminate()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.cfg.CloseTimeout):
		c.logger.Warn("timed out waiting for gateway goroutines")
	}
	c.logger.Info("gateway client stopped")
}

// connect runs one connection attempt. It fails fast unless the client is
// Idle.
func (c *Client) connect() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrClientShutdown
	}
	if err := c.setStatusLocked(StatusConnecting); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("connect: %w", err)
	}
	retry := c.attempted
	c.attempted = true
	if retry {
		c.reconnectAttempts++
		c.health.totalReconnects++
	}
	attempts := c.reconnectAttempts
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.lifeCtx)
	c.attemptCtx, c.attemptCancel = ctx, cancel
	resume := c.session.valid()
	target := c.cfg.URL
	if resume && c.session.ResumeURL != "" {
		target = c.session.ResumeURL
	}
	c.mu.Unlock()

	if retry {
		c.metrics.GatewayReconnect()
	}

	if attempts > c.cfg.MaxReconnects {
		return c.exhaust(gen, attempts)
	}

	if attempts > 0 {
		delay := c.backoff(attempts)
		c.logger.Info("reconnecting",
			"attempt", attempts,
			"max", c.cfg.MaxReconnects,
			"delay", delay,
			"resume", resume,
		)
		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
	}

	hello := c.events.waiter(true, EventHello)
	cn, err := c.dial(ctx, target, gen)
	if err != nil {
		hello.stop()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		gerr := newError("dial", 0, err)
		c.fail(gerr, false)
		c.recover(gen, CloseOptions{Reason: "dial failed", Recover: RecoverReconnect})
		return gerr
	}

	c.spawn(func() { c.readLoop(ctx, cn) })
	c.spawn(func() { c.monitorHealth(ctx, gen) })

	if _, err := hello.wait(ctx, c.cfg.HelloTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("no hello from gateway", "error", err, "timeout", c.cfg.HelloTimeout)
		c.recover(gen, CloseOptions{Reason: "hello timeout", Recover: RecoverReconnect})
		return fmt.Errorf("wait for hello: %w", err)
	}

	c.mu.Lock()
	resume = resume && c.session.valid()
	c.mu.Unlock()

	if resume {
		return c.resume(ctx, gen)
	}
	return c.identify(ctx, gen)
}

// dial opens the socket and installs it as the current connection.
func (c *Client) dial(ctx context.Context, target string, gen uint64) (*conn, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(c.cfg.Version))
	q.Set("encoding", "json")
	u.RawQuery = q.Encode()

	c.logger.Debug("dialing gateway", "url", u.String(), "gen", gen)

	ws, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	cn := newConn(ws, gen, c.cfg.WriteTimeout)

	c.mu.Lock()
	if c.gen != gen || ctx.Err() != nil {
		c.mu.Unlock()
		cn.terminate()
		return nil, ErrConnectionClosed
	}
	c.conn = cn
	c.heartbeatAcked = true
	c.health.missedAcks = 0
	c.mu.Unlock()

	c.limiter.reset(time.Now())
	return cn, nil
}

// identify establishes a new session.
func (c *Client) identify(ctx context.Context, gen uint64) error {
	if !sleepCtx(ctx, c.cfg.IdentifyDelay) {
		return ctx.Err()
	}

	ready := c.events.waiter(true, EventReady)
	err := c.write(gen, OpIdentify, IdentifyData{
		Token:   c.cfg.Token,
		Intents: c.cfg.Intents,
		Properties: IdentifyProperties{
			OS:      "linux",
			Browser: c.cfg.ClientName,
			Device:  c.cfg.ClientName,
		},
		Presence: c.cfg.Presence,
	})
	if err != nil {
		ready.stop()
		return fmt.Errorf("send identify: %w", err)
	}

	if _, err := ready.wait(ctx, c.cfg.ReadyTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("no ready after identify", "error", err, "timeout", c.cfg.ReadyTimeout)
		c.recover(gen, CloseOptions{Reason: "ready timeout", Recover: RecoverResume})
		return fmt.Errorf("wait for ready: %w", err)
	}
	return nil
}

// resume replays the previous session on the new socket. A session the
// gateway does not answer within ReadyTimeout is abandoned for a fresh
// identify.
func (c *Client) resume(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	if err := c.setStatusLocked(StatusResuming); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("resume: %w", err)
	}
	c.replayed = 0
	data := ResumeData{
		Token:     c.cfg.Token,
		SessionID: c.session.ID,
		Seq:       c.session.Sequence,
	}
	c.mu.Unlock()

	c.logger.Info("resuming session", "session_id", data.SessionID, "seq", data.Seq)

	resumed := c.events.waiter(true, EventResumed)
	if err := c.write(gen, OpResume, data); err != nil {
		resumed.stop()
		return fmt.Errorf("send resume: %w", err)
	}

	if _, err := resumed.wait(ctx, c.cfg.ReadyTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("no resumed after resume", "error", err, "timeout", c.cfg.ReadyTimeout)
		c.recover(gen, CloseOptions{Reason: "resume timeout", Recover: RecoverReconnect})
		return fmt.Errorf("wait for resumed: %w", err)
	}
	return nil
}

// closeGen tears down the connection of generation gen (0 means whatever is
// current) and schedules recovery. Stale generations are ignored.
func (c *Client) closeGen(gen uint64, opts CloseOptions) {
	c.closeMu.Lock()

	c.mu.Lock()
	if c.status == StatusIdle {
		if opts.Recover == RecoverNone && c.recoverCancel != nil {
			c.recoverCancel()
			c.recoverCancel = nil
		}
		c.mu.Unlock()
		c.closeMu.Unlock()
		if gen == 0 {
			c.logger.Warn("close called while idle")
		}
		return
	}
	if gen != 0 && gen != c.gen {
		c.mu.Unlock()
		c.closeMu.Unlock()
		c.logger.Debug("ignoring close for stale connection", "gen", gen, "current", c.gen)
		return
	}

	if opts.Code == 0 {
		opts.Code = CloseNormal
		if opts.Recover == RecoverResume {
			opts.Code = CloseResuming
		}
	}

	c.attemptCancel()
	if opts.Recover != RecoverResume {
		c.session.reset()
	}
	cn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.logger.Info("closing gateway connection",
		"code", opts.Code,
		"reason", opts.Reason,
		"recover", opts.Recover,
	)

	if cn != nil {
		cn.shutdown(opts.Code, opts.Reason, c.cfg.CloseTimeout)
	}

	c.mu.Lock()
	c.setStatusLocked(StatusIdle)
	c.health.connectedSince = time.Time{}
	var recoverCtx context.Context
	if opts.Recover != RecoverNone && !c.stopped {
		var cancel context.CancelFunc
		recoverCtx, cancel = context.WithCancel(c.lifeCtx)
		c.recoverCancel = cancel
	}
	c.mu.Unlock()
	c.closeMu.Unlock()

	c.events.emit(ClosedEvent{Code: opts.Code})

	if recoverCtx == nil {
		return
	}
	c.spawn(func() {
		if !sleepCtx(recoverCtx, c.cfg.RecoverDelay) {
			return
		}
		c.mu.Lock()
		c.recoverCancel = nil
		c.mu.Unlock()
		if err := c.connect(); err != nil {
			c.logger.Debug("connect attempt ended", "error", err)
		}
	})
}

// recover runs closeGen on its own goroutine. Internal triggers (read loop,
// heartbeat, health monitor, connect) use it so they never wait on their own
// teardown.
func (c *Client) recover(gen uint64, opts CloseOptions) {
	c.spawn(func() { c.closeGen(gen, opts) })
}

func (c *Client) cancelPendingRecover() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recoverCancel != nil {
		c.recoverCancel()
		c.recoverCancel = nil
	}
}

// exhaust stops reconnecting after too many consecutive failures.
func (c *Client) exhaust(gen uint64, attempts int) error {
	err := fmt.Errorf("%w: %d consecutive attempts failed", ErrReconnectLimit, attempts)

	c.mu.Lock()
	if gen == c.gen {
		c.attemptCancel()
		c.session.reset()
		c.setStatusLocked(StatusIdle)
	}
	c.health.lastError = err.Error()
	c.mu.Unlock()

	c.logger.Error("giving up on gateway connection", "attempts", attempts, "max", c.cfg.MaxReconnects)
	c.events.emit(ErrorEvent{Err: err})
	c.notify(audit.LevelCritical, "Gateway reconnect limit exceeded",
		"The gateway connection failed too many times in a row and will not be retried until restarted.",
		audit.Field{Name: "Attempts", Value: strconv.Itoa(attempts), Inline: true},
		audit.Field{Name: "Limit", Value: strconv.Itoa(c.cfg.MaxReconnects), Inline: true},
	)
	return err
}

// fail records err and emits it. Protocol errors are escalated to the
// notifier in production when escalate is set.
func (c *Client) fail(err *Error, escalate bool) {
	c.mu.Lock()
	c.health.lastError = err.Error()
	c.mu.Unlock()

	c.logger.Warn("gateway error", "kind", err.Kind, "op", err.Op, "code", err.Code, "error", err.Err)
	c.metrics.GatewayError(err.Kind.String())
	c.events.emit(ErrorEvent{Err: err})

	if escalate && err.Kind == KindProtocol && c.cfg.Production {
		fields := []audit.Field{{Name: "Operation", Value: err.Op, Inline: true}}
		if err.Code != 0 {
			fields = append(fields, audit.Field{Name: "Close Code", Value: strconv.Itoa(err.Code), Inline: true})
		}
		c.notify(audit.LevelError, "Gateway protocol error", err.Error(), fields...)
	}
}

// notify sends a notification without blocking the caller.
func (c *Client) notify(level audit.Level, title, body string, fields ...audit.Field) {
	if c.notifier == nil {
		return
	}
	c.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.NotificationTimeout)
		defer cancel()
		c.notifier.Notify(ctx, level, title, body, fields...)
	})
}

// setStatusLocked applies a checked transition. c.mu must be held.
func (c *Client) setStatusLocked(to Status) error {
	if err := checkTransition(c.status, to); err != nil {
		c.logger.Error("illegal status transition", "from", c.status, "to", to)
		return err
	}
	c.logger.Debug("status changed", "from", c.status, "to", to)
	c.status = to
	c.metrics.SetGatewayStatus(int(to))
	return nil
}

// spawn runs fn on a tracked goroutine unless the client has been stopped.
func (c *Client) spawn(fn func()) bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

// backoff returns the delay before reconnect attempt n (1-based): base
// doubling per attempt, capped, plus random jitter.
func (c *Client) backoff(n int) time.Duration {
	d := c.cfg.ReconnectBaseWait
	for i := 1; i < n && d < c.cfg.ReconnectMaxWait; i++ {
		d *= 2
	}
	if d > c.cfg.ReconnectMaxWait {
		d = c.cfg.ReconnectMaxWait
	}
	if c.cfg.ReconnectJitter > 0 {
		d += time.Duration(rand.Int64N(int64(c.cfg.ReconnectJitter)))
	}
	return d
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
