// Package auth guards protected HTTP routes with a shared token and blocks
// clients that repeatedly fail to present it.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Failure blocking defaults.
const (
	DefaultMaxFailures   = 5
	DefaultFailureWindow = 5 * time.Minute
	DefaultBlockDuration = 15 * time.Minute
)

var (
	ErrBlocked        = errors.New("too many failed attempts")
	ErrInvalidToken   = errors.New("invalid authorization")
	ErrOriginMismatch = errors.New("origin not allowed")
)

type attempt struct {
	count   int
	last    time.Time
	blocked bool
}

// Guard authorizes requests by token and origin.
type Guard struct {
	token  string
	origin *url.URL
	logger *slog.Logger

	MaxFailures   int
	FailureWindow time.Duration
	BlockDuration time.Duration

	now func() time.Time

	mu       sync.Mutex
	attempts map[string]*attempt
}

// NewGuard creates a Guard for the given auth token and allowed origin.
func NewGuard(token, origin string, logger *slog.Logger) (*Guard, error) {
	if token == "" {
		return nil, fmt.Errorf("auth token is required")
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", origin)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		token:         token,
		origin:        u,
		logger:        logger.With("component", "auth"),
		MaxFailures:   DefaultMaxFailures,
		FailureWindow: DefaultFailureWindow,
		BlockDuration: DefaultBlockDuration,
		now:           time.Now,
		attempts:      make(map[string]*attempt),
	}, nil
}

// Origin returns the allowed origin as scheme://host[:port].
func (g *Guard) Origin() string {
	return g.origin.Scheme + "://" + g.origin.Host
}

// ValidToken compares tok with the auth token in constant time.
func (g *Guard) ValidToken(tok string) bool {
	return subtle.ConstantTimeCompare([]byte(tok), []byte(g.token)) == 1
}

// ValidOrigin reports whether origin matches the allowed origin on scheme,
// host and port.
func (g *Guard) ValidOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		g.logger.Warn("invalid origin header", "origin", origin)
		return false
	}
	return strings.EqualFold(u.Scheme, g.origin.Scheme) &&
		strings.EqualFold(u.Hostname(), g.origin.Hostname()) &&
		u.Port() == g.origin.Port()
}

// Authorize checks the Authorization header and, for browser requests, the
// Origin header. Failures count toward blocking the client IP.
func (g *Guard) Authorize(r *http.Request) error {
	ip := ClientIP(r)
	if g.blocked(ip) {
		g.logger.Warn("blocked client attempted access", "ip", ip)
		return ErrBlocked
	}

	err := g.check(r)
	if err != nil {
		g.recordFailure(ip)
		g.logger.Warn("failed authentication attempt", "ip", ip, "error", err)
		return err
	}

	g.mu.Lock()
	delete(g.attempts, ip)
	g.mu.Unlock()
	return nil
}

func (g *Guard) check(r *http.Request) error {
	if !g.ValidToken(r.Header.Get("Authorization")) {
		return ErrInvalidToken
	}
	if origin := r.Header.Get("Origin"); origin != "" && !g.ValidOrigin(origin) {
		return ErrOriginMismatch
	}
	return nil
}

// Middleware rejects unauthorized requests with 403, or 429 while the
// client is blocked.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch err := g.Authorize(r); {
		case errors.Is(err, ErrBlocked):
			http.Error(w, "Too many failed attempts. Try again later.", http.StatusTooManyRequests)
		case err != nil:
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (g *Guard) blocked(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.attempts[ip]
	if !ok || !a.blocked {
		return false
	}
	if g.now().Sub(a.last) >= g.BlockDuration {
		delete(g.attempts, ip)
		return false
	}
	return true
}

func (g *Guard) recordFailure(ip string) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.attempts[ip]
	if !ok {
		a = &attempt{}
		g.attempts[ip] = a
	}
	if ok && now.Sub(a.last) > g.FailureWindow {
		a.count = 0
	}
	a.count++
	a.last = now

	if a.count >= g.MaxFailures && !a.blocked {
		a.blocked = true
		g.logger.Warn("client blocked", "ip", ip, "failures", a.count)
	}
}

// Prune drops failure records that no longer affect blocking.
func (g *Guard) Prune() {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()
	for ip, a := range g.attempts {
		limit := g.FailureWindow
		if a.blocked {
			limit = g.BlockDuration
		}
		if now.Sub(a.last) > limit {
			delete(g.attempts, ip)
		}
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address host.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
