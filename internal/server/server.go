// Package server exposes the overlay, analytics and gateway control API
// over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jsonfox/draft-league-bot/internal/analytics"
	"github.com/jsonfox/draft-league-bot/internal/auth"
	"github.com/jsonfox/draft-league-bot/internal/gateway"
	"github.com/jsonfox/draft-league-bot/internal/metrics"
	"github.com/jsonfox/draft-league-bot/internal/overlay"
)

// Gateway is the control surface of the gateway client. *gateway.Client
// implements it.
type Gateway interface {
	Open(ctx context.Context) error
	Close(opts gateway.CloseOptions)
	Restart() error
	UpdatePresence(ctx context.Context, p gateway.Presence) error
	Health() gateway.Health
}

// Config configures the HTTP surface.
type Config struct {
	Addr            string
	RateLimitWindow time.Duration
	RateLimitMax    int
	Production      bool   // send HSTS
	MetricsPath     string // empty disables /metrics
	OpenTimeout     time.Duration
}

// Deps are the components the routes serve. Gateway may be nil when the
// service runs without a gateway connection.
type Deps struct {
	Guard     *auth.Guard
	Store     *overlay.Store
	Hub       http.Handler
	Analytics *analytics.Service
	Gateway   Gateway
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
}

// Server is the HTTP API.
type Server struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	limiter *rateLimiter
	handler http.Handler
}

// New builds the router and middleware chain.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With("component", "http"),
		limiter: newRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow),
	}
	s.handler = s.logRequests(s.securityHeaders(s.cors(s.rateLimit(s.routes()))))
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HTTPServer returns an *http.Server for cfg.Addr.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Prune drops expired rate limit windows and auth failure records.
func (s *Server) Prune() {
	s.limiter.prune(time.Now())
	s.deps.Guard.Prune()
}

// RunPruner calls Prune every interval until ctx is done.
func (s *Server) RunPruner(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Prune()
		}
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	protect := s.deps.Guard.Middleware

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("GET /overlay", protect(http.HandlerFunc(s.handleGetOverlay)))
	mux.Handle("POST /overlay", protect(http.HandlerFunc(s.handlePostOverlay)))
	mux.Handle("GET /overlay/ws", s.deps.Hub)

	mux.Handle("GET /analytics", protect(http.HandlerFunc(s.handleAnalytics)))

	mux.Handle("GET /gateway/status", protect(http.HandlerFunc(s.handleGatewayStatus)))
	mux.Handle("POST /gateway/open", protect(s.withGateway(s.handleGatewayOpen)))
	mux.Handle("POST /gateway/close", protect(s.withGateway(s.handleGatewayClose)))
	mux.Handle("POST /gateway/restart", protect(s.withGateway(s.handleGatewayRestart)))
	mux.Handle("POST /gateway/presence", protect(s.withGateway(s.handleGatewayPresence)))

	if s.cfg.MetricsPath != "" && s.deps.Gatherer != nil {
		mux.Handle("GET "+s.cfg.MetricsPath, metrics.Handler(s.deps.Gatherer))
	}

	return mux
}
