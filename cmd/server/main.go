// server runs the draft league bot: the Discord gateway connection, the
// interaction forwarder and the overlay/analytics HTTP API.
// Usage: go run ./cmd/server --config configs/server.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/jsonfox/draft-league-bot/internal/analytics"
	"github.com/jsonfox/draft-league-bot/internal/audit"
	"github.com/jsonfox/draft-league-bot/internal/auth"
	"github.com/jsonfox/draft-league-bot/internal/config"
	"github.com/jsonfox/draft-league-bot/internal/database"
	"github.com/jsonfox/draft-league-bot/internal/discord"
	"github.com/jsonfox/draft-league-bot/internal/gateway"
	"github.com/jsonfox/draft-league-bot/internal/interaction"
	"github.com/jsonfox/draft-league-bot/internal/metrics"
	"github.com/jsonfox/draft-league-bot/internal/overlay"
	"github.com/jsonfox/draft-league-bot/internal/server"
	"github.com/jsonfox/draft-league-bot/internal/version"
)

const (
	pruneInterval       = time.Minute
	notificationTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "config", *configPath, "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting draft league bot",
		"version", version.Version,
		"commit", version.Commit,
		"environment", cfg.Server.Environment,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	rest := discord.NewClient(cfg.Discord.APIURL, cfg.Discord.Token, discord.WithLogger(logger))

	// Audit sinks
	var sinks []audit.Sink
	if cfg.Discord.AuditChannelID != "" {
		sinks = append(sinks, audit.NewChannelSink(rest, cfg.Discord.AuditChannelID))
	}
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		auditStore := database.NewAuditStore(pool)
		if err := auditStore.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, auditStore)
		logger.Info("database connected")
	}
	notifier := audit.NewService(logger, notificationTimeout, sinks...)

	guard, err := auth.NewGuard(cfg.Server.AuthToken, cfg.Server.OriginURL, logger)
	if err != nil {
		return err
	}

	store := overlay.NewStore(logger, m)
	hub := overlay.NewHub(store, guard, logger, m)
	defer hub.Close()

	deps := server.Deps{
		Guard:     guard,
		Store:     store,
		Hub:       hub,
		Analytics: analytics.NewService(logger),
		Metrics:   m,
	}
	if cfg.Metrics.Enabled {
		deps.Gatherer = reg
	}

	var gw *gateway.Client
	if cfg.IsDevelopment() {
		logger.Info("development environment, gateway connection disabled")
	} else {
		forwarder := interaction.NewForwarder(interaction.Config{
			OriginURL:      cfg.Server.OriginURL,
			Token:          cfg.Discord.Token,
			SuppressWindow: cfg.Interactions.SuppressWindow,
			Timeout:        cfg.Interactions.Timeout,
		}, rest, logger, m)
		defer forwarder.Close()

		gw = gateway.New(cfg.GatewayClientConfig(),
			gateway.WithLogger(logger),
			gateway.WithNotifier(notifier),
			gateway.WithInteractionHandler(forwarder),
			gateway.WithMetrics(m),
		)
		deps.Gateway = gw
	}

	srv := server.New(server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.Port),
		RateLimitWindow: cfg.Server.RateLimitWindow,
		RateLimitMax:    cfg.Server.RateLimitMax,
		Production:      cfg.IsProduction(),
		MetricsPath:     cfg.Metrics.Path,
		OpenTimeout:     cfg.Gateway.HelloTimeout + cfg.Gateway.ReadyTimeout,
	}, deps, logger)
	httpServer := srv.HTTPServer()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return srv.RunPruner(gctx, pruneInterval)
	})

	if gw != nil {
		g.Go(func() error {
			if err := gw.Open(gctx); err != nil && gctx.Err() == nil {
				// The client keeps recovering after a failed first attempt
				logger.Warn("initial gateway connection failed", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", "error", err)
		}
		if gw != nil {
			gw.Cleanup()
		}
		return nil
	})

	notifier.ServerEvent(ctx, "Server Started", "Draft league bot is running", map[string]string{
		"Version":     version.Version,
		"Environment": cfg.Server.Environment,
		"Port":        fmt.Sprint(cfg.Server.Port),
	})

	err = g.Wait()

	notifyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err != nil {
		notifier.Error(notifyCtx, err, "server")
	}
	notifier.ServerEvent(notifyCtx, "Server Stopped", "Draft league bot shut down", nil)

	return err
}
