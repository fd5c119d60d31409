// gatewaytest connects to the Discord gateway and logs every lifecycle event
// until interrupted. It does not start the HTTP API or forward interactions.
// Usage: go run ./cmd/gatewaytest --config configs/server.yaml
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jsonfox/draft-league-bot/internal/config"
	"github.com/jsonfox/draft-league-bot/internal/gateway"
)

func main() {
	configPath := flag.String("config", "configs/server.example.yaml", "path to config file")
	statsInterval := flag.Duration("stats", 30*time.Second, "health log interval")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Discord.Token == "" {
		logger.Error("discord.token is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := gateway.New(cfg.GatewayClientConfig(), gateway.WithLogger(logger))
	defer client.Cleanup()

	client.Subscribe(gateway.EventHello, func(ev gateway.Event) {
		logger.Info("hello", "heartbeat_interval", ev.(gateway.HelloEvent).HeartbeatInterval)
	})
	client.Subscribe(gateway.EventReady, func(ev gateway.Event) {
		data := ev.(gateway.ReadyEvent).Data
		logger.Info("ready",
			"user", data.User.Username,
			"session_id", data.SessionID,
			"guilds", len(data.Guilds),
		)
	})
	client.Subscribe(gateway.EventResumed, func(ev gateway.Event) {
		logger.Info("resumed", "replayed", ev.(gateway.ResumedEvent).Replayed)
	})
	client.Subscribe(gateway.EventHeartbeatComplete, func(ev gateway.Event) {
		logger.Debug("heartbeat acknowledged", "latency", ev.(gateway.HeartbeatCompleteEvent).Latency)
	})
	client.Subscribe(gateway.EventError, func(ev gateway.Event) {
		logger.Warn("gateway error", "error", ev.(gateway.ErrorEvent).Err)
	})
	client.Subscribe(gateway.EventClosed, func(ev gateway.Event) {
		logger.Info("closed", "code", ev.(gateway.ClosedEvent).Code)
	})

	logger.Info("connecting", "url", cfg.Discord.GatewayURL)
	if err := client.Open(ctx); err != nil {
		logger.Error("initial connection failed", "error", err)
	}

	ticker := time.NewTicker(*statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down...")
			return
		case <-ticker.C:
			h := client.Health()
			logger.Info("health",
				"status", h.Status,
				"connected", h.Connected,
				"uptime", h.Uptime.Round(time.Second),
				"since_last_ack", h.TimeSinceLastAck.Round(time.Millisecond),
				"missed_acks", h.ConsecutiveMissedAcks,
				"total_reconnects", h.TotalReconnects,
				"sent_in_window", h.SentInWindow,
			)
		}
	}
}
