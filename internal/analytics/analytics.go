// Package analytics reports process and gateway health for the HTTP API.
package analytics

import (
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/jsonfox/draft-league-bot/internal/gateway"
)

// Health thresholds.
const (
	MaxHealthyMemory  = 500 * 1024 * 1024
	MaxHealthyLatency = 10 * time.Second
	latencyWindow     = 60 * time.Second
)

// GatewaySource provides connection health. *gateway.Client implements it.
type GatewaySource interface {
	Health() gateway.Health
}

// Memory is the process memory usage in bytes.
type Memory struct {
	RSS       uint64 `json:"rss"`
	HeapAlloc uint64 `json:"heap_alloc"`
	HeapSys   uint64 `json:"heap_sys"`
}

// Server describes the process.
type Server struct {
	UptimeMs   int64   `json:"uptime_ms"`
	Status     string  `json:"status"`
	Memory     Memory  `json:"memory"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
	Timestamp  int64   `json:"timestamp"`
}

// Gateway describes the gateway connection.
type Gateway struct {
	Connected       bool   `json:"connected"`
	Status          string `json:"status"`
	UptimeMs        int64  `json:"uptime_ms"`
	LatencyMs       *int64 `json:"latency_ms"` // nil when no recent ack
	TotalReconnects int    `json:"total_reconnects"`
	Timestamp       int64  `json:"timestamp"`
}

// Combined is the full analytics document.
type Combined struct {
	Server  Server  `json:"server"`
	Gateway Gateway `json:"gateway"`
	Healthy bool    `json:"healthy"`
}

// PublicStatus is the unauthenticated summary.
type PublicStatus struct {
	Status   string `json:"status"` // online or offline
	UptimeMs int64  `json:"uptime_ms"`
	Healthy  bool   `json:"healthy"`
}

// Service samples process statistics.
type Service struct {
	started time.Time
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	proc *process.Process
}

// NewService creates a Service measuring from now.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		started: time.Now(),
		logger:  logger.With("component", "analytics"),
		now:     time.Now,
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.logger.Warn("process statistics unavailable", "error", err)
	} else {
		s.proc = proc
	}
	return s
}

// Server samples the process. CPU percent covers the time since the
// previous sample and is zero on the first.
func (s *Service) Server() Server {
	now := s.now()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	out := Server{
		UptimeMs:   now.Sub(s.started).Milliseconds(),
		Status:     "running",
		Memory:     Memory{HeapAlloc: ms.HeapAlloc, HeapSys: ms.HeapSys},
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  now.UnixMilli(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		out.Memory.RSS = ms.Sys
		return out
	}
	if info, err := s.proc.MemoryInfo(); err == nil {
		out.Memory.RSS = info.RSS
	} else {
		s.logger.Debug("failed to read memory info", "error", err)
		out.Memory.RSS = ms.Sys
	}
	if pct, err := s.proc.Percent(0); err == nil {
		out.CPUPercent = pct
	}
	return out
}

// Gateway summarizes src. A nil src reports a disconnected gateway.
func (s *Service) Gateway(src GatewaySource) Gateway {
	now := s.now()
	if src == nil {
		return Gateway{Status: "disconnected", Timestamp: now.UnixMilli()}
	}
	return gatewayFrom(src.Health(), now)
}

func gatewayFrom(h gateway.Health, now time.Time) Gateway {
	g := Gateway{
		Connected:       h.Connected,
		Status:          h.Status.String(),
		UptimeMs:        h.Uptime.Milliseconds(),
		TotalReconnects: h.TotalReconnects,
		Timestamp:       now.UnixMilli(),
	}
	if !h.LastHeartbeatAckAt.IsZero() && h.TimeSinceLastAck < latencyWindow {
		ms := h.TimeSinceLastAck.Milliseconds()
		g.LatencyMs = &ms
	}
	return g
}

// Combined samples both and decides overall health.
func (s *Service) Combined(src GatewaySource) Combined {
	server := s.Server()
	gw := s.Gateway(src)
	return Combined{
		Server:  server,
		Gateway: gw,
		Healthy: healthy(server, gw),
	}
}

// Public returns the unauthenticated status.
func (s *Service) Public(src GatewaySource) PublicStatus {
	c := s.Combined(src)
	status := "offline"
	if c.Gateway.Connected {
		status = "online"
	}
	return PublicStatus{Status: status, UptimeMs: c.Server.UptimeMs, Healthy: c.Healthy}
}

func healthy(server Server, gw Gateway) bool {
	return server.Status == "running" &&
		gw.Connected &&
		server.Memory.RSS < MaxHealthyMemory &&
		(gw.LatencyMs == nil || time.Duration(*gw.LatencyMs)*time.Millisecond < MaxHealthyLatency)
}
