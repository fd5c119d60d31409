package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/jsonfox/draft-league-bot/internal/audit"
)

// healthState is mutated by the connection and the health monitor.
type healthState struct {
	lastHeartbeatSent time.Time
	lastHeartbeatAck  time.Time
	missedAcks        int
	connectedSince    time.Time
	totalReconnects   int
	lastError         string
}

// Health is a read-only snapshot of connection health.
type Health struct {
	Status                 Status        `json:"status"`
	Connected              bool          `json:"connected"`
	Uptime                 time.Duration `json:"uptime"`
	ConnectedSince         time.Time     `json:"connected_since"`
	LastHeartbeatAt        time.Time     `json:"last_heartbeat_at"`
	LastHeartbeatAckAt     time.Time     `json:"last_heartbeat_ack_at"`
	TimeSinceLastHeartbeat time.Duration `json:"time_since_last_heartbeat"`
	TimeSinceLastAck       time.Duration `json:"time_since_last_ack"`
	ConsecutiveMissedAcks  int           `json:"consecutive_missed_acks"`
	ReconnectAttempts      int           `json:"reconnect_attempts"`
	TotalReconnects        int           `json:"total_reconnects"`
	LastError              string        `json:"last_error,omitempty"`
	SentInWindow           int           `json:"sent_in_window"`
}

// Health returns a snapshot of the connection health. Durations since an
// event that never happened are zero.
func (c *Client) Health() Health {
	now := time.Now()
	_, sent := c.limiter.state()

	c.mu.Lock()
	defer c.mu.Unlock()

	h := Health{
		Status:                c.status,
		Connected:             c.status == StatusReady && c.conn != nil,
		ConnectedSince:        c.health.connectedSince,
		LastHeartbeatAt:       c.health.lastHeartbeatSent,
		LastHeartbeatAckAt:    c.health.lastHeartbeatAck,
		ConsecutiveMissedAcks: c.health.missedAcks,
		ReconnectAttempts:     c.reconnectAttempts,
		TotalReconnects:       c.health.totalReconnects,
		LastError:             c.health.lastError,
		SentInWindow:          sent,
	}
	if !h.ConnectedSince.IsZero() {
		h.Uptime = now.Sub(h.ConnectedSince)
	}
	if !h.LastHeartbeatAt.IsZero() {
		h.TimeSinceLastHeartbeat = now.Sub(h.LastHeartbeatAt)
	}
	if !h.LastHeartbeatAckAt.IsZero() {
		h.TimeSinceLastAck = now.Sub(h.LastHeartbeatAckAt)
	}
	return h
}

// monitorHealth checks the connection every HealthInterval until the attempt
// ends.
func (c *Client) monitorHealth(ctx context.Context, gen uint64) {
	if c.cfg.HealthInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if c.checkHealth(gen, now) {
				return
			}
		}
	}
}

// checkHealth closes the connection for resume when no ack arrived within
// AckStaleThreshold while ready, or too many acks were missed. It reports
// whether it tripped.
func (c *Client) checkHealth(gen uint64, now time.Time) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	status := c.status
	lastAck := c.health.lastHeartbeatAck
	if lastAck.IsZero() {
		lastAck = c.health.connectedSince
	}
	missed := c.health.missedAcks
	c.mu.Unlock()

	var reason string
	switch {
	case status == StatusReady && !lastAck.IsZero() && now.Sub(lastAck) > c.cfg.AckStaleThreshold:
		reason = fmt.Sprintf("no heartbeat acknowledgment for %s", now.Sub(lastAck).Round(time.Second))
	case missed >= c.cfg.HealthMaxMissedAcks:
		reason = fmt.Sprintf("%d consecutive heartbeats without acknowledgment", missed)
	default:
		return false
	}

	c.logger.Warn("health check failed", "reason", reason)
	c.notify(audit.LevelWarn, "Gateway health check failed", reason)
	c.recover(gen, CloseOptions{Reason: "health check failed", Recover: RecoverResume})
	return true
}
