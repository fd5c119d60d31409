package gateway

import (
	"context"
	"math/rand/v2"
	"time"
)

// heartbeatLoop sends the first heartbeat after a random fraction of the
// interval, then one per interval until the attempt ends.
func (c *Client) heartbeatLoop(ctx context.Context, gen uint64, interval time.Duration) {
	jitter := time.Duration(rand.Float64() * float64(interval))
	if !sleepCtx(ctx, jitter) {
		return
	}
	c.heartbeat(gen, false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.heartbeat(gen, false)
		}
	}
}

// heartbeat sends one heartbeat. Unless requested by the gateway, an
// unacknowledged previous heartbeat counts as a miss; at MaxMissedAcks the
// connection is treated as a zombie and closed for resume instead.
func (c *Client) heartbeat(gen uint64, requested bool) {
	c.mu.Lock()
	if gen != c.gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	if !c.heartbeatAcked && !requested {
		c.health.missedAcks++
		missed := c.health.missedAcks
		if missed >= c.cfg.MaxMissedAcks {
			c.mu.Unlock()
			c.logger.Warn("zombie connection, heartbeats not acknowledged", "missed", missed)
			c.recover(gen, CloseOptions{Reason: "zombie connection", Recover: RecoverResume})
			return
		}
		c.logger.Warn("previous heartbeat not acknowledged", "missed", missed)
	}
	var seq any
	if c.session.Sequence > 0 {
		seq = c.session.Sequence
	}
	c.heartbeatAcked = false
	c.health.lastHeartbeatSent = time.Now()
	c.mu.Unlock()

	c.write(gen, OpHeartbeat, seq)
}

func (c *Client) handleHeartbeatAck(gen uint64) {
	now := time.Now()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.heartbeatAcked = true
	c.health.missedAcks = 0
	c.health.lastHeartbeatAck = now
	sent := c.health.lastHeartbeatSent
	c.mu.Unlock()

	var latency time.Duration
	if !sent.IsZero() {
		latency = now.Sub(sent)
	}
	c.metrics.HeartbeatLatency(latency)
	c.events.emit(HeartbeatCompleteEvent{AckAt: now, HeartbeatAt: sent, Latency: latency})
}
