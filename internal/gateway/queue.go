package gateway

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// priorityOps bypass the send slot and the rate budget.
var priorityOps = map[Opcode]bool{
	OpHeartbeat: true,
	OpIdentify:  true,
	OpResume:    true,
}

// send writes a frame through the rate-limited queue. Frames wait for the
// session to be ready, and a frame throttled when its connection closes is
// retried on the next one.
func (c *Client) send(ctx context.Context, op Opcode, data any) error {
	if priorityOps[op] {
		return c.write(0, op, data)
	}

	requeued := false
	for {
		if err := c.waitReady(ctx, !requeued); err != nil {
			return fmt.Errorf("wait for ready: %w", err)
		}

		if err := c.slot.Acquire(ctx, 1); err != nil {
			return err
		}
		sent, err := c.sendLimited(ctx, op, data)
		c.slot.Release(1)

		if sent || err != nil {
			return err
		}
		requeued = true
		c.logger.Debug("connection closed while throttled, requeueing", "op", op)
	}
}

// liveAttempt returns the current attempt when the client is ready on it.
func (c *Client) liveAttempt() (context.Context, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ok := c.status == StatusReady && c.conn != nil && c.attemptCtx.Err() == nil
	return c.attemptCtx, c.gen, ok
}

// waitReady blocks until the client is ready. With abortOnClose a close
// while waiting fails the wait; otherwise only ctx bounds it.
func (c *Client) waitReady(ctx context.Context, abortOnClose bool) error {
	w := c.events.waiter(abortOnClose, EventReady, EventResumed)

	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		w.stop()
		return ErrClientShutdown
	}

	if _, _, ok := c.liveAttempt(); ok {
		w.stop()
		return nil
	}
	_, err := w.wait(ctx, 0)
	return err
}

// sendLimited applies the rate budget and writes the frame. It returns
// false without error when the connection it was bound to ended.
func (c *Client) sendLimited(ctx context.Context, op Opcode, data any) (bool, error) {
	attempt, gen, ok := c.liveAttempt()
	if !ok {
		return false, nil
	}

	for {
		wait := c.limiter.reserve(time.Now())
		if wait == 0 {
			break
		}
		if c.cfg.SendJitter > 0 {
			wait += time.Duration(rand.Int64N(int64(c.cfg.SendJitter)))
		}
		c.metrics.RateLimitWait()
		c.logger.Debug("send budget exhausted, waiting", "op", op, "wait", wait)

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-attempt.Done():
			t.Stop()
			return false, nil
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		}
	}

	if attempt.Err() != nil {
		return false, nil
	}
	return true, c.write(gen, op, data)
}

// write puts a frame on the current socket. gen 0 accepts any socket.
// Without a matching socket the frame is dropped.
func (c *Client) write(gen uint64, op Opcode, data any) error {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()

	if cn == nil || (gen != 0 && cn.gen != gen) {
		c.logger.Warn("dropping frame, no socket", "op", op)
		return ErrNotConnected
	}

	if err := cn.writeJSON(outboundFrame{Op: op, Data: data}); err != nil {
		c.logger.Warn("failed to write frame", "op", op, "error", err)
		return fmt.Errorf("write %s: %w", op, err)
	}

	c.metrics.FrameSent(op.String())
	return nil
}
