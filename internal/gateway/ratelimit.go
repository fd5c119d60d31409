package gateway

import (
	"sync"
	"time"
)

// windowLimiter enforces a fixed send budget per rolling window.
type windowLimiter struct {
	mu      sync.Mutex
	budget  int
	window  time.Duration
	resetAt time.Time
	sent    int
}

func newWindowLimiter(budget int, window time.Duration) *windowLimiter {
	return &windowLimiter{budget: budget, window: window}
}

// reset starts a fresh window at now.
func (l *windowLimiter) reset(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetAt = now.Add(l.window)
	l.sent = 0
}

// reserve counts one send and returns 0 when the budget allows it. Otherwise
// nothing is counted and the time until the window resets is returned.
func (l *windowLimiter) reserve(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !now.Before(l.resetAt) {
		l.resetAt = now.Add(l.window)
		l.sent = 0
	}
	if l.sent+1 > l.budget {
		return l.resetAt.Sub(now)
	}
	l.sent++
	return 0
}

// state returns the current window for diagnostics.
func (l *windowLimiter) state() (resetAt time.Time, sent int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resetAt, l.sent
}
