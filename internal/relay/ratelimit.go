package relay

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TryAdmit reports whether one more connection fits under ceiling. A
// ceiling of zero or less disables the check.
func TryAdmit(current, ceiling int) bool {
	return ceiling <= 0 || current < ceiling
}

// Decision is the outcome of a rate check. Notify is set on the first denial
// of a window only, so the peer receives one error message per window.
type Decision struct {
	Allowed bool
	Notify  bool
}

type messageWindow struct {
	count    int
	resetAt  time.Time
	notified bool
}

// RateLimiter is a per-peer fixed window message counter.
type RateLimiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	window  time.Duration
	limit   int
	windows map[string]*messageWindow
}

func NewRateLimiter(clk clock.Clock, window time.Duration, limit int) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{
		clock:   clk,
		window:  window,
		limit:   limit,
		windows: make(map[string]*messageWindow),
	}
}

// Check counts one message from id. Once the count passes the limit every
// further message in the same window is denied; the counter keeps growing
// until the window elapses.
func (l *RateLimiter) Check(id string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	w, ok := l.windows[id]
	if !ok || !now.Before(w.resetAt) {
		w = &messageWindow{count: 1, resetAt: now.Add(l.window)}
		l.windows[id] = w
		if l.limit < 1 {
			w.notified = true
			return Decision{Allowed: false, Notify: true}
		}
		return Decision{Allowed: true}
	}

	w.count++
	if w.count <= l.limit {
		return Decision{Allowed: true}
	}

	notify := !w.notified
	w.notified = true
	return Decision{Allowed: false, Notify: notify}
}

// Forget drops the counter for id.
func (l *RateLimiter) Forget(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, id)
}

func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
