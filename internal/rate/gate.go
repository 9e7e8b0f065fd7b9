// Package rate provides a small interval gate used to throttle repeated
// user-facing notices.
package rate

import (
	"sync"
	"time"
)

// Gate allows at most one event per interval.
type Gate struct {
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func NewGate(interval time.Duration) *Gate {
	return &Gate{interval: interval}
}

// Allow reports whether an event may fire at now, consuming the slot when
// it does.
func (g *Gate) Allow(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	return true
}

// Reset clears the gate so the next Allow fires immediately.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = time.Time{}
}
