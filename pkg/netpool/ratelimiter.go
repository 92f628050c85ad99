// Package netpool implements the Connection Pool & Rate-Limiter
// subsystem (C1-C4): a sliding-window hourly rate limiter, a bounded
// reusable connection pool, and an optimizer composing retry/backoff,
// failover, response caching, deduplication, and bandwidth throttling
// on top of them.
package netpool

import (
	"sync"
	"time"

	"github.com/taskgrid/corepool/internal/clock"
)

// RateLimiter admits requests against a sliding one-hour window, per
// §4.9: no background thread, eviction happens inline on Acquire.
type RateLimiter struct {
	mu           sync.Mutex
	clk          clock.Clock
	limitPerHour int
	window       []time.Time
}

func NewRateLimiter(limitPerHour int, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &RateLimiter{clk: clk, limitPerHour: limitPerHour}
}

// Acquire evicts timestamps older than 1h from the window, then admits
// iff the window is still under the limit, recording now on success.
func (r *RateLimiter) Acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	r.evictLocked(now)

	if len(r.window) < r.limitPerHour {
		r.window = append(r.window, now)
		return true
	}
	return false
}

func (r *RateLimiter) evictLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(r.window) && r.window[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		r.window = r.window[i:]
	}
}

// Remaining reports the unused quota after evicting expired entries.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked(r.clk.Now())
	remaining := r.limitPerHour - len(r.window)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// ResetTime is the start of the current window plus one hour; with an
// empty window this is simply now + 1h.
func (r *RateLimiter) ResetTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clk.Now()
	r.evictLocked(now)
	if len(r.window) == 0 {
		return now.Add(time.Hour)
	}
	return r.window[0].Add(time.Hour)
}
