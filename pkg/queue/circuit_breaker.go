package queue

import (
	"sync"
	"time"

	"github.com/taskgrid/corepool/internal/clock"
)

// CircuitBreaker (C8) gates dequeues, not enqueues: producers keep
// buffering while the breaker is open or while backpressure is active.
// Per §4.8 the model is the simple two-state machine from
// distributed_queue_manager.py — CLOSED, failures accumulate until
// FailureThreshold trips it OPEN, and after RecoveryTimeout the next
// CanProceed call closes it again and resets the counter. There is no
// half-open probing state; that refinement belongs to the richer
// resilience breaker the ag-ui SDK uses for its own HTTP clients, which
// this queue-admission gate does not need.
type CircuitBreaker struct {
	mu               sync.Mutex
	clk              clock.Clock
	failureThreshold int
	recoveryTimeout  time.Duration
	failureCount     int
	lastFailureAt    time.Time
	open             bool
}

func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration, clk clock.Clock) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &CircuitBreaker{
		clk:              clk,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount = 0
	c.open = false
}

func (c *CircuitBreaker) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	c.lastFailureAt = c.clk.Now()
	if c.failureCount >= c.failureThreshold {
		c.open = true
	}
}

// CanProceed performs the transition check: if open and the recovery
// timeout has elapsed, it closes the breaker and resets the failure count
// before returning true.
func (c *CircuitBreaker) CanProceed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return true
	}
	if !c.lastFailureAt.IsZero() && c.clk.Now().Sub(c.lastFailureAt) > c.recoveryTimeout {
		c.open = false
		c.failureCount = 0
		return true
	}
	return false
}

func (c *CircuitBreaker) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
