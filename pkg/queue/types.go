// Package queue implements the priority queue core (C6), backpressure
// controller (C7), circuit breaker (C8), dead-letter queue (C9), and the
// Queue Manager (C10) that composes them — the only public queue surface
// producers and workers talk to.
package queue

import (
	"fmt"
	"time"
)

// Priority is one of the four fixed queue-item priority levels. Any other
// value fails validation at Enqueue time.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 10
	PriorityCritical Priority = 20
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
}

// Item is a unit of work flowing through the core. Data is an opaque
// payload: the core never interprets it, only transports it to the
// worker-supplied user function.
type Item struct {
	ID         string
	Data       interface{}
	Priority   Priority
	CreatedAt  time.Time
	RetryCount int
	MaxRetries int
	TTLSeconds *float64 // unset = no expiry
	Partition  *int

	sequence int64 // assigned under the manager's lock at admission time
}

// Expired reports whether the item's TTL (if any) has elapsed as of now.
func (it *Item) Expired(now time.Time) bool {
	if it.TTLSeconds == nil {
		return false
	}
	elapsed := now.Sub(it.CreatedAt).Seconds()
	return elapsed > *it.TTLSeconds
}

// Validate checks the invariants from the data model: non-empty id and a
// recognized priority.
func (it *Item) Validate() error {
	if it.ID == "" {
		return fmt.Errorf("item id must not be empty")
	}
	if !it.Priority.Valid() {
		return fmt.Errorf("invalid priority %d", int(it.Priority))
	}
	if it.RetryCount < 0 || it.RetryCount > it.MaxRetries {
		return fmt.Errorf("retry_count %d out of range [0,%d]", it.RetryCount, it.MaxRetries)
	}
	return nil
}

// DeadLetterItem is an immutable record of an item that permanently
// failed — exhausted retries, or was explicitly banished via
// MoveToDeadLetter.
type DeadLetterItem struct {
	Item          Item
	FailureReason string
	FailedAt      time.Time
}

// Metrics is a read-only snapshot of queue counters and gauges.
type Metrics struct {
	QueueSize           int
	TotalEnqueued       int64
	TotalDequeued       int64
	DeadLetterCount     int64
	AvgWaitTime         time.Duration
	BackpressureEvents  int64
	ExpiredItems        int64
	CircuitBreakerOpen  bool
	BackpressureActive  bool
}

// RetryStrategy computes backoff delay for a given retry attempt (1-based):
// delay(n) = min(initialDelay * backoffFactor^(n-1), maxDelay).
type RetryStrategy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	BackoffFactor  float64
	MaxDelay       time.Duration
}

func DefaultRetryStrategy() RetryStrategy {
	return RetryStrategy{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      60 * time.Second,
	}
}

// Delay returns the backoff delay for the given 1-based attempt number.
func (r RetryStrategy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(r.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= r.BackoffFactor
	}
	max := float64(r.MaxDelay)
	if d > max {
		d = max
	}
	return time.Duration(d)
}

// Alert is a threshold-triggered notification recomputed on every
// admission/removal; consumers are expected to debounce, as the core does
// not deduplicate across evaluations.
type Alert struct {
	Type      string
	Message   string
	Timestamp time.Time
}
