// Package worker implements the Worker Pool (C11): a warm pool of
// goroutine-backed worker slots with health checks, task-count based
// recycling, and synchronous/asynchronous/batch submission.
package worker

import (
	"context"
	"time"
)

// Status is the health classification of a worker slot.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusHealthy      Status = "healthy"
	StatusUnhealthy    Status = "unhealthy"
	StatusDead         Status = "dead"
)

// Health reports the condition of a single worker slot.
type Health struct {
	WorkerID        int
	Status          Status
	CPUPercent      float64
	MemoryMB        float64
	TaskCount       int64
	LastHealthCheck time.Time
}

// Metrics aggregates pool-wide task accounting.
type Metrics struct {
	TotalTasks      int64
	SuccessfulTasks int64
	FailedTasks     int64
	TimeoutTasks    int64
	RetryCount      int64
	AvgTaskDuration time.Duration
	ActiveWorkers   int
	WarmPoolSize    int
}

// Func is the unit of work a worker slot executes.
type Func func(ctx context.Context) (any, error)
