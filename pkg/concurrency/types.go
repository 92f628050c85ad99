// Package concurrency implements the Adaptive Concurrency Controller
// (C12): resource-driven worker count scaling with cooldown, pluggable
// strategies, and a lightweight nearest-neighbor predictor seeded from
// scaling history.
package concurrency

import "time"

// Strategy selects how aggressively the controller scales up.
type Strategy string

const (
	StrategyAggressive   Strategy = "aggressive"
	StrategyBalanced     Strategy = "balanced"
	StrategyConservative Strategy = "conservative"
)

// Direction is the outcome of a scaling decision.
type Direction string

const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionStable Direction = "stable"
)

// Metrics captures the inputs to a scaling decision.
type Metrics struct {
	CPUPercent        float64
	MemoryPercent     float64
	ActiveWorkers     int
	QueueSize         int
	AvgProcessingTime float64
}

// Decision is the result of evaluating scale-up/scale-down triggers.
type Decision struct {
	ShouldScale    bool
	Direction      Direction
	NewWorkerCount int
	Reason         string
}

// HistoryEntry records one applied scaling decision.
type HistoryEntry struct {
	Timestamp time.Time
	Direction Direction
	NewCount  int
	Reason    string
	Metrics   Metrics
}
