package concurrency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskgrid/corepool/internal/clock"
)

func newTestController(t *testing.T, strategy Strategy) (*Controller, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Now())
	cfg := DefaultConfig()
	cfg.MinWorkers = 2
	cfg.MaxWorkers = 10
	cfg.Strategy = strategy
	cfg.CooldownPeriod = 30 * time.Second
	cfg.Clock = fake
	return New(cfg), fake
}

func TestScaleUpAggressiveIncrementsByTwo(t *testing.T) {
	c, _ := newTestController(t, StrategyAggressive)
	decision := c.ShouldScaleUp(Metrics{CPUPercent: 95})
	require.True(t, decision.ShouldScale)
	assert.Equal(t, 4, decision.NewWorkerCount)
}

func TestScaleUpConservativeIncrementsByOne(t *testing.T) {
	c, _ := newTestController(t, StrategyConservative)
	decision := c.ShouldScaleUp(Metrics{CPUPercent: 95, MemoryPercent: 99, QueueSize: 1000})
	require.True(t, decision.ShouldScale)
	assert.Equal(t, 3, decision.NewWorkerCount)
}

func TestScaleUpBalancedSingleTriggerIncrementsByOne(t *testing.T) {
	c, _ := newTestController(t, StrategyBalanced)
	decision := c.ShouldScaleUp(Metrics{CPUPercent: 95})
	require.True(t, decision.ShouldScale)
	assert.Equal(t, 3, decision.NewWorkerCount)
}

func TestScaleUpBalancedMultiTriggerIncrementsByTwo(t *testing.T) {
	c, _ := newTestController(t, StrategyBalanced)
	decision := c.ShouldScaleUp(Metrics{CPUPercent: 95, MemoryPercent: 90})
	require.True(t, decision.ShouldScale)
	assert.Equal(t, 4, decision.NewWorkerCount)
}

func TestScaleUpRespectsMax(t *testing.T) {
	c, _ := newTestController(t, StrategyAggressive)
	for i := 0; i < 10; i++ {
		c.Apply(Decision{ShouldScale: true, Direction: DirectionUp, NewWorkerCount: c.CurrentWorkers() + 2}, Metrics{})
	}
	decision := c.ShouldScaleUp(Metrics{CPUPercent: 95})
	assert.False(t, decision.ShouldScale)
	assert.Equal(t, "already at max workers", decision.Reason)
}

func TestScaleUpRespectsCooldown(t *testing.T) {
	c, fake := newTestController(t, StrategyBalanced)
	first := c.ShouldScaleUp(Metrics{CPUPercent: 95})
	require.True(t, c.Apply(first, Metrics{CPUPercent: 95}))

	second := c.ShouldScaleUp(Metrics{CPUPercent: 95})
	assert.False(t, second.ShouldScale)
	assert.Equal(t, "in cooldown period", second.Reason)

	fake.Advance(31 * time.Second)
	third := c.ShouldScaleUp(Metrics{CPUPercent: 95})
	assert.True(t, third.ShouldScale)
}

func TestScaleDownRequiresAllThreeConditions(t *testing.T) {
	c, fake := newTestController(t, StrategyBalanced)
	c.Apply(Decision{ShouldScale: true, NewWorkerCount: 5}, Metrics{})
	fake.Advance(31 * time.Second)

	partial := c.ShouldScaleDown(Metrics{CPUPercent: 10, MemoryPercent: 90, QueueSize: 1})
	assert.False(t, partial.ShouldScale, "memory still high should block scale down")

	full := c.ShouldScaleDown(Metrics{CPUPercent: 10, MemoryPercent: 10, QueueSize: 1})
	assert.True(t, full.ShouldScale)
	assert.Equal(t, 4, full.NewWorkerCount)
}

func TestScaleDownRespectsMin(t *testing.T) {
	c, _ := newTestController(t, StrategyBalanced)
	decision := c.ShouldScaleDown(Metrics{CPUPercent: 1, MemoryPercent: 1, QueueSize: 0})
	assert.False(t, decision.ShouldScale)
	assert.Equal(t, "already at min workers", decision.Reason)
}

func TestApplyIsNonBlockingUnderContention(t *testing.T) {
	c, _ := newTestController(t, StrategyBalanced)
	c.scalingLock.Lock()
	applied := c.Apply(Decision{ShouldScale: true, NewWorkerCount: 5}, Metrics{})
	c.scalingLock.Unlock()
	assert.False(t, applied, "Apply must not block when another scaling op holds the lock")
}

func TestHistoryOrderedNewestFirst(t *testing.T) {
	c, fake := newTestController(t, StrategyBalanced)
	c.Apply(Decision{ShouldScale: true, Direction: DirectionUp, NewWorkerCount: 3, Reason: "first"}, Metrics{})
	fake.Advance(31 * time.Second)
	c.Apply(Decision{ShouldScale: true, Direction: DirectionUp, NewWorkerCount: 4, Reason: "second"}, Metrics{})

	hist := c.History(10)
	require.Len(t, hist, 2)
	assert.Equal(t, "second", hist[0].Reason)
	assert.Equal(t, "first", hist[1].Reason)
}

func TestPredictorFallsBackToHeuristicBelowMinObservations(t *testing.T) {
	p := NewPredictor()
	got := p.PredictOptimalWorkers(Metrics{CPUPercent: 90, ActiveWorkers: 3}, 1, 10)
	assert.Equal(t, 5, got)

	got = p.PredictOptimalWorkers(Metrics{CPUPercent: 20, ActiveWorkers: 3}, 1, 10)
	assert.Equal(t, 2, got)
}

func TestPredictorAveragesSimilarSituations(t *testing.T) {
	p := NewPredictor()
	for i := 0; i < 12; i++ {
		p.AddObservation(Metrics{CPUPercent: 50, MemoryPercent: 50, ActiveWorkers: 4}, DirectionStable)
	}
	got := p.PredictOptimalWorkers(Metrics{CPUPercent: 51, MemoryPercent: 49, ActiveWorkers: 4}, 1, 10)
	assert.Equal(t, 4, got)
}
