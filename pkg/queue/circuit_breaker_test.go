package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taskgrid/corepool/internal/clock"
)

func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cb := NewCircuitBreaker(3, 50*time.Millisecond, clk)
	assert.True(t, cb.CanProceed())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.False(t, cb.IsOpen())
	cb.RecordFailure()
	assert.True(t, cb.IsOpen())
	assert.False(t, cb.CanProceed())

	clk.Advance(60 * time.Millisecond)
	assert.True(t, cb.CanProceed())
	assert.False(t, cb.IsOpen())
}

func TestCircuitBreakerSuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Minute, clock.NewFake(time.Now()))
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.False(t, cb.IsOpen(), "success should have reset the failure count")
}

func TestBackpressureEdgeDetection(t *testing.T) {
	b := NewBackpressureController(0.8)
	assert.False(t, b.CheckPressure(7, 10))
	assert.True(t, b.CheckPressure(8, 10))
	assert.Equal(t, int64(1), b.ActivationCount())
	assert.True(t, b.CheckPressure(9, 10))
	assert.Equal(t, int64(1), b.ActivationCount(), "no double-count while staying active")
	assert.False(t, b.CheckPressure(5, 10))
	assert.True(t, b.CheckPressure(8, 10))
	assert.Equal(t, int64(2), b.ActivationCount())
}
