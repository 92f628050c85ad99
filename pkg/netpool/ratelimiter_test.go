package netpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taskgrid/corepool/internal/clock"
)

func TestRateLimiterExactBoundary(t *testing.T) {
	fake := clock.NewFake(time.Now())
	rl := NewRateLimiter(3, fake)

	assert.True(t, rl.Acquire())
	assert.True(t, rl.Acquire())
	assert.True(t, rl.Acquire())
	assert.False(t, rl.Acquire(), "fourth request within the window must be denied")
	assert.Equal(t, 0, rl.Remaining())
}

func TestRateLimiterEvictsExpiredEntries(t *testing.T) {
	fake := clock.NewFake(time.Now())
	rl := NewRateLimiter(1, fake)

	assert.True(t, rl.Acquire())
	assert.False(t, rl.Acquire())

	fake.Advance(61 * time.Minute)
	assert.True(t, rl.Acquire(), "entry older than 1h should have been evicted")
}

func TestRateLimiterResetTime(t *testing.T) {
	fake := clock.NewFake(time.Now())
	rl := NewRateLimiter(5, fake)
	rl.Acquire()
	assert.Equal(t, fake.Now().Add(time.Hour), rl.ResetTime())
}
