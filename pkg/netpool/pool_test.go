package netpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskgrid/corepool/internal/clock"
)

func TestPoolAcquireCreatesUntilMaxSize(t *testing.T) {
	p := NewPool(2, clock.NewFake(time.Now()))
	c1 := p.Acquire("svc")
	c2 := p.Acquire("svc")
	require.NotNil(t, c1)
	require.NotNil(t, c2)
	assert.Nil(t, p.Acquire("svc"), "pool exhausted should return nil")
}

func TestPoolReleaseMakesConnectionReusable(t *testing.T) {
	p := NewPool(1, clock.NewFake(time.Now()))
	c := p.Acquire("svc")
	require.NotNil(t, c)
	assert.Nil(t, p.Acquire("svc"))

	p.Release(c)
	reused := p.Acquire("svc")
	require.NotNil(t, reused)
	assert.Equal(t, c.ID, reused.ID)
}

func TestPoolResizeShrinkClosesIdleConnections(t *testing.T) {
	p := NewPool(3, clock.NewFake(time.Now()))
	a := p.Acquire("svc")
	b := p.Acquire("svc")
	p.Release(a)
	p.Release(b)

	p.Resize(1)
	health := p.CheckHealth()
	assert.Equal(t, 1, health.TotalConnections)
}

func TestPoolResizeGrow(t *testing.T) {
	p := NewPool(1, clock.NewFake(time.Now()))
	p.Acquire("svc")
	assert.Nil(t, p.Acquire("svc"))

	p.Resize(2)
	assert.NotNil(t, p.Acquire("svc"))
}
