package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskgrid/corepool/internal/clock"
	"github.com/taskgrid/corepool/pkg/corerrors"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WorkerTimeout = 200 * time.Millisecond
	cfg.Clock = clock.NewFake(time.Now())
	p := New(cfg)
	p.InitializeWarmPool()
	return p
}

func TestSubmitSyncReturnsResult(t *testing.T) {
	p := newTestPool(t)
	result, err := p.SubmitSync(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestSubmitSyncPropagatesError(t *testing.T) {
	p := newTestPool(t)
	wantErr := errors.New("boom")
	_, err := p.SubmitSync(context.Background(), func(ctx context.Context) (any, error) {
		return nil, wantErr
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestSubmitSyncTimesOut(t *testing.T) {
	p := newTestPool(t)
	_, err := p.SubmitSync(context.Background(), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.Error(t, err)
	assert.Equal(t, corerrors.CodeTimeout, corerrors.CodeOf(err))
}

func TestSubmitWithTimeoutOverride(t *testing.T) {
	p := newTestPool(t)
	start := time.Now()
	_, err := p.Submit(context.Background(), 20*time.Millisecond, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	elapsed := time.Since(start)
	require.Error(t, err)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestSubmitBatchRunsConcurrentlyAndPreservesOrder(t *testing.T) {
	p := newTestPool(t)
	fns := []Func{
		func(ctx context.Context) (any, error) { return 1, nil },
		func(ctx context.Context) (any, error) { return 2, nil },
		func(ctx context.Context) (any, error) { return nil, errors.New("third failed") },
	}
	results := p.SubmitBatch(context.Background(), fns)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Value)
	assert.Equal(t, 2, results[1].Value)
	assert.Error(t, results[2].Err)
}

func TestSubmitAsyncDeliversOnChannel(t *testing.T) {
	p := newTestPool(t)
	ch := p.SubmitAsync(context.Background(), func(ctx context.Context) (any, error) {
		return "done", nil
	})
	res := <-ch
	require.NoError(t, res.Err)
	assert.Equal(t, "done", res.Value)
}

func TestSlotRecyclesAfterMaxTasks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWorkers = 1
	cfg.WarmPoolSize = 1
	cfg.MaxTasksPerWorker = 2
	cfg.Clock = clock.NewFake(time.Now())
	p := New(cfg)
	p.InitializeWarmPool()

	for i := 0; i < 5; i++ {
		_, err := p.SubmitSync(context.Background(), func(ctx context.Context) (any, error) {
			return nil, nil
		})
		require.NoError(t, err)
	}

	assert.Len(t, p.slots, 1, "max workers 1 should never grow beyond one slot")
}

func TestMetricsAccounting(t *testing.T) {
	p := newTestPool(t)
	_, _ = p.SubmitSync(context.Background(), func(ctx context.Context) (any, error) { return nil, nil })
	_, _ = p.SubmitSync(context.Background(), func(ctx context.Context) (any, error) { return nil, errors.New("x") })

	m := p.GetMetrics()
	assert.Equal(t, int64(2), m.TotalTasks)
	assert.Equal(t, int64(1), m.SuccessfulTasks)
	assert.Equal(t, int64(1), m.FailedTasks)
}

func TestNamedMutexIsSharedAcrossCalls(t *testing.T) {
	p := newTestPool(t)
	m1 := p.NamedMutex("locks.a")
	m2 := p.NamedMutex("locks.a")
	assert.Same(t, m1, m2)
}

func TestNamedCounterPersistsAcrossCalls(t *testing.T) {
	p := newTestPool(t)
	c := p.NamedCounter("counters.x")
	atomic.AddInt64(c, 5)
	c2 := p.NamedCounter("counters.x")
	assert.Equal(t, int64(5), atomic.LoadInt64(c2))
}

func TestHealthMonitorPopulatesStatus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HealthCheckInterval = 5 * time.Millisecond
	cfg.Clock = clock.NewFake(time.Now())
	p := New(cfg)
	p.InitializeWarmPool()
	_, _ = p.SubmitSync(context.Background(), func(ctx context.Context) (any, error) { return nil, nil })

	p.StartHealthMonitor()
	defer p.StopHealthMonitor()
	time.Sleep(30 * time.Millisecond)

	health := p.GetWorkerHealth()
	require.NotEmpty(t, health)
	for _, h := range health {
		assert.Equal(t, StatusHealthy, h.Status)
	}
}
