package netpool

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

func newTestOptimizer(t *testing.T) *Optimizer {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Clock = clock.NewFake(time.Now())
	return New(cfg)
}

func okFn(ctx context.Context, url string) (any, error) {
	return "ok:" + url, nil
}

func TestRequestSucceeds(t *testing.T) {
	o := newTestOptimizer(t)
	v, err := o.Request(context.Background(), "http://a", okFn)
	require.NoError(t, err)
	assert.Equal(t, "ok:http://a", v)
	assert.Equal(t, int64(1), o.ExportMetrics().SuccessfulRequests)
}

func TestRequestRetriesThenSucceeds(t *testing.T) {
	o := newTestOptimizer(t)
	var calls int64
	fn := func(ctx context.Context, url string) (any, error) {
		n := atomic.AddInt64(&calls, 1)
		if n < 2 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}
	v, err := o.Request(context.Background(), "http://a", fn)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int64(1), o.ExportMetrics().RetryCount)
}

func TestRequestDeniedByRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimitPerHour = 1
	cfg.Clock = clock.NewFake(time.Now())
	o := New(cfg)

	_, err := o.Request(context.Background(), "http://a", okFn)
	require.NoError(t, err)

	_, err = o.Request(context.Background(), "http://a", okFn)
	require.Error(t, err)
	assert.Equal(t, corerrors.CodeRateLimitExceeded, corerrors.CodeOf(err))
}

func TestFailoverTriesEachEndpoint(t *testing.T) {
	o := newTestOptimizer(t)
	o.ConfigureFailover([]string{"http://down", "http://up"})

	fn := func(ctx context.Context, url string) (any, error) {
		if url == "http://down/p" {
			return nil, errors.New("down")
		}
		return "reached " + url, nil
	}

	v, err := o.RequestWithFailover(context.Background(), "/p", fn)
	require.NoError(t, err)
	assert.Equal(t, "reached http://up/p", v)
	assert.Equal(t, int64(1), o.ExportMetrics().FailoverCount)
}

func TestCachedRequestHitsCacheOnSecondCall(t *testing.T) {
	o := newTestOptimizer(t)
	var calls int64
	fn := func(ctx context.Context, url string) (any, error) {
		atomic.AddInt64(&calls, 1)
		return "value", nil
	}

	v1, err := o.CachedRequest(context.Background(), "http://cached", fn)
	require.NoError(t, err)
	v2, err := o.CachedRequest(context.Background(), "http://cached", fn)
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	m := o.ExportMetrics()
	assert.Equal(t, int64(1), m.CacheHits)
	assert.Equal(t, int64(1), m.CacheMisses)
}

func TestDeduplicatedRequestCollapsesConcurrentCallers(t *testing.T) {
	o := newTestOptimizer(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int64

	fn := func(ctx context.Context, url string) (any, error) {
		atomic.AddInt64(&calls, 1)
		close(started)
		<-release
		return "value", nil
	}

	done := make(chan any, 2)
	go func() {
		v, _ := o.DeduplicatedRequest(context.Background(), "http://dup", fn)
		done <- v
	}()
	<-started
	go func() {
		v, _ := o.DeduplicatedRequest(context.Background(), "http://dup", fn)
		done <- v
	}()

	close(release)
	<-done
	<-done

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestWarmConnectionsPopulatesPool(t *testing.T) {
	o := newTestOptimizer(t)
	o.WarmConnections("http://svc", 3)
	assert.Equal(t, int64(3), o.ExportMetrics().WarmedConnections)
}

func TestAutoScalePoolDoublesAboveThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 10
	cfg.Clock = clock.NewFake(time.Now())
	o := New(cfg)
	o.mu.Lock()
	o.metrics.TotalRequests = 101
	o.mu.Unlock()

	o.AutoScale()
	assert.Equal(t, 20, o.cfg.MaxConnections)
}

func TestGroupIntoBatchesGroupsByMethodAndDomain(t *testing.T) {
	o := newTestOptimizer(t)
	calls := []Call{
		{Method: "GET", URL: "http://a.com/1"},
		{Method: "GET", URL: "http://a.com/2"},
		{Method: "POST", URL: "http://a.com/3"},
		{Method: "GET", URL: "http://b.com/4"},
	}
	batches := o.GroupIntoBatches(calls, 10)
	require.Len(t, batches, 3)
}

func TestGroupIntoBatchesRespectsMaxSize(t *testing.T) {
	o := newTestOptimizer(t)
	calls := make([]Call, 5)
	for i := range calls {
		calls[i] = Call{Method: "GET", URL: "http://a.com/x"}
	}
	batches := o.GroupIntoBatches(calls, 2)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Calls, 2)
	assert.Len(t, batches[2].Calls, 1)
}
