package netpool

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net/url"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/taskgrid/corepool/internal/clock"
	"github.com/taskgrid/corepool/internal/logging"
	"github.com/taskgrid/corepool/pkg/corerrors"
	"github.com/taskgrid/corepool/pkg/queue"
)

// RequestFunc performs the actual upstream call for a URL and returns an
// opaque response value.
type RequestFunc func(ctx context.Context, url string) (any, error)

// OptimizerMetrics mirrors the Connection Optimizer's exported metrics
// (§4.10 / §6).
type OptimizerMetrics struct {
	TotalRequests        int64
	SuccessfulRequests   int64
	FailedRequests       int64
	RetryCount           int64
	AvgResponseTime      time.Duration
	CacheHits            int64
	CacheMisses          int64
	CacheHitRatio        float64
	PoolReuseCount       int64
	FailoverCount        int64
	DeduplicatedRequests int64
	RateLimitHits        int64
	WarmedConnections    int64
}

func (m *OptimizerMetrics) hitLocked()  { m.CacheHits++ }
func (m *OptimizerMetrics) missLocked() { m.CacheMisses++ }

func (m *OptimizerMetrics) cacheHitRatioLocked() float64 {
	total := m.CacheHits + m.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(m.CacheHits) / float64(total) * 100
}

// Config configures an Optimizer.
type Config struct {
	MaxConnections   int
	RateLimitPerHour int
	Retry            queue.RetryStrategy
	CacheTTL         time.Duration
	BandwidthMbps    float64
	Clock            clock.Clock
	Logger           *logrus.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxConnections:   20,
		RateLimitPerHour: 5000,
		Retry:            queue.DefaultRetryStrategy(),
		CacheTTL:         5 * time.Minute,
	}
}

// Optimizer is the Connection Pool Optimizer (C4): it composes the
// Connection Pool (C3) and Rate Limiter (C1) with retry, failover,
// caching, deduplication, and bandwidth throttling.
type Optimizer struct {
	cfg Config
	clk clock.Clock
	log *logrus.Entry

	pool    *Pool
	limiter *RateLimiter
	sem     *semaphore.Weighted

	cache    *lru.LRU[string, any]
	dedup    singleflight.Group
	limiter2 *rate.Limiter // bandwidth throttle, nil unless configured

	mu                sync.Mutex
	metrics           OptimizerMetrics
	totalResponseTime time.Duration

	failoverMu  sync.Mutex
	failover    []string
	lastGoodIdx int
}

func New(cfg Config) *Optimizer {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultConfig().MaxConnections
	}
	if cfg.RateLimitPerHour <= 0 {
		cfg.RateLimitPerHour = DefaultConfig().RateLimitPerHour
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	o := &Optimizer{
		cfg:     cfg,
		clk:     clk,
		log:     logging.Named(cfg.Logger, "netpool"),
		pool:    NewPool(cfg.MaxConnections, clk),
		limiter: NewRateLimiter(cfg.RateLimitPerHour, clk),
		sem:     semaphore.NewWeighted(int64(cfg.MaxConnections)),
		cache:   lru.NewLRU[string, any](1024, nil, cfg.CacheTTL),
	}
	if cfg.BandwidthMbps > 0 {
		o.SetBandwidthLimit(cfg.BandwidthMbps)
	}
	return o
}

// SetBandwidthLimit configures a throttle of mbps megabits/second,
// expressed as bytes/sec for golang.org/x/time/rate.
func (o *Optimizer) SetBandwidthLimit(mbps float64) {
	bytesPerSec := mbps * 1024 * 1024 / 8
	o.mu.Lock()
	o.limiter2 = rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec))
	o.mu.Unlock()
}

// Throttle blocks until nBytes may be sent under the configured
// bandwidth limit; a no-op if no limit is set.
func (o *Optimizer) Throttle(ctx context.Context, nBytes int) error {
	o.mu.Lock()
	lim := o.limiter2
	o.mu.Unlock()
	if lim == nil {
		return nil
	}
	return lim.WaitN(ctx, nBytes)
}

// ConfigureFailover sets the ordered list of endpoint base URLs tried
// on failure.
func (o *Optimizer) ConfigureFailover(endpoints []string) {
	o.failoverMu.Lock()
	defer o.failoverMu.Unlock()
	o.failover = endpoints
	o.lastGoodIdx = 0
}

// Request is the admission-gated, retried, metrics-accounted entry
// point: RateLimiter.Acquire() gates every call; on denial it returns
// RATE_LIMIT_EXCEEDED without attempting the request.
func (o *Optimizer) Request(ctx context.Context, url string, fn RequestFunc) (any, error) {
	if !o.limiter.Acquire() {
		o.mu.Lock()
		o.metrics.RateLimitHits++
		o.mu.Unlock()
		return nil, corerrors.NewRateLimitExceededError(o.limiter.Remaining())
	}

	start := o.clk.Now()
	result, err := o.executeWithRetry(ctx, url, fn)
	elapsed := o.clk.Now().Sub(start)

	o.mu.Lock()
	o.metrics.TotalRequests++
	o.totalResponseTime += elapsed
	o.metrics.AvgResponseTime = o.totalResponseTime / time.Duration(o.metrics.TotalRequests)
	if err != nil {
		o.metrics.FailedRequests++
	} else {
		o.metrics.SuccessfulRequests++
	}
	o.mu.Unlock()

	return result, err
}

func (o *Optimizer) executeWithRetry(ctx context.Context, url string, fn RequestFunc) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.Retry.MaxAttempts; attempt++ {
		result, err := fn(ctx, url)
		if err == nil {
			return result, nil
		}
		lastErr = err
		o.mu.Lock()
		o.metrics.RetryCount++
		o.mu.Unlock()

		if attempt < o.cfg.Retry.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			o.clk.Sleep(o.cfg.Retry.Delay(attempt))
		}
	}
	return nil, lastErr
}

// RequestWithFailover tries each configured endpoint in order until one
// succeeds, remembering the index of the last successful endpoint.
func (o *Optimizer) RequestWithFailover(ctx context.Context, path string, fn RequestFunc) (any, error) {
	o.failoverMu.Lock()
	endpoints := append([]string(nil), o.failover...)
	o.failoverMu.Unlock()

	if len(endpoints) == 0 {
		return nil, corerrors.WrapUnknown(errNoFailoverEndpoints)
	}

	var lastErr error
	for i, endpoint := range endpoints {
		result, err := o.Request(ctx, endpoint+path, fn)
		if err == nil {
			o.failoverMu.Lock()
			o.lastGoodIdx = i
			o.failoverMu.Unlock()
			return result, nil
		}
		lastErr = err
		if i < len(endpoints)-1 {
			o.mu.Lock()
			o.metrics.FailoverCount++
			o.mu.Unlock()
		}
	}
	return nil, lastErr
}

// CachedRequest serves from cache when a fresh entry exists for url,
// otherwise performs the request and populates the cache.
func (o *Optimizer) CachedRequest(ctx context.Context, reqURL string, fn RequestFunc) (any, error) {
	key := cacheKey(reqURL)

	if v, ok := o.cache.Get(key); ok {
		o.mu.Lock()
		o.metrics.hitLocked()
		o.mu.Unlock()
		return v, nil
	}

	o.mu.Lock()
	o.metrics.missLocked()
	o.mu.Unlock()

	result, err := o.Request(ctx, reqURL, fn)
	if err != nil {
		return nil, err
	}
	o.cache.Add(key, result)
	return result, nil
}

func cacheKey(reqURL string) string {
	sum := md5.Sum([]byte(reqURL))
	return hex.EncodeToString(sum[:])
}

// DeduplicatedRequest collapses concurrent callers for the same URL
// into a single in-flight request via golang.org/x/sync/singleflight.
func (o *Optimizer) DeduplicatedRequest(ctx context.Context, reqURL string, fn RequestFunc) (any, error) {
	v, err, shared := o.dedup.Do(reqURL, func() (any, error) {
		return o.Request(ctx, reqURL, fn)
	})
	if shared {
		o.mu.Lock()
		o.metrics.DeduplicatedRequests++
		o.mu.Unlock()
	}
	return v, err
}

// WarmConnections pre-opens n connections against endpoint.
func (o *Optimizer) WarmConnections(endpoint string, n int) {
	var conns []*Connection
	for i := 0; i < n; i++ {
		conn := o.pool.Acquire(endpoint)
		if conn == nil {
			break
		}
		conns = append(conns, conn)
		o.mu.Lock()
		o.metrics.WarmedConnections++
		o.mu.Unlock()
	}
	for _, conn := range conns {
		o.pool.Release(conn)
	}
}

// AcquirePooled reserves a connection, runs fn, and releases it,
// counting pool reuse; falls back to an un-pooled call when the pool is
// exhausted.
func (o *Optimizer) AcquirePooled(ctx context.Context, endpoint, reqURL string, fn RequestFunc) (any, error) {
	conn := o.pool.Acquire(endpoint)
	if conn == nil {
		return o.Request(ctx, reqURL, fn)
	}
	defer o.pool.Release(conn)

	result, err := o.Request(ctx, reqURL, fn)
	if err == nil {
		o.mu.Lock()
		o.metrics.PoolReuseCount++
		o.mu.Unlock()
	}
	return result, err
}

// ExecuteConcurrent runs fn against every url, bounded by the pool's
// MaxConnections via a weighted semaphore.
func (o *Optimizer) ExecuteConcurrent(ctx context.Context, urls []string, fn RequestFunc) []Result {
	results := make([]Result, len(urls))
	g, _ := errgroup.WithContext(context.Background())
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			if err := o.sem.Acquire(ctx, 1); err != nil {
				results[i] = Result{Err: err}
				return nil
			}
			defer o.sem.Release(1)
			v, err := o.Request(ctx, u, fn)
			results[i] = Result{Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

var errNoFailoverEndpoints = errors.New("no failover endpoints configured")

// Result is the outcome of one concurrent request.
type Result struct {
	Value any
	Err   error
}

// CheckConnectionHealth reports the health of every connection the pool
// currently tracks; connections closed by a shrinking Resize are dropped
// from the count.
func (o *Optimizer) CheckConnectionHealth() Health {
	return o.pool.CheckHealth()
}

// GetDomain extracts the host component of rawURL for batch grouping.
func GetDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// ExportMetrics returns a read-only metrics snapshot.
func (o *Optimizer) ExportMetrics() OptimizerMetrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := o.metrics
	m.CacheHitRatio = m.cacheHitRatioLocked()
	return m
}
