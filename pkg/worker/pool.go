package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/taskgrid/corepool/internal/clock"
	"github.com/taskgrid/corepool/internal/logging"
	"github.com/taskgrid/corepool/pkg/corerrors"
	"github.com/taskgrid/corepool/pkg/resource"
)

// Config configures a Pool.
type Config struct {
	MinWorkers          int
	MaxWorkers          int
	WarmPoolSize        int
	MaxTasksPerWorker   int64
	WorkerTimeout       time.Duration
	HealthCheckInterval time.Duration
	MaxMemoryPerWorker  float64 // MB, 0 disables the check
	RetryEnabled        bool
	MaxRetries          uint64
	Clock               clock.Clock
	Logger              *logrus.Logger
}

func DefaultConfig() Config {
	return Config{
		MinWorkers:          2,
		MaxWorkers:          8,
		WarmPoolSize:        2,
		MaxTasksPerWorker:   100,
		WorkerTimeout:       30 * time.Second,
		HealthCheckInterval: 5 * time.Second,
		MaxRetries:          3,
	}
}

// slot is one logical worker: a goroutine-backed execution lane, not an
// OS process. Health is tracked per slot, recycled after
// MaxTasksPerWorker completed tasks.
type slot struct {
	id        int
	taskCount atomic.Int64
	createdAt time.Time

	mu     sync.Mutex
	health Health
}

// Pool is the Worker Pool (C11).
type Pool struct {
	cfg Config
	clk clock.Clock
	log *logrus.Entry
	mon *resource.Monitor

	sem chan struct{}

	mu       sync.RWMutex
	slots    map[int]*slot
	nextSlot int

	metrics struct {
		sync.Mutex
		Metrics
		totalDuration time.Duration
	}

	shared *sharedRegistry

	healthStop chan struct{}
	healthDone chan struct{}
}

func New(cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxTasksPerWorker <= 0 {
		cfg.MaxTasksPerWorker = DefaultConfig().MaxTasksPerWorker
	}
	if cfg.WorkerTimeout <= 0 {
		cfg.WorkerTimeout = DefaultConfig().WorkerTimeout
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultConfig().HealthCheckInterval
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	p := &Pool{
		cfg:    cfg,
		clk:    clk,
		log:    logging.Named(cfg.Logger, "worker"),
		mon:    resource.New(),
		sem:    make(chan struct{}, cfg.MaxWorkers),
		slots:  make(map[int]*slot),
		shared: newSharedRegistry(),
	}
	return p
}

// InitializeWarmPool pre-creates WarmPoolSize slots so the first
// WarmPoolSize submissions do not pay allocation/health-registration
// overhead inline.
func (p *Pool) InitializeWarmPool() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < p.cfg.WarmPoolSize; i++ {
		p.newSlotLocked()
	}
	p.log.WithField("warm_pool_size", p.cfg.WarmPoolSize).Info("warm pool initialized")
}

func (p *Pool) newSlotLocked() *slot {
	id := p.nextSlot
	p.nextSlot++
	s := &slot{
		id:        id,
		createdAt: p.clk.Now(),
		health: Health{
			WorkerID:        id,
			Status:          StatusInitializing,
			LastHealthCheck: p.clk.Now(),
		},
	}
	p.slots[id] = s
	return s
}

// acquireSlot returns a slot from the warm pool if one is idle enough
// to reuse (always true here — slots are stateless between tasks, the
// count just tracks recycling), recycling it if it has hit
// MaxTasksPerWorker.
func (p *Pool) acquireSlot() *slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.slots {
		if s.taskCount.Load() < p.cfg.MaxTasksPerWorker {
			return s
		}
	}
	if len(p.slots) < p.cfg.MaxWorkers {
		return p.newSlotLocked()
	}
	// All slots exhausted their budget: recycle the oldest.
	var oldest *slot
	for _, s := range p.slots {
		if oldest == nil || s.createdAt.Before(oldest.createdAt) {
			oldest = s
		}
	}
	oldest.taskCount.Store(0)
	oldest.createdAt = p.clk.Now()
	return oldest
}

// SubmitSync runs fn on a worker slot and blocks for the result,
// enforcing WorkerTimeout and, if RetryEnabled, retrying with capped
// exponential backoff on failure.
func (p *Pool) SubmitSync(ctx context.Context, fn Func) (any, error) {
	if err := p.acquireGate(ctx); err != nil {
		return nil, err
	}
	defer p.releaseGate()

	result, err := p.runOnce(ctx, fn)
	if err == nil {
		return result, nil
	}

	if !p.cfg.RetryEnabled {
		return nil, err
	}

	var lastErr error
	retries := uint64(0)
	// The first backoff.Retry call is itself a retry, so MaxRetries-1 more.
	boff := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.cfg.MaxRetries-1)
	retryErr := backoff.Retry(func() error {
		result, lastErr = p.runOnce(ctx, fn)
		if lastErr != nil {
			retries++
		}
		return lastErr
	}, boff)

	p.metrics.Lock()
	p.metrics.RetryCount += int64(retries)
	p.metrics.Unlock()

	if retryErr != nil {
		return nil, lastErr
	}
	return result, nil
}

// SubmitAsync runs fn in a new goroutine and returns a channel that
// receives exactly one Result.
type Result struct {
	Value any
	Err   error
}

func (p *Pool) SubmitAsync(ctx context.Context, fn Func) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		if err := p.acquireGate(ctx); err != nil {
			out <- Result{Err: err}
			return
		}
		defer p.releaseGate()
		v, err := p.runOnce(ctx, fn)
		out <- Result{Value: v, Err: err}
	}()
	return out
}

// Submit runs fn bounded by a per-call timeout in addition to
// WorkerTimeout; whichever is shorter ends the call.
func (p *Pool) Submit(ctx context.Context, timeout time.Duration, fn Func) (any, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.SubmitSync(tctx, fn)
}

// SubmitBatch runs every fn concurrently (bounded by the pool's
// semaphore) and returns results in input order; a single fn's failure
// does not cancel the others.
func (p *Pool) SubmitBatch(ctx context.Context, fns []Func) []Result {
	results := make([]Result, len(fns))
	g, gctx := errgroup.WithContext(context.Background())
	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() error {
			if err := p.acquireGate(gctx); err != nil {
				results[i] = Result{Err: err}
				return nil
			}
			defer p.releaseGate()
			v, err := p.runOnce(ctx, fn)
			results[i] = Result{Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pool) acquireGate(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return corerrors.WrapUnknown(ctx.Err())
	}
}

func (p *Pool) releaseGate() {
	<-p.sem
}

func (p *Pool) runOnce(ctx context.Context, fn Func) (any, error) {
	s := p.acquireSlot()
	s.taskCount.Add(1)

	tctx, cancel := context.WithTimeout(ctx, p.cfg.WorkerTimeout)
	defer cancel()

	start := p.clk.Now()
	resultCh := make(chan Result, 1)
	go func() {
		v, err := fn(tctx)
		resultCh <- Result{Value: v, Err: err}
	}()

	var res Result
	select {
	case res = <-resultCh:
	case <-tctx.Done():
		res = Result{Err: corerrors.NewTimeoutError("worker task", p.cfg.WorkerTimeout)}
	}
	duration := p.clk.Now().Sub(start)

	p.recordResult(s, duration, res.Err)
	return res.Value, res.Err
}

func (p *Pool) recordResult(s *slot, duration time.Duration, err error) {
	p.metrics.Lock()
	p.metrics.TotalTasks++
	p.metrics.totalDuration += duration
	if p.metrics.TotalTasks > 0 {
		p.metrics.AvgTaskDuration = p.metrics.totalDuration / time.Duration(p.metrics.TotalTasks)
	}
	if err != nil {
		p.metrics.FailedTasks++
		if corerrors.CodeOf(err) == corerrors.CodeTimeout {
			p.metrics.TimeoutTasks++
		}
	} else {
		p.metrics.SuccessfulTasks++
	}
	p.metrics.Unlock()

	s.mu.Lock()
	s.health.TaskCount = s.taskCount.Load()
	s.health.LastHealthCheck = p.clk.Now()
	if s.health.Status == StatusInitializing {
		s.health.Status = StatusHealthy
	}
	s.mu.Unlock()
}

// GetMetrics returns a snapshot of pool-wide counters.
func (p *Pool) GetMetrics() Metrics {
	p.metrics.Lock()
	m := p.metrics.Metrics
	p.metrics.Unlock()

	p.mu.RLock()
	m.ActiveWorkers = len(p.slots)
	p.mu.RUnlock()
	m.WarmPoolSize = p.WarmPoolSize()
	return m
}

// WarmPoolSize returns the count of currently healthy slots.
func (p *Pool) WarmPoolSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	count := 0
	for _, s := range p.slots {
		s.mu.Lock()
		if s.health.Status == StatusHealthy {
			count++
		}
		s.mu.Unlock()
	}
	return count
}
