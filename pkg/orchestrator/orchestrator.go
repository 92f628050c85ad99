// Package orchestrator wires the Queue Manager, Adaptive Concurrency
// Controller, Worker Pool, and Connection Pool Optimizer into the
// end-to-end pipeline described by the data flow in §1/§5: producers
// enqueue, the adaptive loop computes a target worker count from queue
// depth and resource pressure, workers dequeue and execute user code,
// and failures retry or land in the dead-letter queue. The target count
// is reported by the controller only; the worker pool's capacity stays
// as configured.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskgrid/corepool/internal/logging"
	"github.com/taskgrid/corepool/pkg/concurrency"
	"github.com/taskgrid/corepool/pkg/corerrors"
	"github.com/taskgrid/corepool/pkg/netpool"
	"github.com/taskgrid/corepool/pkg/queue"
	"github.com/taskgrid/corepool/pkg/resource"
	"github.com/taskgrid/corepool/pkg/worker"
)

// WorkFunc is the user work function: it receives the deserialized item
// payload and returns a result or an error. Errors returned here are
// classified as "downstream" execution failures (§7) and drive the
// retry/DLQ path, distinct from admission failures raised by Enqueue.
type WorkFunc func(ctx context.Context, payload any) (any, error)

// Config configures an Orchestrator's poll cadence and logger.
type Config struct {
	PollInterval time.Duration
	Logger       *logrus.Logger
}

func DefaultConfig() Config {
	return Config{PollInterval: 50 * time.Millisecond}
}

// Orchestrator is the C13 wiring component.
type Orchestrator struct {
	cfg Config
	log *logrus.Entry

	Queue      *queue.Manager
	Controller *concurrency.Controller
	Pool       *worker.Pool
	Net        *netpool.Optimizer
	Monitor    *resource.Monitor

	work WorkFunc

	mu                sync.Mutex
	processedDurations []time.Duration
	totalProcessed     atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New assembles an Orchestrator from already-constructed subsystem
// instances, so callers retain direct access to each component's full
// API (SPEC_FULL.md's per-component operations) alongside the
// end-to-end pipeline.
func New(cfg Config, q *queue.Manager, ctrl *concurrency.Controller, pool *worker.Pool, net *netpool.Optimizer, mon *resource.Monitor, work WorkFunc) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Orchestrator{
		cfg:        cfg,
		log:        logging.Named(cfg.Logger, "orchestrator"),
		Queue:      q,
		Controller: ctrl,
		Pool:       pool,
		Net:        net,
		Monitor:    mon,
		work:       work,
	}
}

// Enqueue admits an item, gated by the queue's backpressure/validation
// rules (C7).
func (o *Orchestrator) Enqueue(item *queue.Item) error {
	return o.Queue.Enqueue(item)
}

// Start launches the worker-dispatch loop and the controller's
// auto-adjust loop. The dispatch loop stops on ctx cancellation or Stop;
// the auto-adjust loop stops only on ctx cancellation.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.stopCh != nil {
		o.mu.Unlock()
		return
	}
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	stop, done := o.stopCh, o.doneCh
	o.mu.Unlock()

	go o.Controller.AutoAdjustLoop(ctx, o.Monitor, o)
	go o.dispatchLoop(ctx, stop, done)
}

// Stop signals the dispatch loop to exit and waits for it.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	stop := o.stopCh
	done := o.doneCh
	o.stopCh = nil
	o.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (o *Orchestrator) dispatchLoop(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			o.dispatchOne(ctx)
		}
	}
}

func (o *Orchestrator) dispatchOne(ctx context.Context) {
	item, err := o.Queue.Dequeue()
	if err != nil {
		// Circuit open: no further dequeues until it closes.
		return
	}
	if item == nil {
		return
	}

	go o.process(ctx, item)
}

func (o *Orchestrator) process(ctx context.Context, item *queue.Item) {
	start := time.Now()
	_, err := o.Pool.SubmitSync(ctx, func(ctx context.Context) (any, error) {
		return o.work(ctx, item.Data)
	})
	duration := time.Since(start)

	o.mu.Lock()
	o.processedDurations = append(o.processedDurations, duration)
	if len(o.processedDurations) > 200 {
		o.processedDurations = o.processedDurations[len(o.processedDurations)-200:]
	}
	o.mu.Unlock()
	o.totalProcessed.Add(1)

	if err == nil {
		o.Queue.ReportProcessingSuccess()
		return
	}

	o.Queue.ReportProcessingFailure(err)
	o.log.WithFields(logrus.Fields{
		"item_id": item.ID,
		"code":    corerrors.CodeOf(err),
	}).Warn("task execution failed")

	retried := *item
	retried.RetryCount++
	if retried.RetryCount >= retried.MaxRetries {
		o.Queue.MoveToDeadLetter(&retried, err.Error())
		return
	}

	if reqErr := o.Queue.Enqueue(&retried); reqErr != nil {
		o.log.WithError(reqErr).WithField("item_id", item.ID).Warn("failed to re-enqueue after execution failure")
		o.Queue.MoveToDeadLetter(&retried, err.Error())
	}
}

// QueueSize implements concurrency.MetricsSource.
func (o *Orchestrator) QueueSize() int { return o.Queue.Size() }

// AvgProcessingTime implements concurrency.MetricsSource, returning the
// mean of the most recent processed-task durations in seconds.
func (o *Orchestrator) AvgProcessingTime() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.processedDurations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range o.processedDurations {
		sum += d
	}
	return sum.Seconds() / float64(len(o.processedDurations))
}

