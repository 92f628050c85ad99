// Command corepool-demo wires the Queue Manager, Adaptive Concurrency
// Controller, Worker Pool, Connection Pool Optimizer, and Resource
// Monitor into one running Orchestrator, enqueues twenty jobs at mixed
// priorities, and after three seconds logs a summary of queue size, dead
// letters, and pool metrics.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskgrid/corepool/pkg/concurrency"
	"github.com/taskgrid/corepool/pkg/netpool"
	"github.com/taskgrid/corepool/pkg/orchestrator"
	"github.com/taskgrid/corepool/pkg/queue"
	"github.com/taskgrid/corepool/pkg/resource"
	"github.com/taskgrid/corepool/pkg/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	qcfg := queue.DefaultConfig()
	qcfg.Logger = logger
	q := queue.New(qcfg)

	ccfg := concurrency.DefaultConfig()
	ccfg.Logger = logger
	ccfg.MinWorkers = 2
	ccfg.MaxWorkers = 6
	ctrl := concurrency.New(ccfg)

	wcfg := worker.DefaultConfig()
	wcfg.Logger = logger
	wcfg.MaxWorkers = 6
	pool := worker.New(wcfg)
	pool.InitializeWarmPool()
	pool.StartHealthMonitor()
	defer pool.StopHealthMonitor()

	ncfg := netpool.DefaultConfig()
	ncfg.Logger = logger
	net := netpool.New(ncfg)

	mon := resource.New()

	orch := orchestrator.New(orchestrator.DefaultConfig(), q, ctrl, pool, net, mon, doWork)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	orch.Start(ctx)
	defer orch.Stop()

	seedJobs(orch, logger)

	deadline := time.After(3 * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			logger.WithFields(logrus.Fields{
				"queue_size":   orch.QueueSize(),
				"dead_letters": len(orch.Queue.GetDeadLetterItems()),
				"pool_metrics": orch.Pool.GetMetrics(),
			}).Info("demo run complete")
			return
		case <-ticker.C:
			logger.WithFields(logrus.Fields{
				"queue_size": orch.QueueSize(),
				"workers":    orch.Controller.CurrentWorkers(),
			}).Debug("tick")
		}
	}
}

func seedJobs(orch *orchestrator.Orchestrator, logger *logrus.Logger) {
	priorities := []queue.Priority{queue.PriorityLow, queue.PriorityNormal, queue.PriorityHigh, queue.PriorityCritical}
	for i := 0; i < 20; i++ {
		item := &queue.Item{
			ID:         fmt.Sprintf("job-%02d", i),
			Data:       i,
			Priority:   priorities[i%len(priorities)],
			MaxRetries: 2,
		}
		if err := orch.Enqueue(item); err != nil {
			logger.WithError(err).WithField("item_id", item.ID).Warn("enqueue rejected")
		}
	}
}

// doWork simulates variable-latency work that occasionally fails, so the
// demo exercises both the success path and the retry/dead-letter path.
func doWork(ctx context.Context, payload any) (any, error) {
	n, _ := payload.(int)
	time.Sleep(time.Duration(10+rand.Intn(40)) * time.Millisecond)
	if n%7 == 0 {
		return nil, fmt.Errorf("simulated failure processing job %d", n)
	}
	return n * n, nil
}
