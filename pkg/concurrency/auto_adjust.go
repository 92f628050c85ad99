package concurrency

import (
	"context"
	"time"

	"github.com/taskgrid/corepool/pkg/resource"
)

// MetricsSource supplies the live queue/processing-time figures the
// resource monitor cannot see on its own.
type MetricsSource interface {
	QueueSize() int
	AvgProcessingTime() float64
}

// AutoAdjustLoop polls the resource monitor and metrics source at
// AdjustmentInterval, evaluating scale-up before scale-down on every
// tick, until ctx is cancelled.
func (c *Controller) AutoAdjustLoop(ctx context.Context, mon *resource.Monitor, src MetricsSource) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		snap, err := mon.Snapshot()
		if err != nil {
			c.log.WithError(err).Warn("resource snapshot failed")
		}

		metrics := Metrics{
			CPUPercent:        snap.CPUPercent,
			MemoryPercent:     snap.MemoryPercent,
			ActiveWorkers:     c.CurrentWorkers(),
			QueueSize:         src.QueueSize(),
			AvgProcessingTime: src.AvgProcessingTime(),
		}

		up := c.ShouldScaleUp(metrics)
		if up.ShouldScale {
			c.Apply(up, metrics)
		} else if down := c.ShouldScaleDown(metrics); down.ShouldScale {
			c.Apply(down, metrics)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.AdjustmentInterval):
		}
	}
}
