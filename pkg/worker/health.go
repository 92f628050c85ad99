package worker

import (
	"runtime"
	"time"
)

// StartHealthMonitor launches a background loop that samples process
// resource usage and memory-caps each slot every HealthCheckInterval,
// until StopHealthMonitor is called. Slots are goroutine lanes rather
// than OS processes, so CPU/memory figures are the shared process
// snapshot rather than a per-slot reading — still enough to mark a slot
// unhealthy past MaxMemoryPerWorker and surface health via
// GetWorkerHealth.
func (p *Pool) StartHealthMonitor() {
	p.mu.Lock()
	if p.healthStop != nil {
		p.mu.Unlock()
		return
	}
	p.healthStop = make(chan struct{})
	p.healthDone = make(chan struct{})
	p.mu.Unlock()

	go p.healthLoop()
}

// StopHealthMonitor stops the background health loop and blocks until
// it exits.
func (p *Pool) StopHealthMonitor() {
	p.mu.Lock()
	stop := p.healthStop
	done := p.healthDone
	p.healthStop = nil
	p.healthDone = nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (p *Pool) healthLoop() {
	p.mu.RLock()
	stop := p.healthStop
	done := p.healthDone
	p.mu.RUnlock()
	defer close(done)

	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.checkHealth()
		}
	}
}

func (p *Pool) checkHealth() {
	snap, err := p.mon.Snapshot()
	if err != nil {
		p.log.WithError(err).Warn("resource snapshot failed during health check")
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	processMemMB := float64(memStats.Alloc) / (1024 * 1024)

	p.mu.RLock()
	slots := make([]*slot, 0, len(p.slots))
	for _, s := range p.slots {
		slots = append(slots, s)
	}
	p.mu.RUnlock()

	now := p.clk.Now()
	for _, s := range slots {
		s.mu.Lock()
		s.health.CPUPercent = snap.CPUPercent
		s.health.MemoryMB = processMemMB
		s.health.TaskCount = s.taskCount.Load()
		s.health.LastHealthCheck = now
		if p.cfg.MaxMemoryPerWorker > 0 && processMemMB > p.cfg.MaxMemoryPerWorker {
			s.health.Status = StatusUnhealthy
		} else {
			s.health.Status = StatusHealthy
		}
		s.mu.Unlock()
	}
}

// GetWorkerHealth returns a snapshot of every slot's health, keyed by
// worker ID.
func (p *Pool) GetWorkerHealth() map[int]Health {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[int]Health, len(p.slots))
	for id, s := range p.slots {
		s.mu.Lock()
		out[id] = s.health
		s.mu.Unlock()
	}
	return out
}
