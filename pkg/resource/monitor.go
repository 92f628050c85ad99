// Package resource implements the Resource Monitor (C5): pull-driven
// sampling of CPU%, memory%, and optional I/O/network byte counters, with
// a bounded sliding history used to classify trends. Sampling happens
// only when Snapshot is called — there is no internal timer; the
// Adaptive Concurrency Controller (pkg/concurrency) drives the cadence.
package resource

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"

	gopsutilcpu "github.com/shirou/gopsutil/v4/cpu"
)

const historyLen = 60

// Snapshot is a single point-in-time resource reading.
type Snapshot struct {
	CPUPercent    float64
	MemoryPercent float64
	Timestamp     time.Time
	IOReadBytes   uint64
	IOWriteBytes  uint64
	NetBytesSent  uint64
	NetBytesRecv  uint64
}

// Trend classifies the direction of a metric over the recent window.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Trends reports the CPU and memory trend over the sample history.
type Trends struct {
	CPUTrend    Trend
	MemoryTrend Trend
}

// ring is a fixed-capacity FIFO of float64 samples.
type ring struct {
	data []float64
	cap  int
}

func newRing(cap int) *ring { return &ring{cap: cap} }

func (r *ring) push(v float64) {
	r.data = append(r.data, v)
	if len(r.data) > r.cap {
		r.data = r.data[len(r.data)-r.cap:]
	}
}

func (r *ring) slice(fromEnd, toEnd int) []float64 {
	n := len(r.data)
	start := n - fromEnd
	end := n - toEnd
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start >= end {
		return nil
	}
	return r.data[start:end]
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// Monitor samples live resource metrics once per Snapshot call and
// maintains a 60-sample ring per series (§4.5).
type Monitor struct {
	mu            sync.Mutex
	cpuHistory    *ring
	memoryHistory *ring

	lastIOCounters  *disk.IOCountersStat
	lastNetCounters *net.IOCountersStat
}

func New() *Monitor {
	return &Monitor{
		cpuHistory:    newRing(historyLen),
		memoryHistory: newRing(historyLen),
	}
}

// Snapshot samples cpuPercent and memoryPercent once (never blocking —
// uses the non-interval gopsutil call so it reflects the delta since the
// process start or the previous call, not a sleeping sample window) and
// records them into the sliding history.
func (m *Monitor) Snapshot() (Snapshot, error) {
	cpuPercents, err := gopsutilcpu.Percent(0, false)
	var cpuPercent float64
	if err == nil && len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	var memPercent float64
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	}

	snap := Snapshot{
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Timestamp:     time.Now(),
	}

	if counters, err := disk.IOCounters(); err == nil {
		var readBytes, writeBytes uint64
		for _, c := range counters {
			readBytes += c.ReadBytes
			writeBytes += c.WriteBytes
		}
		snap.IOReadBytes = readBytes
		snap.IOWriteBytes = writeBytes
	}

	if counters, err := net.IOCounters(false); err == nil && len(counters) > 0 {
		snap.NetBytesSent = counters[0].BytesSent
		snap.NetBytesRecv = counters[0].BytesRecv
	}

	m.mu.Lock()
	m.cpuHistory.push(snap.CPUPercent)
	m.memoryHistory.push(snap.MemoryPercent)
	m.mu.Unlock()

	return snap, nil
}

// Trends compares the mean of the last 5 samples to samples 10..5,
// classifying as increasing (>+5), decreasing (<-5), or stable.
func (m *Monitor) Trends() Trends {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Trends{
		CPUTrend:    classify(m.cpuHistory),
		MemoryTrend: classify(m.memoryHistory),
	}
}

func classify(r *ring) Trend {
	recent := mean(r.slice(5, 0))
	older := mean(r.slice(10, 5))
	delta := recent - older
	switch {
	case delta > 5:
		return TrendIncreasing
	case delta < -5:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
