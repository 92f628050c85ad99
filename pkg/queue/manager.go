package queue

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskgrid/corepool/internal/clock"
	"github.com/taskgrid/corepool/internal/logging"
	"github.com/taskgrid/corepool/pkg/corerrors"
)

// Config configures a Manager at construction time.
type Config struct {
	MaxSize                int
	EnableDeadLetter       bool
	EnableBackpressure     bool
	BackpressureThreshold  float64
	CircuitFailureThreshold int
	CircuitRecoveryTimeout time.Duration
	Logger                 *logrus.Logger
	Clock                  clock.Clock
}

func DefaultConfig() Config {
	return Config{
		MaxSize:                 10000,
		EnableDeadLetter:        true,
		EnableBackpressure:      true,
		BackpressureThreshold:   0.8,
		CircuitFailureThreshold: 5,
		CircuitRecoveryTimeout:  30 * time.Second,
	}
}

// Manager (C10) is the sole public queue surface: it composes the
// priority heap (C6), backpressure controller (C7), circuit breaker (C8),
// and dead-letter queue (C9), and adds TTL expiry, partitioning,
// persistence, filtered dequeue, alerting, and dequeue rate limiting.
//
// A single mutex protects the heap, DLQ, partitions, and counters;
// Enqueue/Dequeue/Filter are mutually exclusive. The rate-limit sleep
// happens outside the lock so it cannot starve producers.
type Manager struct {
	mu  sync.Mutex
	log *logrus.Entry
	clk clock.Clock

	maxSize            int
	enableDeadLetter   bool
	enableBackpressure bool

	heap    *coreHeap
	dlq     *DeadLetterQueue
	backpr  *BackpressureController
	breaker *CircuitBreaker

	nextSequence int64
	metrics      Metrics
	waitTimes    []time.Duration // bounded ring, last 1000
	waitTimesPos int

	expiredItems []Item

	partitioned     bool
	partitionCount  int
	partitions      map[int]*coreHeap

	rateLimitPerSec float64
	lastDequeueAt   time.Time

	alertThresholds map[string]float64
	activeAlerts    []Alert

	persistenceEnabled bool
	persistencePath    string
	codec              Codec
}

func New(cfg Config) *Manager {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	if cfg.BackpressureThreshold <= 0 {
		cfg.BackpressureThreshold = 0.8
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		log:              logging.Named(cfg.Logger, "queue.manager"),
		clk:              clk,
		maxSize:          cfg.MaxSize,
		enableDeadLetter: cfg.EnableDeadLetter,
		enableBackpressure: cfg.EnableBackpressure,
		heap:             newCoreHeap(),
		dlq:              newDeadLetterQueue(),
		backpr:           NewBackpressureController(cfg.BackpressureThreshold),
		breaker:          NewCircuitBreaker(cfg.CircuitFailureThreshold, cfg.CircuitRecoveryTimeout, clk),
		waitTimes:        make([]time.Duration, 0, 1000),
		partitions:       make(map[int]*coreHeap),
		alertThresholds:  make(map[string]float64),
		codec:            JSONCodec{},
	}
}

// Enqueue admits item, assigning its sequence number under the lock.
// Rejection order per §4.4: backpressure, then capacity.
func (m *Manager) Enqueue(item *Item) error {
	if err := item.Validate(); err != nil {
		return corerrors.NewValidationError("item", err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.totalSizeLocked()
	if m.enableBackpressure && m.backpr.CheckPressure(size, m.maxSize) {
		m.metrics.BackpressureEvents++
		m.log.WithFields(logrus.Fields{"size": size, "max": m.maxSize}).Warn("enqueue rejected: backpressure active")
		return corerrors.NewBackpressureError(size, m.maxSize)
	}
	if size >= m.maxSize {
		return corerrors.NewQueueFullError(size, m.maxSize)
	}

	item.sequence = m.nextSequence
	m.nextSequence++
	if item.CreatedAt.IsZero() {
		item.CreatedAt = m.clk.Now()
	}

	if m.partitioned && item.Partition != nil {
		p := mod(*item.Partition, m.partitionCount)
		h, ok := m.partitions[p]
		if !ok {
			h = newCoreHeap()
			m.partitions[p] = h
		}
		h.Push(item)
	} else {
		m.heap.Push(item)
	}

	m.metrics.TotalEnqueued++
	m.checkAlertsLocked()
	return nil
}

func mod(a, n int) int {
	if n <= 0 {
		return 0
	}
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}

// EnqueueBatch applies Enqueue sequentially; the first failure short-
// circuits and the number accepted so far is returned alongside the error.
func (m *Manager) EnqueueBatch(items []*Item) (accepted int, err error) {
	for _, it := range items {
		if err = m.Enqueue(it); err != nil {
			return accepted, err
		}
		accepted++
	}
	return accepted, nil
}

// Dequeue returns the highest-priority, non-expired item from the main
// heap, gated in order by the circuit breaker and the dequeue rate
// limiter, per §4.4.
func (m *Manager) Dequeue() (*Item, error) {
	if !m.breaker.CanProceed() {
		return nil, corerrors.NewCircuitOpenError("queue-manager")
	}

	m.applyRateLimit()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictExpiredLocked(m.heap)

	item := m.heap.Pop()
	if item == nil {
		return nil, nil
	}
	m.recordDequeueLocked(item)
	return item, nil
}

// DequeueFromPartition behaves like Dequeue but pops from a specific
// partition's heap. Global ordering across partitions is not guaranteed —
// only intra-partition order is (§5).
func (m *Manager) DequeueFromPartition(partition int) (*Item, error) {
	if !m.breaker.CanProceed() {
		return nil, corerrors.NewCircuitOpenError("queue-manager")
	}
	m.applyRateLimit()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.partitioned {
		return nil, fmt.Errorf("partitioning not enabled")
	}
	p := mod(partition, m.partitionCount)
	h, ok := m.partitions[p]
	if !ok {
		return nil, nil
	}
	m.evictExpiredLocked(h)
	item := h.Pop()
	if item == nil {
		return nil, nil
	}
	m.recordDequeueLocked(item)
	return item, nil
}

// DequeueBatch returns up to n items; each item independently passes the
// circuit-breaker/rate-limit/TTL gates, stopping early on an empty queue.
func (m *Manager) DequeueBatch(n int) ([]*Item, error) {
	items := make([]*Item, 0, n)
	for i := 0; i < n; i++ {
		item, err := m.Dequeue()
		if err != nil {
			return items, err
		}
		if item == nil {
			break
		}
		items = append(items, item)
	}
	return items, nil
}

// DequeueFiltered scans linearly for the first item matching pred and
// removes it, rebalancing the heap. This is the administrative path: it
// is not gated by the circuit breaker (§9 resolves this explicitly).
func (m *Manager) DequeueFiltered(pred func(*Item) bool) *Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.heap.RemoveFirstWhere(pred)
	if item == nil {
		return nil
	}
	m.recordDequeueLocked(item)
	return item
}

func (m *Manager) recordDequeueLocked(item *Item) {
	m.metrics.TotalDequeued++
	waitTime := m.clk.Now().Sub(item.CreatedAt)
	if len(m.waitTimes) < cap(m.waitTimes) {
		m.waitTimes = append(m.waitTimes, waitTime)
	} else {
		m.waitTimes[m.waitTimesPos] = waitTime
		m.waitTimesPos = (m.waitTimesPos + 1) % cap(m.waitTimes)
	}
	m.updateAvgWaitLocked()
	m.checkAlertsLocked()
}

func (m *Manager) updateAvgWaitLocked() {
	if len(m.waitTimes) == 0 {
		return
	}
	var total time.Duration
	for _, d := range m.waitTimes {
		total += d
	}
	m.metrics.AvgWaitTime = total / time.Duration(len(m.waitTimes))
}

// evictExpiredLocked moves expired items from h into the expired list,
// incrementing the expired counter.
func (m *Manager) evictExpiredLocked(h *coreHeap) {
	now := m.clk.Now()
	removed := h.RemoveWhere(func(it *Item) bool { return it.Expired(now) })
	if len(removed) == 0 {
		return
	}
	for _, it := range removed {
		m.expiredItems = append(m.expiredItems, *it)
	}
	m.metrics.ExpiredItems += int64(len(removed))
}

func (m *Manager) applyRateLimit() {
	m.mu.Lock()
	rate := m.rateLimitPerSec
	last := m.lastDequeueAt
	now := m.clk.Now()
	if rate <= 0 {
		m.mu.Unlock()
		return
	}
	minInterval := time.Duration(float64(time.Second) / rate)
	elapsed := now.Sub(last)
	m.lastDequeueAt = now
	m.mu.Unlock()

	if !last.IsZero() && elapsed < minInterval {
		m.clk.Sleep(minInterval - elapsed)
	}
}

// MoveToDeadLetter appends item to the DLQ with reason, independent of
// whether it came from this manager's heap (callers — typically the
// Worker Pool — invoke this after exhausting retries).
func (m *Manager) MoveToDeadLetter(item *Item, reason string) {
	if !m.enableDeadLetter {
		return
	}
	m.dlq.Add(*item, reason)

	m.mu.Lock()
	m.metrics.DeadLetterCount++
	m.mu.Unlock()
}

// ReportProcessingFailure feeds the circuit breaker only; it does not
// touch any items.
func (m *Manager) ReportProcessingFailure(err error) {
	m.breaker.RecordFailure()
	m.log.WithError(err).Debug("processing failure reported to circuit breaker")
}

// ReportProcessingSuccess resets the breaker's failure count, the
// counterpart producers call on a clean user-function return.
func (m *Manager) ReportProcessingSuccess() {
	m.breaker.RecordSuccess()
}

func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalSizeLocked()
}

func (m *Manager) totalSizeLocked() int {
	size := m.heap.Len()
	for _, h := range m.partitions {
		size += h.Len()
	}
	return size
}

func (m *Manager) IsBackpressureActive() bool { return m.backpr.IsActive() }
func (m *Manager) IsCircuitOpen() bool        { return m.breaker.IsOpen() }

func (m *Manager) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.metrics
	snap.QueueSize = m.totalSizeLocked()
	snap.CircuitBreakerOpen = m.breaker.IsOpen()
	snap.BackpressureActive = m.backpr.IsActive()
	return snap
}

func (m *Manager) GetDeadLetterItems() []DeadLetterItem { return m.dlq.List() }

func (m *Manager) GetExpiredItems() []Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Item, len(m.expiredItems))
	copy(out, m.expiredItems)
	return out
}

// --- configuration toggles (§4.4) ---

func (m *Manager) EnablePartitioning(partitions int) {
	if partitions <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitioned = true
	m.partitionCount = partitions
	for i := 0; i < partitions; i++ {
		if _, ok := m.partitions[i]; !ok {
			m.partitions[i] = newCoreHeap()
		}
	}
}

// GetPartitionDistribution reports item count per partition — restored
// from original_source/libs/distributed_queue_manager.py's
// get_partition_distribution, dropped from the distilled spec.
func (m *Manager) GetPartitionDistribution() map[int]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.partitioned {
		return map[int]int{}
	}
	out := make(map[int]int, len(m.partitions))
	for p, h := range m.partitions {
		out[p] = h.Len()
	}
	return out
}

func (m *Manager) EnablePersistence(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistenceEnabled = true
	m.persistencePath = path
}

// SetCodec overrides the persistence codec (default JSONCodec).
func (m *Manager) SetCodec(c Codec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codec = c
}

func (m *Manager) SetRateLimit(itemsPerSecond float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitPerSec = itemsPerSecond
}

func (m *Manager) ConfigureCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breaker = NewCircuitBreaker(failureThreshold, recoveryTimeout, m.clk)
}

func (m *Manager) SetAlertThreshold(metric string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertThresholds[metric] = value
}

func (m *Manager) GetActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.activeAlerts))
	copy(out, m.activeAlerts)
	return out
}

// checkAlertsLocked recomputes the active alert list — no deduplication
// across evaluations, per §4.4.
func (m *Manager) checkAlertsLocked() {
	m.activeAlerts = nil
	now := m.clk.Now()

	if threshold, ok := m.alertThresholds["size"]; ok {
		if size := m.totalSizeLocked(); float64(size) > threshold {
			m.activeAlerts = append(m.activeAlerts, Alert{
				Type:      "size_threshold",
				Message:   fmt.Sprintf("queue size %d exceeds threshold %.0f", size, threshold),
				Timestamp: now,
			})
		}
	}
	if threshold, ok := m.alertThresholds["wait_time"]; ok {
		if m.metrics.AvgWaitTime.Seconds() > threshold {
			m.activeAlerts = append(m.activeAlerts, Alert{
				Type:      "wait_time_threshold",
				Message:   fmt.Sprintf("avg wait time %.2fs exceeds threshold %.2fs", m.metrics.AvgWaitTime.Seconds(), threshold),
				Timestamp: now,
			})
		}
	}
}

// --- persistence (§4.4, §6) ---

func (m *Manager) SaveState() error {
	m.mu.Lock()
	if !m.persistenceEnabled {
		m.mu.Unlock()
		return nil
	}
	doc := stateDoc{Queue: make([]itemDict, 0, m.heap.Len())}
	for _, it := range m.heap.Snapshot() {
		doc.Queue = append(doc.Queue, itemToDict(it))
	}
	doc.Metrics.TotalEnqueued = m.metrics.TotalEnqueued
	doc.Metrics.TotalDequeued = m.metrics.TotalDequeued
	codec := m.codec
	path := m.persistencePath
	m.mu.Unlock()

	data, err := codec.Encode(doc)
	if err != nil {
		m.log.WithError(err).Error("failed to encode queue state")
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		m.log.WithError(err).Error("failed to write queue state")
		return err
	}
	return nil
}

// RestoreState rebuilds the heap from path, preserving priority order;
// sequence numbers are reassigned in scan order. Failure is recovered
// locally, logged, and leaves the queue empty — it never raises, per §4.4.
func (m *Manager) RestoreState(path string) error {
	empty := func() {
		m.mu.Lock()
		m.heap = newCoreHeap()
		for p := range m.partitions {
			m.partitions[p] = newCoreHeap()
		}
		m.mu.Unlock()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		m.log.WithError(err).Error("failed to restore queue state")
		empty()
		return nil
	}

	m.mu.Lock()
	codec := m.codec
	m.mu.Unlock()

	var doc stateDoc
	if err := codec.Decode(data, &doc); err != nil {
		m.log.WithError(err).Error("failed to decode queue state")
		empty()
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.heap = newCoreHeap()
	m.nextSequence = 0
	for _, d := range doc.Queue {
		item := dictToItem(d)
		item.sequence = m.nextSequence
		m.nextSequence++
		m.heap.Push(item)
	}
	m.metrics.TotalEnqueued = doc.Metrics.TotalEnqueued
	m.metrics.TotalDequeued = doc.Metrics.TotalDequeued
	return nil
}
