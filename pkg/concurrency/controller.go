package concurrency

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskgrid/corepool/internal/clock"
	"github.com/taskgrid/corepool/internal/logging"
)

const (
	defaultCooldown             = 30 * time.Second
	defaultQueueThreshold       = 50
	defaultTargetProcessingTime = 2.0
	defaultAdjustInterval       = 10 * time.Second
	historyCap                  = 200
)

// Config configures a Controller.
type Config struct {
	MinWorkers            int
	MaxWorkers            int
	TargetCPUPercent      float64
	TargetMemoryPercent   float64
	Strategy              Strategy
	QueueThreshold        int
	TargetProcessingTime  float64
	CooldownPeriod        time.Duration
	AdjustmentInterval    time.Duration
	Clock                 clock.Clock
	Logger                *logrus.Logger
}

func DefaultConfig() Config {
	return Config{
		MinWorkers:           1,
		MaxWorkers:           10,
		TargetCPUPercent:     70.0,
		TargetMemoryPercent:  80.0,
		Strategy:             StrategyBalanced,
		QueueThreshold:       defaultQueueThreshold,
		TargetProcessingTime: defaultTargetProcessingTime,
		CooldownPeriod:       defaultCooldown,
		AdjustmentInterval:   defaultAdjustInterval,
	}
}

// Controller is the Adaptive Concurrency Controller (C12): it evaluates
// resource and queue pressure against configured targets and produces
// scale-up/scale-down decisions, gated by a cooldown and a non-blocking
// scaling lock so overlapping evaluations never stack.
type Controller struct {
	cfg Config
	clk clock.Clock
	log *logrus.Entry

	mu             sync.RWMutex
	currentWorkers int
	lastScalingAt  time.Time
	hasScaled      bool
	history        []HistoryEntry

	scalingLock sync.Mutex
	predictor   *Predictor
}

func New(cfg Config) *Controller {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyBalanced
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = defaultCooldown
	}
	if cfg.AdjustmentInterval <= 0 {
		cfg.AdjustmentInterval = defaultAdjustInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Controller{
		cfg:            cfg,
		clk:            clk,
		log:            logging.Named(cfg.Logger, "concurrency"),
		currentWorkers: cfg.MinWorkers,
		predictor:      NewPredictor(),
	}
}

func (c *Controller) CurrentWorkers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentWorkers
}

func (c *Controller) inCooldown() bool {
	if !c.hasScaled {
		return false
	}
	return c.clk.Now().Sub(c.lastScalingAt) < c.cfg.CooldownPeriod
}

// ShouldScaleUp evaluates the scale-up triggers against the configured
// targets. Triggers: CPU above target+10, memory above target+5, queue
// size above threshold, average processing time above target.
func (c *Controller) ShouldScaleUp(m Metrics) Decision {
	c.mu.RLock()
	current := c.currentWorkers
	cooldown := c.inCooldown()
	c.mu.RUnlock()

	if current >= c.cfg.MaxWorkers {
		return Decision{false, DirectionStable, current, "already at max workers"}
	}
	if cooldown {
		return Decision{false, DirectionStable, current, "in cooldown period"}
	}

	var reasons []string
	if m.CPUPercent > c.cfg.TargetCPUPercent+10 {
		reasons = append(reasons, "high cpu usage")
	}
	if m.MemoryPercent > c.cfg.TargetMemoryPercent+5 {
		reasons = append(reasons, "high memory usage")
	}
	if m.QueueSize > c.cfg.QueueThreshold {
		reasons = append(reasons, "high queue size")
	}
	if m.AvgProcessingTime > c.cfg.TargetProcessingTime {
		reasons = append(reasons, "high processing time")
	}

	if len(reasons) == 0 {
		return Decision{false, DirectionStable, current, "metrics within target"}
	}

	var increment int
	switch c.cfg.Strategy {
	case StrategyAggressive:
		increment = min(2, c.cfg.MaxWorkers-current)
	case StrategyConservative:
		increment = 1
	default:
		if len(reasons) == 1 {
			increment = 1
		} else {
			increment = 2
		}
	}

	newCount := min(current+increment, c.cfg.MaxWorkers)
	return Decision{true, DirectionUp, newCount, joinReasons(reasons)}
}

// ShouldScaleDown evaluates under-utilization: CPU, memory, and queue
// size must ALL be significantly below target simultaneously.
func (c *Controller) ShouldScaleDown(m Metrics) Decision {
	c.mu.RLock()
	current := c.currentWorkers
	cooldown := c.inCooldown()
	c.mu.RUnlock()

	if current <= c.cfg.MinWorkers {
		return Decision{false, DirectionStable, current, "already at min workers"}
	}
	if cooldown {
		return Decision{false, DirectionStable, current, "in cooldown period"}
	}

	underUtilized := m.CPUPercent < c.cfg.TargetCPUPercent-20 &&
		m.MemoryPercent < c.cfg.TargetMemoryPercent-20 &&
		float64(m.QueueSize) < float64(c.cfg.QueueThreshold)/2

	if !underUtilized {
		return Decision{false, DirectionStable, current, "metrics within target"}
	}

	newCount := max(current-1, c.cfg.MinWorkers)
	return Decision{true, DirectionDown, newCount, "low resource utilization"}
}

// Apply applies a scaling decision, returning false without error if
// another Apply is already in flight (a non-blocking try-lock) or if
// the decision says not to scale.
func (c *Controller) Apply(decision Decision, metrics Metrics) bool {
	if !decision.ShouldScale {
		return false
	}
	if !c.scalingLock.TryLock() {
		return false
	}
	defer c.scalingLock.Unlock()

	now := c.clk.Now()

	c.mu.Lock()
	c.currentWorkers = decision.NewWorkerCount
	c.lastScalingAt = now
	c.hasScaled = true
	entry := HistoryEntry{
		Timestamp: now,
		Direction: decision.Direction,
		NewCount:  decision.NewWorkerCount,
		Reason:    decision.Reason,
		Metrics:   metrics,
	}
	c.history = append(c.history, entry)
	if len(c.history) > historyCap {
		c.history = c.history[len(c.history)-historyCap:]
	}
	c.mu.Unlock()

	c.predictor.AddObservation(metrics, decision.Direction)

	c.log.WithFields(logrus.Fields{
		"direction": decision.Direction,
		"workers":   decision.NewWorkerCount,
		"reason":    decision.Reason,
	}).Info("scaled worker pool")

	return true
}

// PredictOptimalWorkers delegates to the nearest-neighbor predictor.
func (c *Controller) PredictOptimalWorkers(metrics Metrics) int {
	return c.predictor.PredictOptimalWorkers(metrics, c.cfg.MinWorkers, c.cfg.MaxWorkers)
}

// History returns the most recent scaling decisions, newest first.
func (c *Controller) History(limit int) []HistoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := len(c.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]HistoryEntry, limit)
	for i := 0; i < limit; i++ {
		out[i] = c.history[n-1-i]
	}
	return out
}

// Reset restores the controller to its initial worker count and clears
// history and the predictor, without rebinding its configuration.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentWorkers = c.cfg.MinWorkers
	c.history = nil
	c.hasScaled = false
	c.predictor = NewPredictor()
}

// ExportMetrics reports controller state for monitoring.
func (c *Controller) ExportMetrics() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var lastScaling any
	if c.hasScaled {
		lastScaling = c.lastScalingAt
	}

	return map[string]any{
		"current_workers":       c.currentWorkers,
		"min_workers":           c.cfg.MinWorkers,
		"max_workers":           c.cfg.MaxWorkers,
		"target_cpu_percent":    c.cfg.TargetCPUPercent,
		"target_memory_percent": c.cfg.TargetMemoryPercent,
		"scaling_strategy":      c.cfg.Strategy,
		"scaling_history_count": len(c.history),
		"last_scaling_at":       lastScaling,
	}
}

func joinReasons(reasons []string) string {
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += ", " + r
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
