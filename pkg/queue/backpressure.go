package queue

import "sync"

// BackpressureController (C7) is threshold-based admission control: once
// size/max crosses Threshold the controller goes active and Enqueue fails
// until the ratio drops back below Threshold. There is deliberately no
// separate low-watermark — per §9's resolved open question the spec picks
// the simpler single-threshold design; callers that want hysteresis can
// layer a low-watermark externally without breaking this contract.
type BackpressureController struct {
	mu              sync.Mutex
	threshold       float64
	active          bool
	activationCount int64
}

// NewBackpressureController creates a controller with the given
// threshold in (0,1). Defaults to 0.8 if threshold is not in range.
func NewBackpressureController(threshold float64) *BackpressureController {
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.8
	}
	return &BackpressureController{threshold: threshold}
}

// CheckPressure evaluates current/max against the threshold, updates the
// active state on edge transitions, and returns the (possibly new) active
// state.
func (b *BackpressureController) CheckPressure(size, max int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ratio float64
	if max > 0 {
		ratio = float64(size) / float64(max)
	}
	shouldActivate := ratio >= b.threshold

	if shouldActivate && !b.active {
		b.active = true
		b.activationCount++
	} else if !shouldActivate && b.active {
		b.active = false
	}
	return b.active
}

func (b *BackpressureController) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *BackpressureController) ActivationCount() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activationCount
}
