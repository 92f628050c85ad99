package concurrency

const (
	predictorHistoryCap  = 1000
	predictorMinObserved = 10
	similarityBand       = 10.0
)

type observation struct {
	metrics  Metrics
	decision Direction
}

// Predictor is a nearest-neighbor workload predictor: once enough
// observations have accumulated it averages the worker count used in
// past situations with similar CPU/memory load, rather than applying
// the trigger thresholds directly.
type Predictor struct {
	history []observation
}

func NewPredictor() *Predictor {
	return &Predictor{}
}

func (p *Predictor) AddObservation(m Metrics, decision Direction) {
	p.history = append(p.history, observation{metrics: m, decision: decision})
	if len(p.history) > predictorHistoryCap {
		p.history = p.history[len(p.history)-predictorHistoryCap:]
	}
}

// PredictOptimalWorkers returns a suggested worker count. With fewer
// than predictorMinObserved observations it falls back to a simple
// heuristic on CPU load; otherwise it averages the worker count across
// past observations whose CPU and memory both landed within
// similarityBand of the current reading.
func (p *Predictor) PredictOptimalWorkers(current Metrics, minWorkers, maxWorkers int) int {
	if len(p.history) < predictorMinObserved {
		switch {
		case current.CPUPercent > 80:
			return clamp(current.ActiveWorkers+2, minWorkers, maxWorkers)
		case current.CPUPercent < 40:
			return clamp(current.ActiveWorkers-1, minWorkers, maxWorkers)
		default:
			return current.ActiveWorkers
		}
	}

	var sum, count int
	for _, obs := range p.history {
		cpuDiff := abs(obs.metrics.CPUPercent - current.CPUPercent)
		memDiff := abs(obs.metrics.MemoryPercent - current.MemoryPercent)
		if cpuDiff < similarityBand && memDiff < similarityBand {
			sum += obs.metrics.ActiveWorkers
			count++
		}
	}

	if count == 0 {
		return current.ActiveWorkers
	}

	optimal := sum / count
	return clamp(optimal, minWorkers, maxWorkers)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
