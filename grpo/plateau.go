package grpo

import "slices"

// float slack for threshold comparisons: 0.805-0.795 is slightly above 0.01 in binary
const plateauTolerance = 1e-9

type PlateauStatus struct {
	Plateau bool `json:"plateau"`
	// Stop is Plateau and the latest score at or above the minimum success rate
	Stop   bool      `json:"stop"`
	Window []float64 `json:"window"`
}

// PlateauDetector tracks the last `patience` evaluation scores.
// It is owned by a single trainer and is not safe for concurrent use.
type PlateauDetector struct {
	patience       int
	threshold      float64
	minSuccessRate float64
	window         []float64
}

func NewPlateauDetector(patience int, threshold, minSuccessRate float64) *PlateauDetector {
	return &PlateauDetector{
		patience:       max(patience, 1),
		threshold:      threshold,
		minSuccessRate: minSuccessRate,
		window:         make([]float64, 0, max(patience, 1)),
	}
}

func (d *PlateauDetector) Observe(score float64) PlateauStatus {
	d.window = append(d.window, score)
	if len(d.window) > d.patience {
		d.window = slices.Delete(d.window, 0, len(d.window)-d.patience)
	}
	status := PlateauStatus{Window: slices.Clone(d.window)}
	if len(d.window) < d.patience {
		return status
	}
	spread := slices.Max(d.window) - slices.Min(d.window)
	status.Plateau = spread <= d.threshold+plateauTolerance
	status.Stop = status.Plateau && score >= d.minSuccessRate
	return status
}

func (d *PlateauDetector) Reset() {
	d.window = d.window[:0]
}
