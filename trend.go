package main

type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// classifyTrend compares the oldest and newest usage readings in the window.
// Deltas within the noise band classify as stable, as does any window with
// fewer than two samples.
func classifyTrend(window []uint64, noisePercent float64) Trend {
	if len(window) < 2 {
		return TrendStable
	}

	oldest := window[0]
	newest := window[len(window)-1]
	if oldest == 0 {
		if newest == 0 {
			return TrendStable
		}
		return TrendIncreasing
	}

	delta := (float64(newest) - float64(oldest)) / float64(oldest) * 100
	switch {
	case delta > noisePercent:
		return TrendIncreasing
	case delta < -noisePercent:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// growthSuspected reports sustained monotonic growth: the window must be at
// full capacity, every consecutive pair non-decreasing, and the total growth
// across the window at least minGrowthBytes. A single decrease anywhere in
// the window resets the suspicion.
func growthSuspected(window []uint64, capacity int, minGrowthBytes uint64) bool {
	if capacity < 2 || len(window) < capacity {
		return false
	}
	for i := 1; i < len(window); i++ {
		if window[i] < window[i-1] {
			return false
		}
	}
	return window[len(window)-1]-window[0] >= minGrowthBytes
}
