// Package resource decides whether the host is too loaded to spawn more
// workers. Evaluation is a pure function over a point sample; sampling itself
// is an injected dependency so callers can test the decision logic directly.
package resource

import "fmt"

// Sample is a point-in-time reading of host load and memory.
type Sample struct {
	CPUCount      int
	Load1         float64
	FreeMemBytes  uint64
	TotalMemBytes uint64
}

// Thresholds are the limits beyond which new spawns are throttled.
type Thresholds struct {
	MaxLoadRatio    float64
	MinFreeMemBytes uint64
	MinFreeMemRatio float64
}

// Decision is the outcome of evaluating a sample against thresholds.
type Decision struct {
	Throttle bool
	Reasons  []string
}

// Evaluate compares a sample against thresholds. A reading exactly at a
// threshold does not throttle; only readings strictly beyond one do. Each
// violated threshold contributes a reason naming it.
func Evaluate(s Sample, t Thresholds) Decision {
	var d Decision

	if t.MaxLoadRatio > 0 && s.CPUCount > 0 {
		loadRatio := s.Load1 / float64(s.CPUCount)
		if loadRatio > t.MaxLoadRatio {
			d.Reasons = append(d.Reasons, fmt.Sprintf(
				"load ratio %.2f exceeds max_load_ratio %.2f", loadRatio, t.MaxLoadRatio))
		}
	}

	if t.MinFreeMemBytes > 0 && s.FreeMemBytes < t.MinFreeMemBytes {
		d.Reasons = append(d.Reasons, fmt.Sprintf(
			"free memory %d MB below min_free_mem_mb %d MB",
			s.FreeMemBytes/(1024*1024), t.MinFreeMemBytes/(1024*1024)))
	}

	if t.MinFreeMemRatio > 0 && s.TotalMemBytes > 0 {
		freeRatio := float64(s.FreeMemBytes) / float64(s.TotalMemBytes)
		if freeRatio < t.MinFreeMemRatio {
			d.Reasons = append(d.Reasons, fmt.Sprintf(
				"free memory ratio %.3f below min_free_mem_ratio %.3f", freeRatio, t.MinFreeMemRatio))
		}
	}

	d.Throttle = len(d.Reasons) > 0
	return d
}
