// Package rollup derives status/progress summaries for milestones and
// workstreams from the lifecycle buckets of their member tasks. Rollups are
// always recomputed from the full member set, never patched incrementally.
package rollup

import (
	"math"

	"github.com/driftcode/dispatch/internal/task"
)

// Vocabulary holds the level-specific status strings for a rollup. The
// derivation rule is identical at both levels; only the words differ.
type Vocabulary struct {
	Empty      string // no member tasks
	Terminal   string // all members done
	AtRisk     string // blocked members and nothing active
	InProgress string // active or done members
}

// MilestoneVocab is the status vocabulary for milestone rollups.
var MilestoneVocab = Vocabulary{
	Empty:      "planned",
	Terminal:   "completed",
	AtRisk:     "at_risk",
	InProgress: "in_progress",
}

// WorkstreamVocab is the status vocabulary for workstream rollups.
var WorkstreamVocab = Vocabulary{
	Empty:      "not_started",
	Terminal:   "done",
	AtRisk:     "blocked",
	InProgress: "active",
}

// Rollup is a derived summary of a container's member task states.
type Rollup struct {
	Done        int    `json:"done"`
	Blocked     int    `json:"blocked"`
	Active      int    `json:"active"`
	Todo        int    `json:"todo"`
	Total       int    `json:"total"`
	ProgressPct int    `json:"progress_pct"`
	Status      string `json:"status"`
}

// Equal reports whether two rollups would propagate identically.
func (r Rollup) Equal(o Rollup) bool {
	return r == o
}

// Compute derives a rollup from the multiset of member buckets. The result
// depends only on the multiset, not on order.
func Compute(buckets []task.Bucket, vocab Vocabulary) Rollup {
	var r Rollup
	r.Total = len(buckets)
	for _, b := range buckets {
		switch b {
		case task.BucketDone:
			r.Done++
		case task.BucketBlocked:
			r.Blocked++
		case task.BucketActive:
			r.Active++
		default:
			r.Todo++
		}
	}

	if r.Total > 0 {
		r.ProgressPct = int(math.Round(float64(r.Done) / float64(r.Total) * 100))
	}

	switch {
	case r.Total == 0:
		r.Status = vocab.Empty
	case r.Done == r.Total:
		r.Status = vocab.Terminal
	case r.Blocked > 0 && r.Active == 0:
		r.Status = vocab.AtRisk
	case r.Active > 0 || r.Done > 0:
		r.Status = vocab.InProgress
	default:
		r.Status = vocab.Empty
	}
	return r
}
