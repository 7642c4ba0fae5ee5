package task

import (
	"sort"
	"time"
)

// QueueOpts controls which tasks enter the execution queue.
type QueueOpts struct {
	// WorkstreamIDs restricts the queue to tasks in these workstreams.
	// Empty means no workstream filter.
	WorkstreamIDs []string
	// TaskIDs restricts the queue to exactly these tasks. Tasks selected by
	// id are included even when classified done.
	TaskIDs []string
	// IncludeDone keeps done-classified tasks in the queue.
	IncludeDone bool
}

// BuildQueue filters and orders tasks into deterministic dispatch order:
// lifecycle weight, then due date (missing sorts last), then priority rank,
// then sequence, then title. Two runs over the same input always produce the
// same order regardless of input ordering.
func BuildQueue(tasks []Task, opts QueueOpts) []Task {
	wsSet := toSet(opts.WorkstreamIDs)
	idSet := toSet(opts.TaskIDs)

	var queue []Task
	for _, t := range tasks {
		explicit := idSet[t.ID]
		if len(idSet) > 0 && !explicit {
			continue
		}
		if len(wsSet) > 0 && !wsSet[t.WorkstreamID] && !explicit {
			continue
		}
		if t.Bucket() == BucketDone && !opts.IncludeDone && !explicit {
			continue
		}
		queue = append(queue, t)
	}

	sort.SliceStable(queue, func(i, j int) bool {
		return Less(&queue[i], &queue[j])
	})
	return queue
}

// Less reports whether a dispatches before b.
func Less(a, b *Task) bool {
	if wa, wb := sortWeight(a.Bucket()), sortWeight(b.Bucket()); wa != wb {
		return wa < wb
	}
	if c := compareDue(a.DueDate, b.DueDate); c != 0 {
		return c < 0
	}
	if ra, rb := PriorityRank(a.Priority), PriorityRank(b.Priority); ra != rb {
		return ra < rb
	}
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return a.Title < b.Title
}

// sortWeight orders lifecycle buckets for dispatch: in-flight work first,
// then fresh work, then blocked, then everything else.
func sortWeight(b Bucket) int {
	switch b {
	case BucketActive:
		return 0
	case BucketTodo:
		return 1
	case BucketBlocked:
		return 2
	default:
		return 3
	}
}

// compareDue orders due dates ascending with nil (no due date) last.
func compareDue(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case b.Before(*a):
		return 1
	}
	return 0
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
