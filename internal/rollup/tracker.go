package rollup

import "github.com/driftcode/dispatch/internal/task"

// Change describes a rollup that differs from the last value handed out for
// the same container.
type Change struct {
	ID        string
	Level     string // "milestone" or "workstream"
	Before    Rollup
	After     Rollup
	TriggerID string // task whose transition triggered the recompute
}

// Tracker recomputes rollups for tracked milestones and workstreams and
// remembers the last value it reported for each, so callers only propagate
// genuine changes. Propagation happens at-least-once per distinct value and
// never for an unchanged one.
type Tracker struct {
	milestones  []task.Milestone
	workstreams []task.Workstream
	msByID      map[string]task.Milestone
	lastMS      map[string]Rollup
	lastWS      map[string]Rollup
}

// NewTracker creates a Tracker for the given containers.
func NewTracker(milestones []task.Milestone, workstreams []task.Workstream) *Tracker {
	t := &Tracker{
		milestones:  milestones,
		workstreams: workstreams,
		msByID:      make(map[string]task.Milestone, len(milestones)),
		lastMS:      make(map[string]Rollup),
		lastWS:      make(map[string]Rollup),
	}
	for _, m := range milestones {
		t.msByID[m.ID] = m
	}
	return t
}

// Seed installs previously propagated rollups, typically loaded from a
// resumed job snapshot, so an unchanged rollup is not re-sent after restart.
func (t *Tracker) Seed(milestones, workstreams map[string]Rollup) {
	for id, r := range milestones {
		t.lastMS[id] = r
	}
	for id, r := range workstreams {
		t.lastWS[id] = r
	}
}

// Snapshot returns copies of the last-propagated rollups for persistence.
func (t *Tracker) Snapshot() (milestones, workstreams map[string]Rollup) {
	milestones = make(map[string]Rollup, len(t.lastMS))
	for id, r := range t.lastMS {
		milestones[id] = r
	}
	workstreams = make(map[string]Rollup, len(t.lastWS))
	for id, r := range t.lastWS {
		workstreams[id] = r
	}
	return milestones, workstreams
}

// Recompute rebuilds every tracked rollup from the full task set and returns
// the ones that changed since they were last reported. triggerID names the
// task whose transition caused the recompute.
func (t *Tracker) Recompute(tasks []task.Task, triggerID string) []Change {
	var changes []Change

	for _, m := range t.milestones {
		var buckets []task.Bucket
		for i := range tasks {
			if tasks[i].MilestoneID == m.ID {
				buckets = append(buckets, tasks[i].Bucket())
			}
		}
		after := Compute(buckets, MilestoneVocab)
		before, seen := t.lastMS[m.ID]
		if seen && before.Equal(after) {
			continue
		}
		t.lastMS[m.ID] = after
		changes = append(changes, Change{
			ID: m.ID, Level: "milestone", Before: before, After: after, TriggerID: triggerID,
		})
	}

	for _, ws := range t.workstreams {
		var buckets []task.Bucket
		for i := range tasks {
			if t.inWorkstream(&tasks[i], ws.ID) {
				buckets = append(buckets, tasks[i].Bucket())
			}
		}
		after := Compute(buckets, WorkstreamVocab)
		before, seen := t.lastWS[ws.ID]
		if seen && before.Equal(after) {
			continue
		}
		t.lastWS[ws.ID] = after
		changes = append(changes, Change{
			ID: ws.ID, Level: "workstream", Before: before, After: after, TriggerID: triggerID,
		})
	}

	return changes
}

// inWorkstream reports membership either by direct link or via the task's
// milestone.
func (t *Tracker) inWorkstream(tk *task.Task, wsID string) bool {
	if tk.WorkstreamID == wsID {
		return true
	}
	if tk.MilestoneID == "" {
		return false
	}
	m, ok := t.msByID[tk.MilestoneID]
	return ok && m.WorkstreamID == wsID
}
