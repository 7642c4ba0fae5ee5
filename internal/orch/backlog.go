package orch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/driftcode/dispatch/internal/task"
)

// Backlog is the full work-item hierarchy for one scope.
type Backlog struct {
	Tasks       []task.Task
	Milestones  []task.Milestone
	Workstreams []task.Workstream
}

// FetchBacklog pulls tasks, milestones, and workstreams for a scope. Any
// listing failure here is fatal for the job; the loop never starts without a
// complete backlog.
func FetchBacklog(ctx context.Context, c Client, scopeID string) (*Backlog, error) {
	f := Filter{ScopeID: scopeID}
	var b Backlog

	raw, err := c.ListEntities(ctx, EntityTask, f)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	for _, r := range raw {
		var t task.Task
		if err := json.Unmarshal(r, &t); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		b.Tasks = append(b.Tasks, t)
	}

	raw, err = c.ListEntities(ctx, EntityMilestone, f)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	for _, r := range raw {
		var m task.Milestone
		if err := json.Unmarshal(r, &m); err != nil {
			return nil, fmt.Errorf("decode milestone: %w", err)
		}
		b.Milestones = append(b.Milestones, m)
	}

	raw, err = c.ListEntities(ctx, EntityWorkstream, f)
	if err != nil {
		return nil, fmt.Errorf("list workstreams: %w", err)
	}
	for _, r := range raw {
		var ws task.Workstream
		if err := json.Unmarshal(r, &ws); err != nil {
			return nil, fmt.Errorf("decode workstream: %w", err)
		}
		b.Workstreams = append(b.Workstreams, ws)
	}

	return &b, nil
}
