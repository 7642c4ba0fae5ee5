// Package report is the thin adapter through which the dispatcher mutates
// and notifies the orchestration service. Every call here is best-effort:
// failures are logged and swallowed so observability can never stall the
// dispatch loop.
package report

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/zeebo/blake3"

	"github.com/driftcode/dispatch/internal/orch"
	"github.com/driftcode/dispatch/internal/rollup"
)

// Reporter pushes progress events, status changesets, and decision requests.
type Reporter struct {
	client orch.Client
	jobID  string
	runID  string
	dryRun bool
	logger *slog.Logger
}

// New creates a Reporter for one job execution.
func New(client orch.Client, jobID string, dryRun bool, logger *slog.Logger) *Reporter {
	return &Reporter{client: client, jobID: jobID, dryRun: dryRun, logger: logger}
}

// RunID returns the run id captured from the first successful emission, or
// "" if none has succeeded yet.
func (r *Reporter) RunID() string {
	return r.runID
}

// SetJobID installs the job id once it is known. A resumed job keeps the id
// from its snapshot, so the scheduler sets this after resolving state.
func (r *Reporter) SetJobID(id string) {
	r.jobID = id
}

// IdempotencyKey derives a stable key for one logical status transition so
// the service can drop replays.
func IdempotencyKey(jobID, taskID, status string, attempt int) string {
	h := blake3.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", jobID, taskID, status, attempt)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Emit publishes a progress event, capturing the run id on first success.
func (r *Reporter) Emit(ctx context.Context, kind string, payload map[string]any) {
	if r.dryRun {
		r.logger.Info("dry-run: suppressing activity", "kind", kind)
		return
	}
	runID, err := r.client.EmitActivity(ctx, orch.Activity{
		JobID:   r.jobID,
		RunID:   r.runID,
		Kind:    kind,
		Payload: payload,
		At:      time.Now().UTC(),
	})
	if err != nil {
		r.logger.Warn("emit activity failed", "kind", kind, "error", err)
		return
	}
	if r.runID == "" && runID != "" {
		r.runID = runID
	}
}

// ApplyChangeset applies a batch of idempotent operations.
func (r *Reporter) ApplyChangeset(ctx context.Context, ops []orch.ChangeOp) {
	if len(ops) == 0 {
		return
	}
	if r.dryRun {
		r.logger.Info("dry-run: suppressing changeset", "ops", len(ops))
		return
	}
	if err := r.client.ApplyChangeset(ctx, ops); err != nil {
		r.logger.Warn("apply changeset failed", "ops", len(ops), "error", err)
	}
}

// TaskStatus pushes a task status transition as an idempotent changeset op.
func (r *Reporter) TaskStatus(ctx context.Context, taskID, status string, attempt int, reason string) {
	patch := map[string]any{"status": status}
	if reason != "" {
		patch["status_reason"] = reason
	}
	r.ApplyChangeset(ctx, []orch.ChangeOp{{
		Op:             "update",
		EntityType:     orch.EntityTask,
		EntityID:       taskID,
		Patch:          patch,
		IdempotencyKey: IdempotencyKey(r.jobID, taskID, status, attempt),
	}})
}

// MilestoneStatus pushes a recomputed milestone rollup.
func (r *Reporter) MilestoneStatus(ctx context.Context, id string, ru rollup.Rollup, triggerTaskID string) {
	r.entityRollup(ctx, orch.EntityMilestone, id, ru, triggerTaskID)
}

// WorkstreamStatus pushes a recomputed workstream rollup.
func (r *Reporter) WorkstreamStatus(ctx context.Context, id string, ru rollup.Rollup, triggerTaskID string) {
	r.entityRollup(ctx, orch.EntityWorkstream, id, ru, triggerTaskID)
}

func (r *Reporter) entityRollup(ctx context.Context, t orch.EntityType, id string, ru rollup.Rollup, triggerTaskID string) {
	if r.dryRun {
		r.logger.Info("dry-run: suppressing rollup update",
			"entity", string(t), "id", id, "status", ru.Status, "progress_pct", ru.ProgressPct)
		return
	}
	patch := map[string]any{
		"status":       ru.Status,
		"progress_pct": ru.ProgressPct,
		"rollup":       ru,
		"trigger_task": triggerTaskID,
	}
	if err := r.client.UpdateEntity(ctx, t, id, patch); err != nil {
		r.logger.Warn("rollup update failed", "entity", string(t), "id", id, "error", err)
	}
}

// RequestDecision raises a human decision request, typically when a task
// becomes terminally blocked.
func (r *Reporter) RequestDecision(ctx context.Context, title, summary string, options []string, blocking bool) {
	if r.dryRun {
		r.logger.Info("dry-run: suppressing decision request", "title", title)
		return
	}
	r.ApplyChangeset(ctx, []orch.ChangeOp{{
		Op:         "create",
		EntityType: "decision",
		Patch: map[string]any{
			"title":    title,
			"summary":  summary,
			"options":  options,
			"blocking": blocking,
			"run_id":   r.runID,
		},
		IdempotencyKey: IdempotencyKey(r.jobID, title, "decision", 0),
	}})
}
