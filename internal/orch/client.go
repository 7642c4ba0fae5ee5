// Package orch defines the narrow client surface the dispatcher consumes from
// the orchestration service. The dispatcher never assumes a transport; it
// depends on the Client interface and receives a concrete implementation at
// wiring time.
package orch

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// EntityType names the entity collections exposed by the orchestration service.
type EntityType string

const (
	EntityTask       EntityType = "task"
	EntityMilestone  EntityType = "milestone"
	EntityWorkstream EntityType = "workstream"
)

// ErrGuardUnsupported marks a spawn-guard endpoint the service does not
// implement. Callers treat it like any other guard transport error but log it
// distinctly.
var ErrGuardUnsupported = errors.New("spawn guard endpoint not supported")

// Filter narrows an entity listing.
type Filter struct {
	ScopeID string
	IDs     []string
}

// ChangeOp is one idempotent operation inside a changeset batch. Replaying an
// op with the same idempotency key is a no-op at the service.
type ChangeOp struct {
	Op             string         `json:"op"`
	EntityType     EntityType     `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	Patch          map[string]any `json:"patch,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// Activity is a progress event emitted during a job run.
type Activity struct {
	JobID   string         `json:"job_id"`
	RunID   string         `json:"run_id,omitempty"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// GuardVerdict is the outcome of an admission check before a worker spawn.
type GuardVerdict struct {
	Allowed      bool   `json:"allowed"`
	RateLimitOK  bool   `json:"rate_limit_ok"`
	QualityOK    bool   `json:"quality_ok"`
	AssignmentOK bool   `json:"assignment_ok"`
	Reason       string `json:"reason,omitempty"`
}

// Client is the injected interface into the orchestration service.
type Client interface {
	// ListEntities returns raw entity records of the given type in scope.
	ListEntities(ctx context.Context, t EntityType, f Filter) ([]json.RawMessage, error)
	// UpdateEntity applies a partial patch to one entity.
	UpdateEntity(ctx context.Context, t EntityType, id string, patch map[string]any) error
	// ApplyChangeset applies a batch of idempotent operations.
	ApplyChangeset(ctx context.Context, ops []ChangeOp) error
	// EmitActivity publishes a progress event and returns the server-assigned
	// run id correlating subsequent events.
	EmitActivity(ctx context.Context, a Activity) (runID string, err error)
	// CheckSpawnGuard asks whether a worker may be spawned for the task.
	CheckSpawnGuard(ctx context.Context, domain, taskID string) (*GuardVerdict, error)
}
