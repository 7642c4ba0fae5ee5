// Package admission wraps the orchestration service's spawn-guard check. The
// guard gates every worker spawn on three external checks: rate limit,
// quality gate, and task assignment.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/driftcode/dispatch/internal/orch"
)

// Guard modes. Fail-open trades strict policy enforcement for availability
// when the guard endpoint itself is unreachable; strict turns those failures
// into terminal denials.
const (
	ModeFailOpen = "fail-open"
	ModeStrict   = "strict"
)

// Outcome classifies a guard decision for the scheduler.
type Outcome int

const (
	// Allowed permits the spawn.
	Allowed Outcome = iota
	// DeniedRetryable re-queues the task with backoff, consuming an attempt.
	// Only a failed rate-limit check with all other checks passing lands here.
	DeniedRetryable
	// DeniedTerminal blocks the task without another attempt.
	DeniedTerminal
)

// Decision is the guard's answer for one prospective spawn.
type Decision struct {
	Outcome Outcome
	Reason  string
}

// Guard consults the external admission check before each dispatch.
type Guard struct {
	client orch.Client
	mode   string
	logger *slog.Logger
}

// New creates a Guard. Unknown modes behave as fail-open.
func New(client orch.Client, mode string, logger *slog.Logger) *Guard {
	if mode != ModeStrict {
		mode = ModeFailOpen
	}
	return &Guard{client: client, mode: mode, logger: logger}
}

// Check runs the admission check for one task. Transport errors fail open
// unless the guard is in strict mode; an unsupported endpoint is logged
// distinctly from a failed call but follows the same control flow.
func (g *Guard) Check(ctx context.Context, domain, taskID string) Decision {
	verdict, err := g.client.CheckSpawnGuard(ctx, domain, taskID)
	if err != nil {
		if errors.Is(err, orch.ErrGuardUnsupported) {
			g.logger.Warn("spawn guard endpoint unsupported", "task_id", taskID, "error", err)
		} else {
			g.logger.Warn("spawn guard call failed", "task_id", taskID, "error", err)
		}
		if g.mode == ModeStrict {
			return Decision{Outcome: DeniedTerminal, Reason: fmt.Sprintf("guard unreachable in strict mode: %v", err)}
		}
		return Decision{Outcome: Allowed, Reason: "guard unreachable, failing open"}
	}

	if verdict.Allowed {
		return Decision{Outcome: Allowed}
	}

	// Rate limiting is the only retryable denial, and only when the other
	// checks pass.
	if !verdict.RateLimitOK && verdict.QualityOK && verdict.AssignmentOK {
		return Decision{Outcome: DeniedRetryable, Reason: denialReason(verdict, "rate limited")}
	}

	switch {
	case !verdict.QualityOK:
		return Decision{Outcome: DeniedTerminal, Reason: denialReason(verdict, "quality gate failed")}
	case !verdict.AssignmentOK:
		return Decision{Outcome: DeniedTerminal, Reason: denialReason(verdict, "task assignment check failed")}
	default:
		return Decision{Outcome: DeniedTerminal, Reason: denialReason(verdict, "denied")}
	}
}

func denialReason(v *orch.GuardVerdict, fallback string) string {
	if v.Reason != "" {
		return v.Reason
	}
	return fallback
}
