package worker

import (
	"log/slog"
	"time"
)

// Watchdog failure kinds recorded on a Run when the supervisor intervenes.
const (
	ReasonTimeout  = "timeout"
	ReasonLogStall = "log_stall"
)

// Watchdog kills attempts that run too long or stop producing output.
// Termination is graceful first: SIGTERM, then SIGKILL after Grace.
type Watchdog struct {
	// Timeout is the wall-clock limit per attempt. Zero disables it.
	Timeout time.Duration
	// Stall is the maximum allowed time without log growth. Zero disables it.
	Stall time.Duration
	// Grace is the window between SIGTERM and SIGKILL.
	Grace  time.Duration
	Logger *slog.Logger
}

// Sweep inspects every running attempt once and escalates termination where
// limits are exceeded. Timeout wins over stall when both apply at the same
// sweep.
func (w *Watchdog) Sweep(now time.Time, runs []*Run) {
	for _, r := range runs {
		switch r.KillState {
		case KillNone:
			reason := w.violation(now, r)
			if reason == "" {
				continue
			}
			r.ForcedFailure = reason
			r.GraceDeadline = now.Add(w.Grace)
			r.KillState = KillTermSent
			if w.Logger != nil {
				w.Logger.Warn("terminating worker",
					"task_id", r.Task.ID,
					"attempt", r.Attempt,
					"pid", r.Proc.PID(),
					"reason", reason)
			}
			if err := r.Proc.Terminate(); err != nil && w.Logger != nil {
				w.Logger.Warn("sigterm failed", "task_id", r.Task.ID, "error", err)
			}
		case KillTermSent:
			if now.Before(r.GraceDeadline) {
				continue
			}
			r.KillState = KillKillSent
			if w.Logger != nil {
				w.Logger.Warn("killing worker after grace period",
					"task_id", r.Task.ID,
					"attempt", r.Attempt,
					"pid", r.Proc.PID())
			}
			if err := r.Proc.Kill(); err != nil && w.Logger != nil {
				w.Logger.Warn("sigkill failed", "task_id", r.Task.ID, "error", err)
			}
		}
	}
}

func (w *Watchdog) violation(now time.Time, r *Run) string {
	if w.Timeout > 0 && now.Sub(r.Proc.StartedAt()) > w.Timeout {
		return ReasonTimeout
	}
	if w.Stall > 0 && now.Sub(r.Proc.LogModTime()) > w.Stall {
		return ReasonLogStall
	}
	return ""
}
