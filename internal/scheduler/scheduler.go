// Package scheduler runs the dispatch loop: it drains the prioritized task
// queue into concurrency-bounded worker processes, applies resource
// backpressure and admission checks, retries transient failures with backoff,
// and rolls task outcomes up into milestone and workstream status.
package scheduler

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/driftcode/dispatch/internal/admission"
	"github.com/driftcode/dispatch/internal/config"
	"github.com/driftcode/dispatch/internal/events"
	"github.com/driftcode/dispatch/internal/orch"
	"github.com/driftcode/dispatch/internal/prompt"
	"github.com/driftcode/dispatch/internal/report"
	"github.com/driftcode/dispatch/internal/resource"
	"github.com/driftcode/dispatch/internal/retry"
	"github.com/driftcode/dispatch/internal/rollup"
	"github.com/driftcode/dispatch/internal/state"
	"github.com/driftcode/dispatch/internal/task"
	"github.com/driftcode/dispatch/internal/worker"
)

// Options are the per-invocation knobs layered on top of the config file.
type Options struct {
	WorkstreamIDs []string
	TaskIDs       []string
	IncludeDone   bool

	Resume       bool
	RetryBlocked bool

	DryRun bool
	// AutoComplete pushes task status transitions to the orchestration
	// service as they happen.
	AutoComplete bool
	// DecisionOnBlock raises a human decision request when a task becomes
	// terminally blocked.
	DecisionOnBlock bool
	// ResourceGuard toggles load and memory backpressure sampling.
	ResourceGuard bool
}

// Deps are the collaborators the scheduler drives. Events may be nil.
type Deps struct {
	Client   orch.Client
	Reporter *report.Reporter
	Store    *state.Store
	Events   *events.DB
	Launcher *worker.Launcher
	Watchdog *worker.Watchdog
	Sampler  resource.SamplerFunc
	Guard    *admission.Guard
	Logger   *slog.Logger
}

// Scheduler owns one dispatch job from backlog fetch to terminal result.
type Scheduler struct {
	cfg  config.Config
	opts Options
	deps Deps

	js      *state.JobState
	tracker *rollup.Tracker
	tasks   map[string]*task.Task
	pending []task.Task

	planningContext string
	skillDocs       map[string]string
	// notBefore delays re-dispatch of a task until its backoff expires.
	notBefore map[string]time.Time
	running   map[string]*worker.Run

	lastHeartbeat time.Time
	throttled     bool
}

// New wires a Scheduler. The job id is minted here unless a resumed snapshot
// supplies one later.
func New(cfg config.Config, opts Options, deps Deps) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		opts:      opts,
		deps:      deps,
		notBefore: make(map[string]time.Time),
		running:   make(map[string]*worker.Run),
	}
}

// Run executes the job to its terminal result. The returned result is one of
// the state.Result constants; callers map ResultCompletedWithBlockers to a
// nonzero process exit.
func (s *Scheduler) Run(ctx context.Context) (string, error) {
	backlog, err := orch.FetchBacklog(ctx, s.deps.Client, s.cfg.Scope.ID)
	if err != nil {
		return "", fmt.Errorf("fetch backlog: %w", err)
	}

	s.tasks = make(map[string]*task.Task, len(backlog.Tasks))
	for i := range backlog.Tasks {
		t := backlog.Tasks[i]
		s.tasks[t.ID] = &t
	}
	s.tracker = rollup.NewTracker(backlog.Milestones, backlog.Workstreams)

	queue := task.BuildQueue(backlog.Tasks, task.QueueOpts{
		WorkstreamIDs: s.opts.WorkstreamIDs,
		TaskIDs:       s.opts.TaskIDs,
		IncludeDone:   s.opts.IncludeDone,
	})
	if err := s.initState(queue); err != nil {
		return "", err
	}
	s.deps.Reporter.SetJobID(s.js.JobID)
	s.deps.Logger = s.deps.Logger.With("job_id", s.js.JobID)
	s.pending = s.filterResumed(queue)
	s.loadPromptInputs()

	s.deps.Logger.Info("job starting",
		"job_id", s.js.JobID,
		"scope_id", s.cfg.Scope.ID,
		"queued", len(s.pending),
		"total", s.js.TotalTasks,
		"concurrency", s.cfg.Scheduler.Concurrency,
		"dry_run", s.opts.DryRun)
	s.deps.Reporter.Emit(ctx, "job_started", map[string]any{
		"scope_id": s.cfg.Scope.ID,
		"queued":   len(s.pending),
		"total":    s.js.TotalTasks,
	})
	s.lastHeartbeat = time.Now()

	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()

	for {
		s.tick(ctx, time.Now())
		if len(s.pending) == 0 && len(s.running) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			s.shutdown(ctx)
			return "", ctx.Err()
		case <-ticker.C:
		}
	}

	return s.finalize(ctx), nil
}

// initState either adopts a resumable snapshot or starts fresh.
func (s *Scheduler) initState(queue []task.Task) error {
	planHash := hashPlan(s.cfg.Scope.ID, queue)

	if s.opts.Resume {
		prev, err := s.deps.Store.Load()
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		if prev != nil && prev.ScopeID == s.cfg.Scope.ID {
			if prev.PlanHash != "" && prev.PlanHash != planHash {
				s.deps.Logger.Warn("backlog changed since snapshot, resuming anyway",
					"job_id", prev.JobID)
			}
			prev.PlanHash = planHash
			prev.Result = state.ResultRunning
			prev.FinishedAt = nil
			prev.Active = make(map[string]state.ActiveWorker)
			s.js = prev
			s.tracker.Seed(prev.Milestones, prev.Workstreams)
			s.deps.Logger.Info("resuming job", "job_id", prev.JobID)
			return nil
		}
		s.deps.Logger.Info("no resumable snapshot, starting fresh")
	}

	s.js = state.NewJobState(uuid.NewString(), s.cfg.Scope.ID)
	s.js.PlanHash = planHash
	s.js.TotalTasks = len(queue)
	return nil
}

// loadPromptInputs reads the optional planning-context file and the per-skill
// reference documents that get embedded into every prompt.
func (s *Scheduler) loadPromptInputs() {
	if path := s.cfg.Agent.PlanningContext; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			s.deps.Logger.Warn("planning context unreadable", "path", path, "error", err)
		} else {
			s.planningContext = string(data)
		}
	}

	dir := s.cfg.Agent.SkillDocsDir
	if dir == "" {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.deps.Logger.Warn("skill docs dir unreadable", "path", dir, "error", err)
		return
	}
	s.skillDocs = make(map[string]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			s.deps.Logger.Warn("skill doc unreadable", "file", name, "error", err)
			continue
		}
		s.skillDocs[strings.TrimSuffix(name, ".md")] = string(data)
	}
}

// filterResumed applies the resume skip rules: prior done tasks are skipped
// unless explicitly re-selected by id, prior blocked tasks are skipped unless
// retry-blocked is set or the task was re-selected. Attempt counts are never
// reset, so attempts stay bounded across restarts.
func (s *Scheduler) filterResumed(queue []task.Task) []task.Task {
	reselected := make(map[string]bool, len(s.opts.TaskIDs))
	for _, id := range s.opts.TaskIDs {
		reselected[id] = true
	}

	pending := make([]task.Task, 0, len(queue))
	for _, t := range queue {
		ts, ok := s.js.Tasks[t.ID]
		if !ok {
			pending = append(pending, t)
			continue
		}
		switch ts.Status {
		case state.TaskDone:
			if !reselected[t.ID] {
				s.js.Skipped++
				continue
			}
			// A re-selected done task completes again; give back its count
			// so Completed never exceeds TotalTasks.
			if s.js.Completed > 0 {
				s.js.Completed--
			}
		case state.TaskBlocked:
			if !s.opts.RetryBlocked && !reselected[t.ID] {
				continue
			}
			// Re-entering a blocked task gets exactly one fresh attempt;
			// its preserved count exhausts the retry budget on failure.
			ts.FailureKind = ""
			if s.js.Failed > 0 {
				s.js.Failed--
			}
		}
		ts.Status = state.TaskPending
		pending = append(pending, t)
	}
	return pending
}

// tick runs one pass of the dispatch loop. Order matters: completions free
// slots before the watchdog looks at survivors, and backpressure is decided
// before any spawn.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	dirty := s.drainCompletions(ctx, now)

	if len(s.running) > 0 {
		runs := make([]*worker.Run, 0, len(s.running))
		for _, r := range s.running {
			runs = append(runs, r)
		}
		s.deps.Watchdog.Sweep(now, runs)
	}

	if s.admitSpawns(ctx, now) {
		dirty = true
	}

	if now.Sub(s.lastHeartbeat) >= s.cfg.HeartbeatInterval() {
		s.heartbeat(ctx)
		s.lastHeartbeat = now
		dirty = true
	}

	if dirty {
		s.persist()
	}
}

// drainCompletions collects every finished worker without blocking.
func (s *Scheduler) drainCompletions(ctx context.Context, now time.Time) bool {
	dirty := false
	for id, r := range s.running {
		select {
		case st := <-r.Proc.Done():
			delete(s.running, id)
			delete(s.js.Active, id)
			s.handleExit(ctx, r, st, now)
			dirty = true
		default:
		}
	}
	return dirty
}

// admitSpawns fills free slots from the pending queue, subject to resource
// backpressure, per-task backoff, and the spawn guard.
func (s *Scheduler) admitSpawns(ctx context.Context, now time.Time) bool {
	if len(s.pending) == 0 {
		return false
	}
	if s.throttleActive(now) {
		return false
	}

	dirty := false
	for len(s.running) < s.cfg.Scheduler.Concurrency {
		t, ok := s.nextReady(now)
		if !ok {
			break
		}
		s.dispatch(ctx, t, now)
		dirty = true
	}
	return dirty
}

// throttleActive samples host resources and reports whether spawning is
// paused this tick. Transitions are logged and audited once each.
func (s *Scheduler) throttleActive(now time.Time) bool {
	if !s.opts.ResourceGuard || s.deps.Sampler == nil {
		return false
	}
	sample, err := s.deps.Sampler()
	if err != nil {
		s.deps.Logger.Warn("resource sample failed, not throttling", "error", err)
		return false
	}
	decision := resource.Evaluate(sample, resource.Thresholds{
		MaxLoadRatio:    s.cfg.Resources.MaxLoadRatio,
		MinFreeMemBytes: uint64(s.cfg.Resources.MinFreeMemMB) * 1024 * 1024,
		MinFreeMemRatio: s.cfg.Resources.MinFreeMemRatio,
	})

	if decision.Throttle && !s.throttled {
		s.deps.Logger.Warn("resource pressure, pausing spawns", "reasons", decision.Reasons)
		s.logEvent("", "throttled", 0, fmt.Sprintf("%v", decision.Reasons))
	}
	if !decision.Throttle && s.throttled {
		s.deps.Logger.Info("resource pressure cleared, resuming spawns")
	}
	s.throttled = decision.Throttle
	return decision.Throttle
}

// nextReady pops the highest-ranked pending task whose backoff has expired.
func (s *Scheduler) nextReady(now time.Time) (task.Task, bool) {
	for i, t := range s.pending {
		if nb, ok := s.notBefore[t.ID]; ok && now.Before(nb) {
			continue
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		return t, true
	}
	return task.Task{}, false
}

// dispatch runs the admission check and spawns one attempt. In dry-run mode
// the attempt succeeds instantly without a process.
func (s *Scheduler) dispatch(ctx context.Context, t task.Task, now time.Time) {
	ts := s.js.Task(t.ID)

	decision := s.deps.Guard.Check(ctx, t.Domain, t.ID)
	switch decision.Outcome {
	case admission.DeniedRetryable:
		ts.Attempts++
		if retry.Retryable(ts.Attempts, s.cfg.Scheduler.MaxAttempts) {
			delay := retry.Backoff(ts.Attempts)
			s.notBefore[t.ID] = now.Add(delay)
			ts.Status = state.TaskRetryPending
			s.pending = append(s.pending, t)
			s.deps.Logger.Info("spawn denied, retrying after backoff",
				"task_id", t.ID, "reason", decision.Reason, "delay", delay)
			s.logEvent(t.ID, "admission_retry", ts.Attempts, decision.Reason)
			return
		}
		s.block(ctx, t, ts, "admission_denied", decision.Reason)
		return
	case admission.DeniedTerminal:
		s.block(ctx, t, ts, "admission_denied", decision.Reason)
		return
	}

	attempt := ts.Attempts + 1
	ts.Attempts = attempt
	ts.Status = state.TaskRunning

	if s.opts.DryRun {
		s.deps.Logger.Info("dry-run: simulating success", "task_id", t.ID, "attempt", attempt)
		s.complete(ctx, t, ts, nil)
		return
	}

	promptText, err := prompt.Build(prompt.BuildOpts{
		Task:            t,
		Attempt:         attempt,
		PlanningContext: s.planningContext,
		SkillDocs:       s.skillDocs,
		OverrideDir:     s.cfg.Agent.PromptDir,
	})
	if err != nil {
		s.fail(ctx, t, ts, "prompt_error", err.Error(), now)
		return
	}

	proc, err := s.deps.Launcher.Start(worker.StartOpts{
		JobID:   s.js.JobID,
		ScopeID: s.cfg.Scope.ID,
		RunID:   s.deps.Reporter.RunID(),
		Task:    t,
		Attempt: attempt,
		Prompt:  promptText,
	})
	if err != nil {
		s.fail(ctx, t, ts, "spawn_error", err.Error(), now)
		return
	}

	s.running[t.ID] = &worker.Run{Task: t, Attempt: attempt, Proc: proc}
	s.js.Active[t.ID] = state.ActiveWorker{
		PID:       proc.PID(),
		Attempt:   attempt,
		StartedAt: proc.StartedAt(),
		LogPath:   proc.LogPath(),
	}
	ts.LogPath = proc.LogPath()
	s.deps.Logger.Info("worker dispatched",
		"task_id", t.ID, "attempt", attempt, "pid", proc.PID())
	s.logEvent(t.ID, "dispatched", attempt, "")
}

// handleExit classifies a finished attempt. Exit zero only counts as success
// when the watchdog did not intervene and the log tail carries no handshake
// failure.
func (s *Scheduler) handleExit(ctx context.Context, r *worker.Run, st worker.ExitStatus, now time.Time) {
	ts := s.js.Task(r.Task.ID)
	ts.ExitCode = &st.Code
	ts.LogPath = r.Proc.LogPath()

	switch {
	case r.ForcedFailure != "":
		s.fail(ctx, r.Task, ts, r.ForcedFailure, fmt.Sprintf("watchdog: %s", r.ForcedFailure), now)
	case st.Code != 0:
		s.fail(ctx, r.Task, ts, "exit_nonzero", fmt.Sprintf("exit code %d", st.Code), now)
	case worker.HandshakeFailed(r.Proc.LogPath()):
		s.fail(ctx, r.Task, ts, "handshake_failure", "backend handshake failure in log tail", now)
	default:
		s.complete(ctx, r.Task, ts, &st.Code)
	}
}

// complete marks a task done and propagates the new rollups.
func (s *Scheduler) complete(ctx context.Context, t task.Task, ts *state.TaskState, exitCode *int) {
	finished := time.Now().UTC()
	ts.Status = state.TaskDone
	ts.FinishedAt = &finished
	ts.FailureKind = ""
	if exitCode != nil {
		ts.ExitCode = exitCode
	}
	s.js.Completed++

	s.deps.Logger.Info("task completed", "task_id", t.ID, "attempt", ts.Attempts)
	s.logEvent(t.ID, "completed", ts.Attempts, "")
	if s.opts.AutoComplete {
		s.deps.Reporter.TaskStatus(ctx, t.ID, "done", ts.Attempts, "")
	}
	s.setStatus(ctx, t.ID, "done")
}

// fail retries the attempt with backoff while the budget lasts, otherwise
// blocks the task.
func (s *Scheduler) fail(ctx context.Context, t task.Task, ts *state.TaskState, kind, detail string, now time.Time) {
	s.deps.Logger.Warn("attempt failed",
		"task_id", t.ID, "attempt", ts.Attempts, "kind", kind, "detail", detail)
	s.logEvent(t.ID, "failed", ts.Attempts, detail)

	if retry.Retryable(ts.Attempts, s.cfg.Scheduler.MaxAttempts) {
		delay := retry.Backoff(ts.Attempts)
		s.notBefore[t.ID] = now.Add(delay)
		ts.Status = state.TaskRetryPending
		ts.FailureKind = kind
		s.pending = append(s.pending, t)
		s.deps.Logger.Info("retrying task", "task_id", t.ID, "delay", delay)
		return
	}
	s.block(ctx, t, ts, kind, detail)
}

// block marks a task terminally blocked and raises at most one decision
// request for it.
func (s *Scheduler) block(ctx context.Context, t task.Task, ts *state.TaskState, kind, detail string) {
	finished := time.Now().UTC()
	ts.Status = state.TaskBlocked
	ts.FinishedAt = &finished
	ts.FailureKind = kind
	s.js.Failed++

	s.deps.Logger.Warn("task blocked", "task_id", t.ID, "kind", kind, "detail", detail)
	s.logEvent(t.ID, "blocked", ts.Attempts, detail)
	if s.opts.AutoComplete {
		s.deps.Reporter.TaskStatus(ctx, t.ID, "blocked", ts.Attempts, detail)
	}
	if s.opts.DecisionOnBlock {
		s.deps.Reporter.RequestDecision(ctx,
			fmt.Sprintf("Task blocked: %s", t.Title),
			fmt.Sprintf("Task %s blocked after %d attempt(s): %s", t.ID, ts.Attempts, detail),
			[]string{"retry", "reassign", "cancel"},
			true)
	}
	s.setStatus(ctx, t.ID, "blocked")
}

// setStatus applies a terminal status to the in-memory backlog and propagates
// every rollup the transition changed.
func (s *Scheduler) setStatus(ctx context.Context, taskID, status string) {
	if t, ok := s.tasks[taskID]; ok {
		t.Status = status
	}

	all := make([]task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		all = append(all, *t)
	}
	changes := s.tracker.Recompute(all, taskID)
	for _, c := range changes {
		s.deps.Logger.Info("rollup changed",
			"level", c.Level, "id", c.ID,
			"status", c.After.Status, "progress_pct", c.After.ProgressPct)
		switch c.Level {
		case "milestone":
			s.deps.Reporter.MilestoneStatus(ctx, c.ID, c.After, c.TriggerID)
		case "workstream":
			s.deps.Reporter.WorkstreamStatus(ctx, c.ID, c.After, c.TriggerID)
		}
	}
	s.js.Milestones, s.js.Workstreams = s.tracker.Snapshot()
}

// heartbeat emits the periodic progress event.
func (s *Scheduler) heartbeat(ctx context.Context) {
	runningIDs := make([]string, 0, len(s.running))
	for id := range s.running {
		runningIDs = append(runningIDs, id)
	}
	sort.Strings(runningIDs)

	payload := map[string]any{
		"completed": s.js.Completed,
		"failed":    s.js.Failed,
		"total":     s.js.TotalTasks,
		"active":    len(s.running),
		"running":   runningIDs,
		"queued":    len(s.pending),
	}
	s.deps.Reporter.Emit(ctx, "heartbeat", payload)
	s.logEvent("", "heartbeat", 0,
		fmt.Sprintf("%d/%d complete, %d active", s.js.Completed, s.js.TotalTasks, len(s.running)))
}

// shutdown terminates every running worker, escalating after the kill-grace
// window, and persists the interrupted snapshot for a later resume.
func (s *Scheduler) shutdown(ctx context.Context) {
	s.deps.Logger.Info("shutting down", "active", len(s.running))
	for _, r := range s.running {
		if err := r.Proc.Terminate(); err != nil {
			s.deps.Logger.Warn("sigterm on shutdown failed", "task_id", r.Task.ID, "error", err)
		}
	}

	graceUntil := time.Now().Add(s.cfg.KillGrace())
	for id, r := range s.running {
		remaining := time.Until(graceUntil)
		if remaining < 0 {
			remaining = 0
		}
		select {
		case <-r.Proc.Done():
		case <-time.After(remaining):
			_ = r.Proc.Kill()
			<-r.Proc.Done()
		}
		delete(s.running, id)
		delete(s.js.Active, id)
		s.js.Task(id).Status = state.TaskPending
	}

	s.persist()
	s.deps.Reporter.Emit(context.WithoutCancel(ctx), "job_interrupted", map[string]any{
		"completed": s.js.Completed,
		"total":     s.js.TotalTasks,
	})
}

// finalize records the terminal result and reports it.
func (s *Scheduler) finalize(ctx context.Context) string {
	result := state.ResultCompleted
	for _, ts := range s.js.Tasks {
		if ts.Status == state.TaskBlocked {
			result = state.ResultCompletedWithBlockers
			break
		}
	}

	finished := time.Now().UTC()
	s.js.Result = result
	s.js.FinishedAt = &finished
	s.persist()

	s.deps.Logger.Info("job finished",
		"job_id", s.js.JobID,
		"result", result,
		"completed", s.js.Completed,
		"failed", s.js.Failed,
		"skipped", s.js.Skipped)
	s.deps.Reporter.Emit(ctx, "job_finished", map[string]any{
		"result":    result,
		"completed": s.js.Completed,
		"failed":    s.js.Failed,
		"skipped":   s.js.Skipped,
		"total":     s.js.TotalTasks,
	})
	s.logEvent("", "job_finished", 0, result)
	return result
}

func (s *Scheduler) persist() {
	if err := s.deps.Store.Persist(s.js); err != nil {
		s.deps.Logger.Error("persist snapshot failed", "path", s.deps.Store.Path(), "error", err)
	}
}

// logEvent writes to the local audit log when one is configured.
func (s *Scheduler) logEvent(taskID, event string, attempt int, detail string) {
	if s.deps.Events == nil {
		return
	}
	if err := s.deps.Events.Log(s.js.JobID, taskID, event, attempt, detail); err != nil {
		s.deps.Logger.Warn("audit log write failed", "event", event, "error", err)
	}
}

// hashPlan fingerprints the selected queue so a resumed run can detect that
// the backlog shifted underneath its snapshot.
func hashPlan(scopeID string, queue []task.Task) string {
	ids := make([]string, 0, len(queue))
	for _, t := range queue {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)

	h := blake3.New()
	fmt.Fprint(h, scopeID)
	for _, id := range ids {
		fmt.Fprint(h, "|", id)
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
