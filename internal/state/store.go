// Package state persists the dispatch job's snapshot to disk so a crashed or
// interrupted run can resume. The scheduler is the single writer; every
// state-relevant mutation is flushed with an atomic replace so the file stays
// parseable across abrupt termination.
package state

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/driftcode/dispatch/internal/rollup"
)

// Job results.
const (
	ResultRunning               = "running"
	ResultCompleted             = "completed"
	ResultCompletedWithBlockers = "completed_with_blockers"
)

// Task statuses within a snapshot.
const (
	TaskPending      = "pending"
	TaskRunning      = "running"
	TaskRetryPending = "retry_pending"
	TaskDone         = "done"
	TaskBlocked      = "blocked"
)

// TaskState records the last known outcome for one task.
type TaskState struct {
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	LogPath     string     `json:"log_path,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	FailureKind string     `json:"failure_kind,omitempty"`
}

// ActiveWorker describes a worker process that was running at snapshot time.
type ActiveWorker struct {
	PID       int       `json:"pid"`
	Attempt   int       `json:"attempt"`
	StartedAt time.Time `json:"started_at"`
	LogPath   string    `json:"log_path"`
}

// JobState is the full persisted snapshot of one dispatch job.
type JobState struct {
	JobID       string                   `json:"job_id"`
	ScopeID     string                   `json:"scope_id"`
	PlanHash    string                   `json:"plan_hash,omitempty"`
	TotalTasks  int                      `json:"total_tasks"`
	Completed   int                      `json:"completed"`
	Failed      int                      `json:"failed"`
	Skipped     int                      `json:"skipped"`
	Tasks       map[string]*TaskState    `json:"tasks"`
	Active      map[string]ActiveWorker  `json:"active_workers"`
	Milestones  map[string]rollup.Rollup `json:"milestones,omitempty"`
	Workstreams map[string]rollup.Rollup `json:"workstreams,omitempty"`
	Result      string                   `json:"result"`
	StartedAt   time.Time                `json:"started_at"`
	FinishedAt  *time.Time               `json:"finished_at,omitempty"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// NewJobState initialises an empty snapshot for a fresh run.
func NewJobState(jobID, scopeID string) *JobState {
	now := time.Now().UTC()
	return &JobState{
		JobID:     jobID,
		ScopeID:   scopeID,
		Tasks:     make(map[string]*TaskState),
		Active:    make(map[string]ActiveWorker),
		Result:    ResultRunning,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Task returns the state entry for a task, creating it if absent.
func (js *JobState) Task(id string) *TaskState {
	if js.Tasks == nil {
		js.Tasks = make(map[string]*TaskState)
	}
	ts, ok := js.Tasks[id]
	if !ok {
		ts = &TaskState{}
		js.Tasks[id] = ts
	}
	return ts
}

// Store reads and writes job snapshots at a fixed path.
type Store struct {
	path string
}

// NewStore creates a Store for the given snapshot path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the last persisted snapshot. An absent or unparseable file is
// treated as no prior state and returns (nil, nil); resume decisions fall
// back to a fresh run in that case.
func (s *Store) Load() (*JobState, error) {
	var js JobState
	err := ReadJSON(s.path, &js)
	if err == nil {
		return &js, nil
	}
	if os.IsNotExist(err) {
		return nil, nil
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return nil, nil
	}
	return nil, err
}

// Persist flushes the snapshot to disk with an atomic replace.
func (s *Store) Persist(js *JobState) error {
	js.UpdatedAt = time.Now().UTC()
	return WriteJSON(s.path, js)
}
