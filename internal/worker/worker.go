// Package worker spawns and supervises one execution-agent process per task
// attempt. The agent is opaque: it receives a working directory, correlation
// identifiers in its environment, and a generated prompt as its sole
// argument; the dispatcher only interprets its exit code and log behavior.
package worker

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/driftcode/dispatch/internal/task"
)

// ExitStatus is the terminal outcome of an agent process.
type ExitStatus struct {
	Code int
	Err  error
}

// Proc is a supervised agent process. Implemented by the real OS process and
// by test fakes.
type Proc interface {
	PID() int
	StartedAt() time.Time
	LogPath() string
	// LogModTime returns the last time the attempt log grew. Falls back to
	// the start time when the log cannot be inspected.
	LogModTime() time.Time
	// Done delivers the exit status exactly once when the process ends.
	Done() <-chan ExitStatus
	Terminate() error
	Kill() error
}

// KillState tracks watchdog escalation for one running attempt.
type KillState int

const (
	KillNone KillState = iota
	KillTermSent
	KillKillSent
)

// Run is the in-memory record for one dispatched attempt.
type Run struct {
	Task          task.Task
	Attempt       int
	Proc          Proc
	KillState     KillState
	ForcedFailure string // watchdog kill reason; non-empty forces failure
	GraceDeadline time.Time
}

// StartOpts carries everything needed to spawn one attempt.
type StartOpts struct {
	JobID   string
	ScopeID string
	RunID   string
	Task    task.Task
	Attempt int
	Prompt  string
}

// Launcher spawns agent processes with their output streamed to per-attempt
// log files.
type Launcher struct {
	Binary  string
	Args    []string
	LogsDir string
	// WorkBase is the parent directory under which each task gets its own
	// working directory.
	WorkBase string
}

// Start spawns the agent for one attempt. The returned Proc is already
// running; its exit is delivered on Done.
func (l *Launcher) Start(opts StartOpts) (Proc, error) {
	workDir := filepath.Join(l.WorkBase, opts.Task.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir workdir %s: %w", workDir, err)
	}
	if err := os.MkdirAll(l.LogsDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir logs dir %s: %w", l.LogsDir, err)
	}

	logPath := filepath.Join(l.LogsDir, fmt.Sprintf("%s-attempt%d.log", opts.Task.ID, opts.Attempt))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", logPath, err)
	}

	now := time.Now()
	fmt.Fprintf(logFile, "=== attempt %d started %s ===\n", opts.Attempt, now.UTC().Format(time.RFC3339))

	args := append(append([]string{}, l.Args...), opts.Prompt)
	cmd := exec.Command(l.Binary, args...)
	cmd.Dir = workDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(),
		"DISPATCH_JOB_ID="+opts.JobID,
		"DISPATCH_SCOPE_ID="+opts.ScopeID,
		"DISPATCH_RUN_ID="+opts.RunID,
		"DISPATCH_TASK_ID="+opts.Task.ID,
		fmt.Sprintf("DISPATCH_ATTEMPT=%d", opts.Attempt),
	)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("start agent for task %s: %w", opts.Task.ID, err)
	}

	p := &osProc{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: now,
		logPath:   logPath,
		done:      make(chan ExitStatus, 1),
	}

	go func() {
		err := cmd.Wait()
		code := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}
		fmt.Fprintf(logFile, "\n=== attempt %d exited code %d at %s ===\n",
			opts.Attempt, code, time.Now().UTC().Format(time.RFC3339))
		logFile.Close()
		p.done <- ExitStatus{Code: code, Err: err}
	}()

	return p, nil
}

// osProc is the real OS-process implementation of Proc.
type osProc struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	logPath   string
	done      chan ExitStatus
}

func (p *osProc) PID() int                { return p.pid }
func (p *osProc) StartedAt() time.Time    { return p.startedAt }
func (p *osProc) LogPath() string         { return p.logPath }
func (p *osProc) Done() <-chan ExitStatus { return p.done }

func (p *osProc) LogModTime() time.Time {
	fi, err := os.Stat(p.logPath)
	if err != nil {
		return p.startedAt
	}
	return fi.ModTime()
}

func (p *osProc) Terminate() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *osProc) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
