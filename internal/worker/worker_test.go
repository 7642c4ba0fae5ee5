package worker

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/driftcode/dispatch/internal/task"
)

func TestLauncherRunsAgentAndCapturesExit(t *testing.T) {
	dir := t.TempDir()
	l := &Launcher{
		Binary:   "sh",
		Args:     []string{"-c", `echo "task=$DISPATCH_TASK_ID attempt=$DISPATCH_ATTEMPT"; exit 3`},
		LogsDir:  dir + "/logs",
		WorkBase: dir + "/work",
	}

	proc, err := l.Start(StartOpts{
		JobID:   "job-1",
		ScopeID: "scope-1",
		Task:    task.Task{ID: "t1", Title: "demo"},
		Attempt: 2,
		Prompt:  "ignored",
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if proc.PID() == 0 {
		t.Error("PID not recorded")
	}

	select {
	case st := <-proc.Done():
		if st.Code != 3 {
			t.Errorf("exit code = %d, want 3", st.Code)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not exit")
	}

	data, err := os.ReadFile(proc.LogPath())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	log := string(data)
	if !strings.Contains(log, "task=t1 attempt=2") {
		t.Errorf("correlation env not passed through:\n%s", log)
	}
	if !strings.Contains(log, "=== attempt 2 started") || !strings.Contains(log, "exited code 3") {
		t.Errorf("attempt markers missing:\n%s", log)
	}
	if _, err := os.Stat(dir + "/work/t1"); err != nil {
		t.Errorf("per-task workdir not created: %v", err)
	}
}
