package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/driftcode/dispatch/internal/state"
)

// execute runs the root command with args and returns combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// writeTestConfig drops a minimal valid config into a temp dir.
func writeTestConfig(t *testing.T) (configPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	configPath = filepath.Join(dir, "dispatch.yaml")
	body := fmt.Sprintf(`
scope:
  id: scope-1
agent:
  binary: runner
paths:
  state_dir: %[1]s
  logs_dir: %[1]s/logs
  work_dir: %[1]s/work
  events_db: %[1]s/events.db
`, dir)
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath, dir
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("execute error = %v", err)
	}
	if !strings.Contains(out, "dispatch version 1.2.3") {
		t.Errorf("output = %q", out)
	}
}

func TestStateCommandNoSnapshot(t *testing.T) {
	configPath, _ := writeTestConfig(t)
	out, err := execute(t, "state", "--config", configPath)
	if err != nil {
		t.Fatalf("execute error = %v", err)
	}
	if !strings.Contains(out, "No snapshot") {
		t.Errorf("output = %q", out)
	}
}

func TestStateCommandRendersSnapshot(t *testing.T) {
	configPath, dir := writeTestConfig(t)

	js := state.NewJobState("job-42", "scope-1")
	js.TotalTasks = 2
	js.Completed = 1
	exit := 0
	js.Task("t1").Status = state.TaskDone
	js.Task("t1").Attempts = 1
	js.Task("t1").ExitCode = &exit
	js.Task("t2").Status = state.TaskBlocked
	js.Task("t2").FailureKind = "exit_nonzero"
	if err := state.NewStore(filepath.Join(dir, "job-state.json")).Persist(js); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "state", "--config", configPath)
	if err != nil {
		t.Fatalf("execute error = %v", err)
	}
	for _, want := range []string{"job-42", "1/2 complete", "t1", "t2", "exit_nonzero"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestEventsCommandEmpty(t *testing.T) {
	configPath, _ := writeTestConfig(t)
	out, err := execute(t, "events", "--config", configPath)
	if err != nil {
		t.Fatalf("execute error = %v", err)
	}
	if !strings.Contains(out, "No events") {
		t.Errorf("output = %q", out)
	}
}

func TestRunRejectsRetryBlockedWithoutResume(t *testing.T) {
	configPath, _ := writeTestConfig(t)
	_, err := execute(t, "run", "--config", configPath, "--retry-blocked")
	if err == nil || !strings.Contains(err.Error(), "--resume") {
		t.Errorf("error = %v, want retry-blocked/resume constraint", err)
	}
}
