package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/driftcode/dispatch/internal/rollup"
)

func TestLoadAbsentFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope.json"))
	js, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if js != nil {
		t.Fatalf("Load() = %+v, want nil for absent file", js)
	}
}

func TestLoadCorruptFileIsFreshState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}
	js, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v, corrupt file must not be fatal", err)
	}
	if js != nil {
		t.Fatalf("Load() = %+v, want nil for corrupt file", js)
	}
}

func TestPersistRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := NewStore(path)

	js := NewJobState("job-1", "scope-9")
	js.TotalTasks = 3
	js.Completed = 1
	exit := 1
	finished := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	js.Tasks["t1"] = &TaskState{Status: "done", Attempts: 1, LogPath: "/logs/t1.log"}
	js.Tasks["t2"] = &TaskState{
		Status: "blocked", Attempts: 2, ExitCode: &exit,
		FinishedAt: &finished, FailureKind: "retries_exhausted",
	}
	js.Active["t3"] = ActiveWorker{PID: 4242, Attempt: 1, StartedAt: finished, LogPath: "/logs/t3.log"}
	js.Milestones = map[string]rollup.Rollup{"m1": {Done: 1, Total: 3, ProgressPct: 33, Status: "in_progress"}}

	if err := s.Persist(js); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got == nil {
		t.Fatal("Load() = nil after Persist")
	}
	if got.JobID != "job-1" || got.ScopeID != "scope-9" || got.TotalTasks != 3 {
		t.Errorf("header mismatch: %+v", got)
	}
	if got.Tasks["t2"].FailureKind != "retries_exhausted" || *got.Tasks["t2"].ExitCode != 1 {
		t.Errorf("task entry mismatch: %+v", got.Tasks["t2"])
	}
	if got.Active["t3"].PID != 4242 {
		t.Errorf("active worker mismatch: %+v", got.Active["t3"])
	}
	if got.Milestones["m1"].ProgressPct != 33 {
		t.Errorf("rollup snapshot mismatch: %+v", got.Milestones["m1"])
	}
	if got.Result != ResultRunning {
		t.Errorf("result = %q, want running", got.Result)
	}
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	for i := 0; i < 5; i++ {
		if err := WriteJSON(path, map[string]int{"tick": i}); err != nil {
			t.Fatalf("WriteJSON() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
}
