package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
scope:
  id: scope-1
agent:
  binary: runner
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scheduler.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.Scheduler.Concurrency)
	}
	if cfg.Scheduler.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want 2", cfg.Scheduler.MaxAttempts)
	}
	if cfg.PollInterval() != 10*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval())
	}
	if cfg.HeartbeatInterval() != 45*time.Second {
		t.Errorf("HeartbeatInterval = %v", cfg.HeartbeatInterval())
	}
	if cfg.WorkerTimeout() != time.Hour {
		t.Errorf("WorkerTimeout = %v", cfg.WorkerTimeout())
	}
	if cfg.LogStall() != 12*time.Minute {
		t.Errorf("LogStall = %v", cfg.LogStall())
	}
	if cfg.KillGrace() != 20*time.Second {
		t.Errorf("KillGrace = %v", cfg.KillGrace())
	}
	if cfg.Resources.MaxLoadRatio != 0.9 || cfg.Resources.MinFreeMemMB != 1024 || cfg.Resources.MinFreeMemRatio != 0.05 {
		t.Errorf("resource defaults = %+v", cfg.Resources)
	}
	if cfg.Guard.Mode != "fail-open" {
		t.Errorf("Guard.Mode = %q", cfg.Guard.Mode)
	}
	if cfg.Paths.StateDir != ".dispatch" {
		t.Errorf("StateDir = %q", cfg.Paths.StateDir)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
scheduler:
  concurrency: 8
  max_attempts: 3
watchdog:
  worker_timeout_seconds: 120
guard:
  mode: strict
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.Concurrency != 8 || cfg.Scheduler.MaxAttempts != 3 {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.WorkerTimeout() != 2*time.Minute {
		t.Errorf("WorkerTimeout = %v", cfg.WorkerTimeout())
	}
	if cfg.Guard.Mode != "strict" {
		t.Errorf("Guard.Mode = %q", cfg.Guard.Mode)
	}
	// Untouched sections keep their defaults.
	if cfg.Watchdog.KillGraceSeconds != 20 {
		t.Errorf("KillGraceSeconds = %d", cfg.Watchdog.KillGraceSeconds)
	}
}

func TestLoadExpandsTokenEnv(t *testing.T) {
	t.Setenv("DISPATCH_TEST_TOKEN", "sekrit")
	cfg, err := Load(writeConfig(t, minimalConfig+`
orchestrator:
  base_url: http://localhost:8080
  token: ${DISPATCH_TEST_TOKEN}
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Orchestrator.Token != "sekrit" {
		t.Errorf("Token = %q, want env-expanded value", cfg.Orchestrator.Token)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"missing scope", func(c *Config) { c.Scope.ID = "" }, "scope.id"},
		{"missing binary", func(c *Config) { c.Agent.Binary = "" }, "agent.binary"},
		{"zero concurrency", func(c *Config) { c.Scheduler.Concurrency = 0 }, "concurrency"},
		{"zero attempts", func(c *Config) { c.Scheduler.MaxAttempts = 0 }, "max_attempts"},
		{"bad guard mode", func(c *Config) { c.Guard.Mode = "maybe" }, "guard.mode"},
		{"negative threshold", func(c *Config) { c.Resources.MaxLoadRatio = -1 }, "negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Scope.ID = "scope-1"
			cfg.Agent.Binary = "runner"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q missing %q", err, tc.wantSub)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() on missing file = nil error")
	}
}
