// Package config loads and validates the dispatcher configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the YAML configuration.
type Config struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Scope        ScopeConfig        `yaml:"scope"`
	Agent        AgentConfig        `yaml:"agent"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Watchdog     WatchdogConfig     `yaml:"watchdog"`
	Resources    ResourceConfig     `yaml:"resources"`
	Guard        GuardConfig        `yaml:"guard"`
	Paths        PathsConfig        `yaml:"paths"`
}

// OrchestratorConfig points at the orchestration service.
type OrchestratorConfig struct {
	BaseURL string `yaml:"base_url"`
	// Token supports ${VAR} expansion so secrets stay out of the file.
	Token string `yaml:"token"`
}

// ScopeConfig names the work scope whose backlog is dispatched.
type ScopeConfig struct {
	ID string `yaml:"id"`
}

// AgentConfig describes the execution-agent command.
type AgentConfig struct {
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`
	// PromptDir, when set, is checked for prompt template overrides.
	PromptDir string `yaml:"prompt_dir"`
	// PlanningContext is an optional file whose contents are excerpted into
	// every prompt.
	PlanningContext string `yaml:"planning_context"`
	// SkillDocsDir holds per-skill reference documents, one <skill>.md per
	// skill tag.
	SkillDocsDir string `yaml:"skill_docs_dir"`
}

// SchedulerConfig bounds the dispatch loop.
type SchedulerConfig struct {
	Concurrency         int `yaml:"concurrency"`
	MaxAttempts         int `yaml:"max_attempts"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	HeartbeatSeconds    int `yaml:"heartbeat_seconds"`
}

// WatchdogConfig bounds individual worker processes.
type WatchdogConfig struct {
	WorkerTimeoutSeconds int `yaml:"worker_timeout_seconds"`
	LogStallSeconds      int `yaml:"log_stall_seconds"`
	KillGraceSeconds     int `yaml:"kill_grace_seconds"`
}

// ResourceConfig sets the backpressure thresholds. Zero values disable the
// corresponding check.
type ResourceConfig struct {
	MaxLoadRatio    float64 `yaml:"max_load_ratio"`
	MinFreeMemMB    int     `yaml:"min_free_mem_mb"`
	MinFreeMemRatio float64 `yaml:"min_free_mem_ratio"`
}

// GuardConfig controls spawn-guard admission behavior.
type GuardConfig struct {
	// Mode is "fail-open" or "strict".
	Mode string `yaml:"mode"`
}

// PathsConfig locates on-disk state.
type PathsConfig struct {
	StateDir string `yaml:"state_dir"`
	LogsDir  string `yaml:"logs_dir"`
	WorkDir  string `yaml:"work_dir"`
	EventsDB string `yaml:"events_db"`
}

// Default returns the configuration used when fields are omitted.
func Default() Config {
	return Config{
		Scheduler: SchedulerConfig{
			Concurrency:         4,
			MaxAttempts:         2,
			PollIntervalSeconds: 10,
			HeartbeatSeconds:    45,
		},
		Watchdog: WatchdogConfig{
			WorkerTimeoutSeconds: 3600,
			LogStallSeconds:      720,
			KillGraceSeconds:     20,
		},
		Resources: ResourceConfig{
			MaxLoadRatio:    0.9,
			MinFreeMemMB:    1024,
			MinFreeMemRatio: 0.05,
		},
		Guard: GuardConfig{Mode: "fail-open"},
		Paths: PathsConfig{
			StateDir: ".dispatch",
			LogsDir:  ".dispatch/logs",
			WorkDir:  ".dispatch/work",
		},
	}
}

// Load reads the YAML file at path on top of the defaults and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.Orchestrator.Token = os.ExpandEnv(cfg.Orchestrator.Token)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Scope.ID == "" {
		return fmt.Errorf("scope.id is required")
	}
	if c.Agent.Binary == "" {
		return fmt.Errorf("agent.binary is required")
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("scheduler.concurrency must be at least 1, got %d", c.Scheduler.Concurrency)
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler.max_attempts must be at least 1, got %d", c.Scheduler.MaxAttempts)
	}
	if c.Scheduler.PollIntervalSeconds < 1 {
		return fmt.Errorf("scheduler.poll_interval_seconds must be at least 1")
	}
	if c.Watchdog.KillGraceSeconds < 1 {
		return fmt.Errorf("watchdog.kill_grace_seconds must be at least 1")
	}
	switch c.Guard.Mode {
	case "fail-open", "strict":
	default:
		return fmt.Errorf("guard.mode must be fail-open or strict, got %q", c.Guard.Mode)
	}
	if c.Resources.MaxLoadRatio < 0 || c.Resources.MinFreeMemRatio < 0 || c.Resources.MinFreeMemMB < 0 {
		return fmt.Errorf("resource thresholds must not be negative")
	}
	return nil
}

// PollInterval returns the dispatch loop tick as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollIntervalSeconds) * time.Second
}

// HeartbeatInterval returns the progress heartbeat period as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Scheduler.HeartbeatSeconds) * time.Second
}

// WorkerTimeout returns the per-attempt wall-clock limit as a duration.
func (c *Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Watchdog.WorkerTimeoutSeconds) * time.Second
}

// LogStall returns the maximum silent-log window as a duration.
func (c *Config) LogStall() time.Duration {
	return time.Duration(c.Watchdog.LogStallSeconds) * time.Second
}

// KillGrace returns the SIGTERM to SIGKILL window as a duration.
func (c *Config) KillGrace() time.Duration {
	return time.Duration(c.Watchdog.KillGraceSeconds) * time.Second
}
