package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/driftcode/dispatch/internal/admission"
	"github.com/driftcode/dispatch/internal/events"
	"github.com/driftcode/dispatch/internal/log"
	"github.com/driftcode/dispatch/internal/orch"
	"github.com/driftcode/dispatch/internal/report"
	"github.com/driftcode/dispatch/internal/resource"
	"github.com/driftcode/dispatch/internal/scheduler"
	"github.com/driftcode/dispatch/internal/state"
	"github.com/driftcode/dispatch/internal/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Dispatch the configured scope's backlog to execution agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		opts := scheduler.Options{}
		opts.WorkstreamIDs, _ = flags.GetStringSlice("workstream")
		opts.TaskIDs, _ = flags.GetStringSlice("task")
		opts.IncludeDone, _ = flags.GetBool("include-done")
		opts.Resume, _ = flags.GetBool("resume")
		opts.RetryBlocked, _ = flags.GetBool("retry-blocked")
		opts.DryRun, _ = flags.GetBool("dry-run")
		opts.AutoComplete, _ = flags.GetBool("auto-complete")
		opts.DecisionOnBlock, _ = flags.GetBool("decision-on-block")
		opts.ResourceGuard, _ = flags.GetBool("resource-guard")

		if opts.RetryBlocked && !opts.Resume {
			return fmt.Errorf("--retry-blocked requires --resume")
		}
		if cfg.Orchestrator.BaseURL == "" {
			return fmt.Errorf("orchestrator.base_url is required")
		}

		if binary, _ := flags.GetString("agent-binary"); binary != "" {
			cfg.Agent.Binary = binary
		}
		if agentArgs, _ := flags.GetStringArray("agent-arg"); len(agentArgs) > 0 {
			cfg.Agent.Args = agentArgs
		}

		statePath, _ := flags.GetString("state-file")
		if statePath == "" {
			statePath = filepath.Join(cfg.Paths.StateDir, "job-state.json")
		}
		if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}

		logger := log.WithComponent("scheduler")
		client := orch.NewHTTPClient(cfg.Orchestrator.BaseURL, cfg.Orchestrator.Token)

		// The audit trail is observability only; a broken database must not
		// keep the job from running.
		var auditDB *events.DB
		eventsPath := cfg.Paths.EventsDB
		if eventsPath == "" {
			eventsPath, err = events.DefaultPath()
		}
		if err == nil {
			auditDB, err = events.Open(eventsPath)
		}
		if err == nil && auditDB != nil {
			if err := auditDB.Migrate(); err != nil {
				logger.Warn("audit db migration failed, continuing without audit log", "error", err)
				auditDB.Close()
				auditDB = nil
			} else {
				defer auditDB.Close()
			}
		} else {
			logger.Warn("audit db unavailable, continuing without audit log", "error", err)
			auditDB = nil
		}

		sched := scheduler.New(cfg, opts, scheduler.Deps{
			Client:   client,
			Reporter: report.New(client, "", opts.DryRun, log.WithComponent("reporter")),
			Store:    state.NewStore(statePath),
			Events:   auditDB,
			Launcher: &worker.Launcher{
				Binary:   cfg.Agent.Binary,
				Args:     cfg.Agent.Args,
				LogsDir:  cfg.Paths.LogsDir,
				WorkBase: cfg.Paths.WorkDir,
			},
			Watchdog: &worker.Watchdog{
				Timeout: cfg.WorkerTimeout(),
				Stall:   cfg.LogStall(),
				Grace:   cfg.KillGrace(),
				Logger:  log.WithComponent("watchdog"),
			},
			Sampler: resource.HostSample,
			Guard:   admission.New(client, cfg.Guard.Mode, log.WithComponent("admission")),
			Logger:  logger,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := sched.Run(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Job finished: %s\n", result)
		if result == state.ResultCompletedWithBlockers {
			return fmt.Errorf("blocked tasks remain")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringSlice("workstream", nil, "Only dispatch tasks in these workstream ids")
	runCmd.Flags().StringSlice("task", nil, "Only dispatch these task ids")
	runCmd.Flags().Bool("include-done", false, "Include tasks already marked done in the queue")
	runCmd.Flags().Bool("resume", false, "Resume from the last persisted job snapshot")
	runCmd.Flags().Bool("retry-blocked", false, "Re-queue previously blocked tasks (requires --resume)")
	runCmd.Flags().Bool("dry-run", false, "Exercise the full decision logic without spawning agents or mutating the service")
	runCmd.Flags().Bool("auto-complete", true, "Push task status transitions to the orchestration service")
	runCmd.Flags().Bool("decision-on-block", true, "Raise a decision request when a task becomes terminally blocked")
	runCmd.Flags().Bool("resource-guard", true, "Pause spawning under host load or memory pressure")
	runCmd.Flags().String("state-file", "", "Job snapshot path (default <state_dir>/job-state.json)")
	runCmd.Flags().String("agent-binary", "", "Override the execution-agent binary")
	runCmd.Flags().StringArray("agent-arg", nil, "Override the execution-agent arguments (repeatable)")
}
