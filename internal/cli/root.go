package cli

import (
	"github.com/spf13/cobra"

	"github.com/driftcode/dispatch/internal/config"
	"github.com/driftcode/dispatch/internal/log"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "dispatch — a task dispatch and execution orchestrator",
	Long: `dispatch drains a prioritized task backlog into concurrency-bounded
execution-agent processes, with resource backpressure, process watchdogs,
retry with backoff, and resumable on-disk job state.

Task, milestone, and workstream data comes from an orchestration service;
outcomes are rolled back up to it as tasks finish. Job snapshots are JSON,
the local audit trail is SQLite.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		log.Setup(level)
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "dispatch.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(eventsCmd)
}

// loadConfig reads the file named by the persistent --config flag.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}
