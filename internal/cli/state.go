package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/driftcode/dispatch/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the last persisted job snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		format, _ := flags.GetString("format")
		statePath, _ := flags.GetString("state-file")
		if statePath == "" {
			statePath = filepath.Join(cfg.Paths.StateDir, "job-state.json")
		}

		js, err := state.NewStore(statePath).Load()
		if err != nil {
			return err
		}
		if js == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "No snapshot at %s\n", statePath)
			return nil
		}

		if format == "json" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(js)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Job:       %s\n", js.JobID)
		fmt.Fprintf(out, "Scope:     %s\n", js.ScopeID)
		fmt.Fprintf(out, "Result:    %s\n", js.Result)
		fmt.Fprintf(out, "Progress:  %d/%d complete, %d failed, %d skipped\n",
			js.Completed, js.TotalTasks, js.Failed, js.Skipped)
		fmt.Fprintf(out, "Started:   %s\n", js.StartedAt.Format("2006-01-02 15:04:05"))
		if js.FinishedAt != nil {
			fmt.Fprintf(out, "Finished:  %s\n", js.FinishedAt.Format("2006-01-02 15:04:05"))
		}

		if len(js.Tasks) == 0 {
			return nil
		}
		ids := make([]string, 0, len(js.Tasks))
		for id := range js.Tasks {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TASK\tSTATUS\tATTEMPTS\tEXIT\tFAILURE\tLOG")
		for _, id := range ids {
			ts := js.Tasks[id]
			exit := "-"
			if ts.ExitCode != nil {
				exit = fmt.Sprintf("%d", *ts.ExitCode)
			}
			failure := ts.FailureKind
			if failure == "" {
				failure = "-"
			}
			logPath := ts.LogPath
			if logPath == "" {
				logPath = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				id, ts.Status, ts.Attempts, exit, failure, logPath)
		}
		return w.Flush()
	},
}

func init() {
	stateCmd.Flags().String("format", "table", "Output format: table or json")
	stateCmd.Flags().String("state-file", "", "Job snapshot path (default <state_dir>/job-state.json)")
}
