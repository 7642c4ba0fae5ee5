package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/driftcode/dispatch/internal/orch"
	"github.com/driftcode/dispatch/internal/task"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the dispatch order for the configured scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Orchestrator.BaseURL == "" {
			return fmt.Errorf("orchestrator.base_url is required")
		}

		flags := cmd.Flags()
		workstreams, _ := flags.GetStringSlice("workstream")
		taskIDs, _ := flags.GetStringSlice("task")
		includeDone, _ := flags.GetBool("include-done")
		format, _ := flags.GetString("format")

		client := orch.NewHTTPClient(cfg.Orchestrator.BaseURL, cfg.Orchestrator.Token)
		backlog, err := orch.FetchBacklog(context.Background(), client, cfg.Scope.ID)
		if err != nil {
			return err
		}

		queue := task.BuildQueue(backlog.Tasks, task.QueueOpts{
			WorkstreamIDs: workstreams,
			TaskIDs:       taskIDs,
			IncludeDone:   includeDone,
		})

		if format == "json" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(queue)
		}

		if len(queue) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "POS\tTASK\tTITLE\tPRIORITY\tDUE\tSTATUS\tWORKSTREAM")
		for i, t := range queue {
			due := "-"
			if t.DueDate != nil {
				due = t.DueDate.Format("2006-01-02")
			}
			title := t.Title
			if len(title) > 40 {
				title = title[:37] + "..."
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				i+1, t.ID, title, t.Priority, due, t.Status, t.WorkstreamID)
		}
		return w.Flush()
	},
}

func init() {
	queueCmd.Flags().StringSlice("workstream", nil, "Only include tasks in these workstream ids")
	queueCmd.Flags().StringSlice("task", nil, "Only include these task ids")
	queueCmd.Flags().Bool("include-done", false, "Include tasks already marked done")
	queueCmd.Flags().String("format", "table", "Output format: table or json")
}
