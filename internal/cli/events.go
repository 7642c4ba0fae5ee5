package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/driftcode/dispatch/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent entries from the local audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		jobID, _ := flags.GetString("job")
		limit, _ := flags.GetInt("limit")
		format, _ := flags.GetString("format")

		path := cfg.Paths.EventsDB
		if path == "" {
			path, err = events.DefaultPath()
			if err != nil {
				return err
			}
		}

		db, err := events.Open(path)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}

		items, err := db.Recent(jobID, limit)
		if err != nil {
			return err
		}

		if format == "json" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tJOB\tTASK\tEVENT\tATTEMPT\tDETAIL")
		for _, e := range items {
			taskID := e.TaskID
			if taskID == "" {
				taskID = "-"
			}
			detail := e.Detail
			if len(detail) > 60 {
				detail = detail[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				e.Timestamp, e.JobID, taskID, e.Event, e.Attempt, detail)
		}
		return w.Flush()
	},
}

func init() {
	eventsCmd.Flags().String("job", "", "Only show events for this job id")
	eventsCmd.Flags().Int("limit", 50, "Maximum number of events to show")
	eventsCmd.Flags().String("format", "table", "Output format: table or json")
}
