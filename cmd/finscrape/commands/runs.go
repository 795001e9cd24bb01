package commands

import (
	"finscrape/internal/runlog"
	"finscrape/internal/telemetry"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var runsLimit *int

func init() {
	runsLimit = runsCmd.Flags().Int("limit", 20, "How many of the latest runs to list.")
	rootCmd.AddCommand(runsCmd)
}

func formatTime(t time.Time) string {
	return t.Local().Format(time.DateTime)
}

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "Lists the latest collection runs, or the per source results of a single run.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ledger, err := runlog.Open(cfg.Runlog, telemetry.SlogAPI{})
		if err != nil {
			return err
		}
		defer ledger.Close()

		t := newTable()
		if len(args) == 1 {
			results, err := ledger.Results(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			t.SetTitle("run " + args[0])
			t.AppendHeader(table.Row{"Topic", "Source", "Fetched", "Written", "Skipped", "Failures", "Error"})
			for _, r := range results {
				t.AppendRow(table.Row{r.Topic, r.Source, r.Fetched, r.Written, r.Skipped, r.Failures, r.Error})
			}
			t.Render()
			return nil
		}

		runs, err := ledger.Recent(cmd.Context(), *runsLimit)
		if err != nil {
			return err
		}
		t.AppendHeader(table.Row{"Run", "Started", "Duration", "Topics", "Written", "Skipped", "Failures", "Error"})
		for _, r := range runs {
			t.AppendRow(table.Row{
				r.Id,
				formatTime(r.Started),
				r.Finished.Sub(r.Started).String(),
				r.Topics,
				r.Written,
				r.Skipped,
				r.Failures,
				r.Error,
			})
		}
		t.Render()
		return nil
	},
}
