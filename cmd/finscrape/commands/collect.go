package commands

import (
	"finscrape/internal/collector"
	"finscrape/internal/config"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var collectTopics *[]string

func init() {
	collectTopics = collectCmd.Flags().StringSlice("topic", nil, "Topics to collect instead of the configured ones, can be repeated.")
	rootCmd.AddCommand(collectCmd)
}

func printReport(report collector.Report) {
	t := newTable()
	t.SetTitle(fmt.Sprintf("run %s", report.RunID))
	t.AppendHeader(table.Row{"Topic", "Source", "Fetched", "Written", "Skipped", "Failures"})
	for _, topic := range report.Topics {
		for _, src := range topic.Sources {
			t.AppendRow(table.Row{
				topic.Topic,
				src.Source,
				src.Fetched,
				src.Written(),
				src.Skipped(),
				src.Failures(),
			})
		}
	}
	t.AppendFooter(table.Row{
		"", report.Finished.Sub(report.Started).Round(time.Second).String(),
		"", report.Written(), report.Skipped(), report.Failures(),
	})
	t.Render()
}

var collectCmd = &cobra.Command{
	Use:   "collect [--topic <topic>]...",
	Short: "Runs a single collection of every topic and exits.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(*collectTopics) > 0 {
			err := config.ValidateTopics(*collectTopics)
			if err != nil {
				return fmt.Errorf("--topic: %w", err)
			}
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		topics := a.cfg.Topics
		if len(*collectTopics) > 0 {
			topics = *collectTopics
		}

		report, err := a.run(cmd.Context(), topics)
		printReport(report)
		return err
	},
}
