package commands

import (
	"finscrape/internal/partition"
	"finscrape/internal/poststore"
	"finscrape/internal/telemetry"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var inspectDay *string

func init() {
	inspectDay = inspectCmd.Flags().String("day", "", "Only show the partition of this day (YYYY-MM-DD).")
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <topic>... [--day <YYYY-MM-DD>]",
	Short: "Lists the stored partitions of topics with the number of unique posts in each.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		resolver := partition.NewResolver(cfg.DataDir)
		store := poststore.NewStore(resolver, telemetry.SlogAPI{})

		t := newTable()
		t.AppendHeader(table.Row{"Partition", "Unique posts", "Size", "Path"})
		total := 0
		for _, topic := range args {
			var partitions []partition.Partition
			if *inspectDay != "" {
				day, err := time.Parse(time.DateOnly, *inspectDay)
				if err != nil {
					return fmt.Errorf("parse --day: %w", err)
				}
				p := resolver.Locate(topic, day)
				if _, err := os.Stat(p.Path); err == nil {
					partitions = append(partitions, p)
				}
			} else {
				partitions, err = resolver.List(topic)
				if err != nil {
					return err
				}
			}

			for _, p := range partitions {
				existing, err := store.LoadExistingTexts(cmd.Context(), p)
				if err != nil {
					return err
				}
				var size int64
				if info, err := os.Stat(p.Path); err == nil {
					size = info.Size()
				}
				total += len(existing)
				t.AppendRow(table.Row{p.String(), len(existing), size, p.Path})
			}
		}
		t.AppendFooter(table.Row{"", total, "", ""})
		t.Render()
		return nil
	},
}
