package commands

import (
	"context"
	"finscrape/lib/util/serviceutil"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var configPath *string

var rootCmd = &cobra.Command{
	Use:           "finscrape",
	Short:         "finscrape collects finance related posts from social media into daily logs.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	configPath = rootCmd.PersistentFlags().String(
		"config", "",
		"Path to the config file, config.json5 is searched upwards from the working directory when empty.",
	)
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		serviceutil.Fatal("command failed", err)
	}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
