package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joescharf/buildbench/internal/output"
)

var scoresCmd = &cobra.Command{
	Use:   "scores",
	Short: "Show benchmark scores",
	Long: `Show scores recorded under the app directory.

Running bare 'buildbench scores' is the same as 'buildbench scores list'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return scoresListRun()
	},
}

var scoresHighestCmd = &cobra.Command{
	Use:   "highest",
	Short: "Print the highest score across all runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return scoresHighestRun()
	},
}

var scoresLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the score of the most recent run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return scoresLatestRun()
	},
}

var scoresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every score record, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return scoresListRun()
	},
}

func init() {
	scoresCmd.AddCommand(scoresHighestCmd)
	scoresCmd.AddCommand(scoresLatestCmd)
	scoresCmd.AddCommand(scoresListCmd)
	rootCmd.AddCommand(scoresCmd)
}

func scoresHighestRun() error {
	best, err := ledger().Highest()
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "Highest Score: %d\n", best)
	return nil
}

func scoresLatestRun() error {
	rec, ok, err := ledger().Latest()
	if err != nil {
		return err
	}
	if !ok {
		ui.Info("No benchmark runs recorded yet")
		fmt.Fprintln(ui.Out, "Current Score: 0")
		return nil
	}
	fmt.Fprintf(ui.Out, "Latest Logfile: %s\n", filepath.Base(rec.Path))
	fmt.Fprintf(ui.Out, "Current Score: %d\n", rec.Score)
	return nil
}

func scoresListRun() error {
	records, err := ledger().Records()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		ui.Info("No benchmark runs recorded yet in %s", appDir())
		return nil
	}

	best := 0
	for _, r := range records {
		best = max(best, r.Score)
	}

	table := ui.Table([]string{"STARTED", "AGE", "SCORE", "FILE"})
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		_ = table.Append([]string{
			r.StartedAt.Format("2006-01-02 15:04:05"),
			humanize.Time(r.StartedAt),
			output.ScoreColor(r.Score, best),
			filepath.Base(r.Path),
		})
	}
	return table.Render()
}
