package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joescharf/buildbench/internal/git"
	"github.com/joescharf/buildbench/internal/output"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List benchmark run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runsListRun(cmd)
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one run by ID, ID prefix, or score file name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runsShowRun(cmd, args[0])
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "l", 20, "Maximum runs to list (0 for all)")
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func runsListRun(cmd *cobra.Command) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	runs, err := s.ListRuns(cmdContext(cmd), runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.Info("No runs recorded yet")
		return nil
	}

	best := 0
	for _, r := range runs {
		best = max(best, r.Score)
	}

	table := ui.Table([]string{"ID", "STARTED", "REPO", "BUILD", "STATUS", "SCORE"})
	for _, r := range runs {
		_ = table.Append([]string{
			shortID(r.ID),
			humanize.Time(r.StartedAt),
			git.ShortName(r.RepoURL),
			r.BuildCmd,
			output.RunStatusColor(string(r.Status)),
			output.ScoreColor(r.Score, best),
		})
	}
	return table.Render()
}

func runsShowRun(cmd *cobra.Command, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	r, err := s.GetRun(cmdContext(cmd), id)
	if err != nil {
		return err
	}

	duration := "-"
	if r.EndedAt != nil {
		duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
	}

	fmt.Fprintf(ui.Out, "Run:        %s\n", output.Cyan(r.ID))
	fmt.Fprintf(ui.Out, "Score file: %s\n", r.ScoreFile)
	fmt.Fprintf(ui.Out, "Repository: %s\n", r.RepoURL)
	if r.SourceCommit != "" {
		fmt.Fprintf(ui.Out, "Commit:     %s\n", r.SourceCommit)
	}
	fmt.Fprintf(ui.Out, "Build:      %s\n", r.BuildCmd)
	fmt.Fprintf(ui.Out, "Gate:       %s\n", r.GatePolicy)
	fmt.Fprintf(ui.Out, "Status:     %s\n", output.RunStatusColor(string(r.Status)))
	fmt.Fprintf(ui.Out, "Score:      %s\n", strconv.Itoa(r.Score))
	fmt.Fprintf(ui.Out, "Started:    %s (%s)\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(r.StartedAt))
	fmt.Fprintf(ui.Out, "Duration:   %s\n", duration)
	if r.Error != "" {
		fmt.Fprintf(ui.Out, "Error:      %s\n", output.Red(r.Error))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
