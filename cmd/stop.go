package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Interrupt the running benchmark",
	Long: `Send an interrupt to the benchmark running on this machine. It removes
its build directory and records the run as interrupted; the score so far is kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopRun()
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func stopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		return fmt.Errorf("no benchmark is running")
	}

	if dryRun {
		ui.DryRunMsg("Would interrupt benchmark (pid %d)", pid)
		return nil
	}

	if err := pf.Signal(sigINT()); err != nil {
		return fmt.Errorf("interrupt benchmark (pid %d): %w", pid, err)
	}
	ui.Success("Interrupted benchmark (pid %d)", pid)
	return nil
}
