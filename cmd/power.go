package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/buildbench/internal/output"
	"github.com/joescharf/buildbench/internal/power"
	"github.com/joescharf/buildbench/internal/prompt"
)

// presenceReporter is implemented by monitors that can tell a desktop from a
// laptop.
type presenceReporter interface {
	Present() (bool, error)
}

var powerCmd = &cobra.Command{
	Use:   "power",
	Short: "Show battery charge, charging state, and whether a benchmark is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Reporting only; a missing battery is shown, not asked about.
		return powerRun(power.NewBatteryMonitor(prompt.AssumeYes{}))
	},
}

func init() {
	rootCmd.AddCommand(powerCmd)
}

func powerRun(m power.Monitor) error {
	st, err := power.Read(m)
	if err != nil {
		return err
	}

	state := st.Charging.String()
	if st.Charging.PluggedIn() {
		state = output.Yellow(state) + " (unplug before benchmarking)"
	} else {
		state = output.Green(state)
	}

	if pr, ok := m.(presenceReporter); ok {
		if present, err := pr.Present(); err == nil && !present {
			ui.Warning("No battery detected; readings are desktop defaults")
		}
	}

	fmt.Fprintf(ui.Out, "Battery:   %d%%\n", st.Percentage)
	fmt.Fprintf(ui.Out, "Charging:  %s\n", state)

	if pid, running := pidFile().IsRunning(); running {
		fmt.Fprintf(ui.Out, "Benchmark: %s (pid %d)\n", output.Yellow("running"), pid)
	} else {
		fmt.Fprintf(ui.Out, "Benchmark: %s\n", "not running")
	}
	return nil
}
