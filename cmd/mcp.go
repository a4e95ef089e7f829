package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/buildbench/internal/mcp"
	"github.com/joescharf/buildbench/internal/power"
	"github.com/joescharf/buildbench/internal/prompt"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client query benchmark scores, run history and power
state. Configure it with:

  {
    "mcpServers": {
      "buildbench": { "command": "buildbench", "args": ["mcp"] }
    }
  }

Available tools: bench_highest_score, bench_latest_score, bench_list_runs,
bench_get_run, bench_power_status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			ui.Warning("Run history disabled: %v", err)
		}
		// stdin carries the protocol, so nothing may prompt.
		monitor := power.NewBatteryMonitor(prompt.AssumeYes{})
		srv := mcp.NewServer(ledger(), s, monitor, pidFile(), buildVersion)
		return srv.ServeStdio(cmdContext(cmd))
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
