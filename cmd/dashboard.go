package cmd

import (
	"github.com/spf13/cobra"
)

// dashboardCmd opens the interactive TUI dashboard for the given tasks.
var dashboardCmd = &cobra.Command{
	Use:   "dashboard <task-id>...",
	Short: "Open TUI dashboard for watched tasks",
	Long: `Watches the given tasks and shows an interactive TUI dashboard.
Equivalent to "pvgstream watch --dashboard".

Panels:
  - Summary: aggregate counts, overall state, stream URL, uptime
  - Tasks: per-task status, progress, stream state and current step
  - Streams: message, reconnect and heartbeat counters

Keyboard shortcuts:
  q          quit dashboard
  r          manual refresh
  p          pause/resume all streams
  t          toggle task detail view
  tab        switch between panels
  up/down    scroll task list`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)

	dashboardCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Prometheus metrics address (e.g. :9090)")
}

// runDashboard runs the watch command with the dashboard enabled and no final output.
func runDashboard(cmd *cobra.Command, args []string) error {
	watchDashboard = true
	watchOutput = "none"
	return runWatch(cmd, args)
}
