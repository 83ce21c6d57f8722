// Package daemon provides the daemon parent command and subcommands.
package daemon

import (
	"github.com/spf13/cobra"

	"github.com/leefowlercu/vaultkeeper/cmd/daemon/subcommands"
)

// DaemonCmd is the parent command for all daemon-related subcommands.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the vaultkeeper daemon",
	Long: "Manage the vaultkeeper daemon.\n\n" +
		"The daemon watches the configured vault and dispatches file events to the " +
		"enabled handlers. Only one daemon may run per lock file. A running daemon " +
		"serves /healthz, /status, /stop and /metrics on its control address.",
}

func init() {
	DaemonCmd.AddCommand(subcommands.StartCmd)
	DaemonCmd.AddCommand(subcommands.StopCmd)
	DaemonCmd.AddCommand(subcommands.StatusCmd)
	DaemonCmd.AddCommand(subcommands.InstallCmd)
	DaemonCmd.AddCommand(subcommands.UninstallCmd)
}
