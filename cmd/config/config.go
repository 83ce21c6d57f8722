// Package config provides the config parent command and subcommands.
package config

import (
	"github.com/spf13/cobra"

	"github.com/leefowlercu/vaultkeeper/cmd/config/subcommands"
)

// ConfigCmd is the parent command for all config-related subcommands.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage vaultkeeper configuration",
	Long: "Manage vaultkeeper configuration.\n\n" +
		"Configuration is stored in a YAML file located at " +
		"~/.config/vaultkeeper/config.yaml by default. Every key can be overridden " +
		"with a VAULTKEEPER_ environment variable.",
}

func init() {
	ConfigCmd.AddCommand(subcommands.InitCmd)
	ConfigCmd.AddCommand(subcommands.ShowCmd)
	ConfigCmd.AddCommand(subcommands.ValidateCmd)
}
