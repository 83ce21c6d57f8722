package subcommands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/vaultkeeper/internal/cmdutil"
	"github.com/leefowlercu/vaultkeeper/internal/config"
)

// ValidateCmd validates a configuration file.
var ValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Validate a configuration file",
	Long: "Validate a configuration file.\n\n" +
		"Checks the file for syntax errors and validates that all settings have " +
		"valid values. Returns exit code 0 if valid, 1 if invalid.",
	Example: `  # Validate the default configuration file
  vaultkeeper config validate

  # Validate a specific file
  vaultkeeper config validate ./config.yaml`,
	Args: cobra.MaximumNArgs(1),
	// The file under test is loaded here, not by the root command.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	PreRunE:           validateValidate,
	RunE:              runValidate,
}

func validateValidate(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	path := config.DefaultConfigPath()
	if len(args) == 1 {
		resolved, err := cmdutil.ResolvePath(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve path; %w", err)
		}
		path = resolved
	}

	if !config.ConfigExistsAt(path) {
		fmt.Fprintf(out, "No configuration file found at %s\n", path)
		fmt.Fprintln(out, "Using default configuration values.")
		return nil
	}

	if _, err := config.LoadFromPath(path); err != nil {
		fmt.Fprintln(out, "Configuration validation failed:")
		fmt.Fprintf(out, "  %v\n", err)
		return fmt.Errorf("configuration is invalid")
	}

	fmt.Fprintf(out, "Configuration is valid: %s\n", path)
	return nil
}
