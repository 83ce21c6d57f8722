package subcommands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/vaultkeeper/internal/cmdutil"
	"github.com/leefowlercu/vaultkeeper/internal/config"
)

var (
	showRaw bool
)

// ShowCmd displays the current configuration.
var ShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the current configuration",
	Long: "Display the current configuration.\n\n" +
		"By default, shows the effective configuration with defaults and " +
		"environment overrides applied. Use --raw to print the config file as written.",
	Example: `  # Show effective configuration
  vaultkeeper config show

  # Show the config file as written
  vaultkeeper config show --raw`,
	PreRunE: validateShow,
	RunE:    runShow,
}

func init() {
	ShowCmd.Flags().BoolVar(&showRaw, "raw", false, "Show the config file contents instead of effective values")
}

func validateShow(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.ConfigFrom(cmd.Context())
	if err != nil {
		return err
	}

	if showRaw {
		return showRawConfig(cmd, cfg)
	}
	return showEffectiveConfig(cmd, cfg)
}

func showRawConfig(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()

	path := cfg.Source()
	if path == "" {
		fmt.Fprintln(out, "# No configuration file found")
		fmt.Fprintf(out, "# Default location: %s\n", config.DefaultConfigPath())
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(out, "# Configuration file %s no longer exists\n", path)
			return nil
		}
		return fmt.Errorf("failed to read config file; %w", err)
	}

	fmt.Fprintf(out, "# Configuration file: %s\n", path)
	fmt.Fprintln(out, string(data))
	return nil
}

func showEffectiveConfig(cmd *cobra.Command, cfg *config.Config) error {
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}

	source := cfg.Source()
	if source == "" {
		source = "(none, defaults and environment only)"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# Effective configuration (with defaults)")
	fmt.Fprintf(out, "# Config file: %s\n", source)
	fmt.Fprintln(out, string(data))
	return nil
}
