// Package subcommands provides the config subcommands (init, show, validate).
package subcommands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/vaultkeeper/internal/cmdutil"
	"github.com/leefowlercu/vaultkeeper/internal/config"
)

// ErrConfigExists is returned by init when a config file is already present.
var ErrConfigExists = errors.New("config file already exists")

var (
	initPath      string
	initVaultRoot string
	initForce     bool
)

// InitCmd writes a default configuration file.
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: "Write a default configuration file.\n\n" +
		"Creates config.yaml populated with every default value. An existing file " +
		"is left untouched unless --force is given.",
	Example: `  # Write ~/.config/vaultkeeper/config.yaml
  vaultkeeper config init

  # Point the daemon at a different vault
  vaultkeeper config init --vault-root ~/Documents/Vault`,
	// An unreadable existing config must not prevent rewriting it.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	PreRunE:           validateInit,
	RunE:              runInit,
}

func init() {
	InitCmd.Flags().StringVar(&initPath, "path", "", "Config file to write (default: "+config.DefaultConfigPath()+")")
	InitCmd.Flags().StringVar(&initVaultRoot, "vault-root", "", "Vault directory to watch")
	InitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func validateInit(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.DefaultConfigPath()
	if initPath != "" {
		resolved, err := cmdutil.ResolvePath(initPath)
		if err != nil {
			return fmt.Errorf("failed to resolve path; %w", err)
		}
		path = resolved
	}

	if config.ConfigExistsAt(path) && !initForce {
		return fmt.Errorf("%w at %s; use --force to overwrite", ErrConfigExists, path)
	}

	cfg := config.NewDefaultConfig()
	if initVaultRoot != "" {
		cfg.Vault.Root = initVaultRoot
	}
	if err := config.Validate(&cfg); err != nil {
		return err
	}

	if err := config.Write(&cfg, path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}
