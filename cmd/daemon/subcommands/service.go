package subcommands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/vaultkeeper/internal/cmdutil"
	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/servicemanager"
)

// newServiceManager is replaced in tests.
var newServiceManager = func() (servicemanager.Manager, error) {
	return servicemanager.New(servicemanager.DetectPlatform())
}

// InstallCmd installs the daemon as a user service.
var InstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the daemon as a user service",
	Long: "Install the daemon as a user service.\n\n" +
		"Writes a systemd user unit (Linux) or launchd agent (macOS) that runs " +
		"'vaultkeeper daemon start', then enables and starts it. The unit restarts " +
		"the daemon when it exits with an error.",
	Example: `  # Install and start the service
  vaultkeeper daemon install

  # Install with an explicit config file
  vaultkeeper --config ~/vk.yaml daemon install`,
	PreRunE: validateService,
	RunE:    runInstall,
}

// UninstallCmd removes the user service.
var UninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the daemon user service",
	Long: "Stop and remove the daemon user service.\n\n" +
		"Disables the unit, stops the daemon if the service manager is running it, " +
		"and deletes the unit file.",
	PreRunE: validateService,
	RunE:    runUninstall,
}

func validateService(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.ConfigFrom(cmd.Context())
	if err != nil {
		return err
	}

	sm, err := newServiceManager()
	if err != nil {
		return err
	}
	return installService(cmd.Context(), sm, cfg, servicemanager.BinaryPath(), cmd.OutOrStdout())
}

func installService(ctx context.Context, sm servicemanager.Manager, cfg *config.Config, binary string, out io.Writer) error {
	unit := servicemanager.Unit{BinaryPath: binary, ConfigPath: cfg.Source()}

	path, err := sm.Install(ctx, unit)
	if err != nil {
		return fmt.Errorf("failed to install service; %w", err)
	}

	fmt.Fprintf(out, "Service installed: %s\n", path)
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	sm, err := newServiceManager()
	if err != nil {
		return err
	}

	if err := sm.Uninstall(cmd.Context()); err != nil {
		return fmt.Errorf("failed to uninstall service; %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Service removed: %s\n", sm.UnitPath())
	return nil
}
