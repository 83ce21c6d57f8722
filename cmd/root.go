package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	configcmd "github.com/leefowlercu/vaultkeeper/cmd/config"
	daemoncmd "github.com/leefowlercu/vaultkeeper/cmd/daemon"
	versioncmd "github.com/leefowlercu/vaultkeeper/cmd/version"
	"github.com/leefowlercu/vaultkeeper/internal/cmdutil"
	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/logging"
)

// logManager is the global logging manager, created in init() and upgraded after config loads
var logManager *logging.Manager

var configPath string

var vaultkeeperCmd = &cobra.Command{
	Use:   "vaultkeeper",
	Short: "Automation daemon for a personal note vault",
	Long: "Vaultkeeper watches a directory of notes and runs a configured set of handlers " +
		"whenever a file is created, modified, or deleted.\n\n" +
		"A single daemon instance per vault is enforced with a lock file. Handlers run " +
		"in isolation with per-handler deadlines, and the daemon reports aggregate " +
		"health over a local HTTP control surface.",
	PersistentPreRunE: runInitialize,
}

func init() {
	logManager = logging.NewManager()
	slog.SetDefault(logManager.Logger())

	vaultkeeperCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to config file (default: search $VAULTKEEPER_CONFIG_DIR, ~/.config/vaultkeeper, .)")

	vaultkeeperCmd.AddCommand(daemoncmd.DaemonCmd)
	vaultkeeperCmd.AddCommand(configcmd.ConfigCmd)
	vaultkeeperCmd.AddCommand(versioncmd.VersionCmd)
}

func runInitialize(cmd *cobra.Command, args []string) error {
	logger := logManager.Logger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logFile := config.ExpandPath(cfg.LogFile)
	level, ok := logging.ParseLevel(cfg.LogLevel)
	if !ok {
		level = logging.DefaultLevel
		if cfg.LogLevel != "" {
			logger.Warn("invalid log level configured, using default", "configured", cfg.LogLevel, "default", "info")
		}
	}

	rotation := logging.Rotation{
		MaxSizeMB:  cfg.LogRotation.MaxSizeMB,
		MaxBackups: cfg.LogRotation.MaxBackups,
		MaxAgeDays: cfg.LogRotation.MaxAgeDays,
		Compress:   cfg.LogRotation.Compress,
	}
	if err := logManager.Upgrade(logFile, level, rotation); err != nil {
		logger.Warn("failed to enable file logging, continuing with stderr only", "error", err)
	}

	ctx := cmdutil.WithConfig(cmd.Context(), cfg)
	cmd.SetContext(cmdutil.WithLogger(ctx, logger))
	return nil
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Load()
	}
	path, err := cmdutil.ResolvePath(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path; %w", err)
	}
	return config.LoadFromPath(path)
}

func Execute() error {
	vaultkeeperCmd.SilenceErrors = true
	vaultkeeperCmd.SilenceUsage = true

	defer func() { _ = logManager.Close() }()

	err := vaultkeeperCmd.Execute()

	if err != nil {
		cmd, _, _ := vaultkeeperCmd.Find(os.Args[1:])
		if cmd == nil {
			cmd = vaultkeeperCmd
		}

		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if !cmd.SilenceUsage {
			fmt.Fprintln(os.Stderr)
			cmd.SetOut(os.Stderr)
			_ = cmd.Usage()
		}

		return err
	}

	return nil
}
