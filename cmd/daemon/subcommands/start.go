package subcommands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leefowlercu/vaultkeeper/internal/cmdutil"
	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/daemon"
	"github.com/leefowlercu/vaultkeeper/internal/metrics"
	"github.com/leefowlercu/vaultkeeper/internal/version"
)

// StartCmd starts the daemon in foreground mode.
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in foreground mode",
	Long: "Start the daemon in foreground mode.\n\n" +
		"The daemon acquires the instance lock, watches the vault and dispatches " +
		"events until it receives SIGINT or SIGTERM, a stop request arrives on the " +
		"control surface, or the watcher fails. If another instance already holds " +
		"the lock, start reports it and exits successfully.",
	Example: `  # Start daemon in foreground
  vaultkeeper daemon start

  # Start daemon in background
  nohup vaultkeeper daemon start &`,
	PreRunE: validateStart,
	RunE:    runStart,
}

func validateStart(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.ConfigFrom(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runDaemon(ctx, cfg, cmdutil.LoggerFrom(cmd.Context()), cmd.OutOrStdout())
}

// runDaemon runs the lifecycle manager and its control surface until ctx ends
// or the daemon stops on its own.
func runDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	comps := daemon.Build(cfg, logger)
	m := comps.Manager

	res, err := m.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start daemon; %w", err)
	}
	if res.Status == daemon.StatusAlreadyRunning {
		fmt.Fprintf(out, "Daemon already running (PID %d)\n", res.PID)
		return nil
	}

	collector := metrics.NewCollector(
		time.Duration(cfg.Daemon.Metrics.CollectionInterval)*time.Second,
		version.Get().Version,
	)
	collector.Register("watcher", comps.Watcher)
	collector.Register("daemon", m)
	collector.Start(ctx)
	defer collector.Stop()

	srv := daemon.NewServer(m,
		daemon.ServerConfig{Bind: cfg.Daemon.HTTPBind, Port: cfg.Daemon.HTTPPort},
		daemon.WithMetricsHandler(metrics.Handler()),
	)
	addr, err := srv.Listen()
	if err != nil {
		_, _ = m.Stop(context.Background())
		return fmt.Errorf("failed to start control surface; %w", err)
	}

	logger.Info("control surface listening", "addr", addr.String())
	fmt.Fprintf(out, "Daemon started (PID %d), control surface on %s\n", res.PID, addr)
	daemon.NotifyReady(logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Start(gctx)
	})

	g.Go(func() error {
		err := m.Wait(gctx)
		if err != nil && gctx.Err() != nil && errors.Is(err, gctx.Err()) {
			daemon.NotifyStopping(logger)
			logger.Info("stopping daemon")
			_, err = m.Stop(context.Background())
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Daemon.ShutdownDuration()+time.Second)
		defer cancel()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("control surface shutdown failed", "error", shutdownErr)
		}

		if err != nil {
			return fmt.Errorf("daemon stopped with error; %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintln(out, "Daemon stopped")
	return nil
}
