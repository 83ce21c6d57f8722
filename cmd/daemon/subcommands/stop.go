package subcommands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/leefowlercu/vaultkeeper/internal/cmdutil"
	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/daemon"
	"github.com/leefowlercu/vaultkeeper/internal/daemonclient"
	"github.com/leefowlercu/vaultkeeper/internal/lock"
)

// StopCmd stops a running daemon.
var StopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon gracefully",
	Long: "Stop the running daemon gracefully.\n\n" +
		"Asks the daemon to stop through its control surface. If the control surface " +
		"does not answer, SIGTERM is sent to the PID recorded in the lock file. A " +
		"lock file left behind by a dead process is removed.",
	Example: `  # Stop the daemon
  vaultkeeper daemon stop`,
	PreRunE: validateStop,
	RunE:    runStop,
}

var (
	stopTimeout time.Duration
)

func init() {
	StopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second,
		"Maximum time to wait for daemon to stop")
}

func validateStop(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.ConfigFrom(cmd.Context())
	if err != nil {
		return err
	}

	logger := cmdutil.LoggerFrom(cmd.Context())
	client := daemonclient.New(cfg.Daemon, daemonclient.WithTimeout(stopTimeout))
	locks := lock.New(lock.WithLogger(logger))

	res, err := stopDaemon(cmd.Context(), cfg, client, locks, logger)
	if err != nil {
		return fmt.Errorf("failed to stop daemon; %w", err)
	}

	printStopResult(cmd.OutOrStdout(), res)
	return nil
}

// stopOutcome is what stopDaemon did.
type stopOutcome struct {
	Status       string
	PID          int
	CleanedStale bool
	Signaled     bool
}

func stopDaemon(ctx context.Context, cfg *config.Config, client *daemonclient.Client, locks *lock.Manager, logger *slog.Logger) (stopOutcome, error) {
	path := lockPath(cfg)

	h, err := inspectLock(locks, path)
	if err != nil {
		return stopOutcome{}, err
	}

	if h.StaleLock {
		removed, err := locks.RemoveStale(path)
		if err != nil {
			return stopOutcome{}, fmt.Errorf("failed to remove stale lock file; %w", err)
		}
		if removed {
			logger.Info("removed stale lock file", "path", path, "pid", h.PID)
			return stopOutcome{Status: daemon.StatusNotRunning, PID: h.PID, CleanedStale: true}, nil
		}

		// A daemon took the lock after it was inspected.
		if h, err = inspectLock(locks, path); err != nil {
			return stopOutcome{}, err
		}
		if h.StaleLock {
			return stopOutcome{Status: daemon.StatusNotRunning, PID: h.PID}, nil
		}
	}
	if !h.Running {
		return stopOutcome{Status: daemon.StatusNotRunning}, nil
	}

	res, err := client.Stop(ctx)
	if err == nil {
		return stopOutcome{Status: res.Status, PID: h.PID}, nil
	}
	if !errors.Is(err, daemonclient.ErrUnreachable) {
		return stopOutcome{}, err
	}
	if h.PID == 0 {
		return stopOutcome{}, fmt.Errorf("control surface unreachable and lock file has no PID; %w", err)
	}

	logger.Debug("control surface unreachable, sending SIGTERM", "pid", h.PID, "error", err)
	if err := signalAndWait(h.PID, stopTimeout); err != nil {
		return stopOutcome{}, err
	}
	return stopOutcome{Status: daemon.StatusStopped, PID: h.PID, Signaled: true}, nil
}

// signalAndWait sends SIGTERM to pid and polls until it exits or timeout
// passes.
func signalAndWait(pid int, timeout time.Duration) error {
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("failed to send SIGTERM; %w", err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !lock.ProcessAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("daemon (PID %d) did not stop within %s", pid, timeout)
}

func printStopResult(out io.Writer, res stopOutcome) {
	switch {
	case res.CleanedStale:
		fmt.Fprintf(out, "Daemon not running; removed stale lock file (PID %d)\n", res.PID)
	case res.Status == daemon.StatusNotRunning:
		fmt.Fprintln(out, "Daemon not running")
	case res.Signaled:
		fmt.Fprintf(out, "Daemon stopped (sent SIGTERM to PID %d)\n", res.PID)
	default:
		fmt.Fprintln(out, "Daemon stopped")
	}
}
