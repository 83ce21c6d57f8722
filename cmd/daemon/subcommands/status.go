package subcommands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/vaultkeeper/internal/cmdutil"
	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/daemon"
	"github.com/leefowlercu/vaultkeeper/internal/daemonclient"
	"github.com/leefowlercu/vaultkeeper/internal/health"
	"github.com/leefowlercu/vaultkeeper/internal/lock"
	"github.com/leefowlercu/vaultkeeper/internal/servicemanager"
)

// errNotRunning is the snapshot error reported when no daemon holds the lock.
const errNotRunning = "daemon not running"

// DaemonStatus is what the status command reports.
type DaemonStatus struct {
	Running   bool           `json:"running"`
	PID       int            `json:"pid,omitempty"`
	StaleLock bool           `json:"stale_lock,omitempty"`
	Daemon    *daemon.Status `json:"daemon"`

	Service *servicemanager.Status `json:"service,omitempty"`
}

var (
	statusJSON bool
)

// StatusCmd shows the daemon status.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and health",
	Long: "Show daemon status and health.\n\n" +
		"Displays whether the daemon is running, its PID, lifecycle state, and the " +
		"aggregate health snapshot including per-handler failure ratios. When no " +
		"daemon holds the lock, the snapshot is reported unhealthy with " +
		"\"" + errNotRunning + "\".",
	Example: `  # Check daemon status
  vaultkeeper daemon status

  # Machine-readable output
  vaultkeeper daemon status --json`,
	PreRunE: validateStatus,
	RunE:    runStatus,
}

func init() {
	StatusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")
}

func validateStatus(cmd *cobra.Command, args []string) error {
	// All errors after this are runtime errors
	cmd.SilenceUsage = true
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.ConfigFrom(cmd.Context())
	if err != nil {
		return err
	}

	locks := lock.New(lock.WithLogger(cmdutil.LoggerFrom(cmd.Context())))
	client := daemonclient.New(cfg.Daemon)

	status, err := getDaemonStatus(cmd.Context(), cfg, client, locks)
	if err != nil {
		return fmt.Errorf("failed to get daemon status; %w", err)
	}

	if sm, err := newServiceManager(); err == nil {
		if svc, err := sm.Status(cmd.Context()); err == nil && svc.State != servicemanager.ServiceStateNotInstalled {
			status.Service = &svc
		}
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintln(out, formatStatus(status))
	return nil
}

// getDaemonStatus combines the lock file state with the daemon's own report.
func getDaemonStatus(ctx context.Context, cfg *config.Config, client *daemonclient.Client, locks *lock.Manager) (*DaemonStatus, error) {
	h, err := inspectLock(locks, lockPath(cfg))
	if err != nil {
		return nil, err
	}

	if !h.Running {
		return &DaemonStatus{
			PID:       h.PID,
			StaleLock: h.StaleLock,
			Daemon:    notRunningStatus(),
		}, nil
	}

	status := &DaemonStatus{Running: true, PID: h.PID}

	remote, err := client.Status(ctx)
	if err != nil {
		if !errors.Is(err, daemonclient.ErrUnreachable) {
			return nil, err
		}
		status.Daemon = unreachableStatus(h.PID)
		return status, nil
	}

	status.Daemon = remote
	if remote.PID != 0 {
		status.PID = remote.PID
	}
	return status, nil
}

func notRunningStatus() *daemon.Status {
	return &daemon.Status{
		Snapshot: health.Snapshot{
			OverallHealthy: false,
			Checks:         map[string]bool{},
			Errors:         []string{errNotRunning},
			TakenAt:        time.Now(),
		},
		State: daemon.StateStopped,
	}
}

func unreachableStatus(pid int) *daemon.Status {
	return &daemon.Status{
		Snapshot: health.Snapshot{
			OverallHealthy: false,
			LockHeld:       true,
			Checks:         map[string]bool{},
			Errors:         []string{"daemon control surface unreachable"},
			TakenAt:        time.Now(),
		},
		PID: pid,
	}
}

// formatStatus formats the daemon status for display.
func formatStatus(status *DaemonStatus) string {
	var sb strings.Builder

	if !status.Running {
		sb.WriteString("Daemon: not running")
		if status.StaleLock {
			sb.WriteString(fmt.Sprintf(" (stale lock file with PID %d)", status.PID))
		}
	} else {
		sb.WriteString(fmt.Sprintf("Daemon: running (PID %d)", status.PID))
	}

	if svc := status.Service; svc != nil {
		sb.WriteString(fmt.Sprintf("\nService: %s (%s)", svc.State, svc.Path))
	}

	d := status.Daemon
	if d == nil {
		return sb.String()
	}

	if d.State != "" {
		sb.WriteString(fmt.Sprintf("\nState: %s", d.State))
	}
	if !d.StartedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("\nStarted: %s", d.StartedAt.Format(time.RFC3339)))
	}

	healthy := "healthy"
	if !d.OverallHealthy {
		healthy = "unhealthy"
	}
	sb.WriteString(fmt.Sprintf("\nHealth: %s", healthy))

	if !d.LastActivity.IsZero() {
		sb.WriteString(fmt.Sprintf("\nLast activity: %s", d.LastActivity.Format(time.RFC3339)))
	}

	if len(d.Handlers) > 0 {
		names := make([]string, 0, len(d.Handlers))
		for name := range d.Handlers {
			names = append(names, name)
		}
		sort.Strings(names)

		sb.WriteString("\nHandlers:")
		for _, name := range names {
			hc := d.Handlers[name]
			state := "ok"
			if !hc.Healthy {
				state = "failing"
			}
			sb.WriteString(fmt.Sprintf("\n  - %s: %s (%d invocations, failure ratio %.2f over %d)",
				name, state, hc.Invocations, hc.FailureRatio, hc.Window))
			if hc.LastError != "" {
				sb.WriteString(fmt.Sprintf("\n      last error: %s", hc.LastError))
			}
		}
	}

	if d.Watcher.DegradedMode {
		sb.WriteString("\nWatcher: degraded")
	}

	for _, e := range d.Errors {
		sb.WriteString(fmt.Sprintf("\nError: %s", e))
	}
	for _, w := range d.Warnings {
		sb.WriteString(fmt.Sprintf("\nWarning: %s", w))
	}

	return sb.String()
}
