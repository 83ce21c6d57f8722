package daemon

import (
	"log/slog"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells systemd the daemon is serving. Outside systemd it does
// nothing.
func NotifyReady(logger *slog.Logger) {
	notify(logger, sddaemon.SdNotifyReady)
}

// NotifyStopping tells systemd a graceful stop has begun.
func NotifyStopping(logger *slog.Logger) {
	notify(logger, sddaemon.SdNotifyStopping)
}

func notify(logger *slog.Logger, state string) {
	sent, err := sddaemon.SdNotify(false, state)
	if err != nil {
		logger.Warn("failed to notify systemd", "state", state, "error", err)
		return
	}
	if sent {
		logger.Debug("notified systemd", "state", state)
	}
}
