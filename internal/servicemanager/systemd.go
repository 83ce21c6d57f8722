package servicemanager

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
)

const systemdServiceName = "vaultkeeper.service"

// The daemon sends READY=1 and STOPPING=1, so the unit is Type=notify.
// A watcher failure exits non-zero and is restarted; "already running" exits
// zero and is not.
var systemdUnitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=Vaultkeeper note vault automation daemon
After=default.target
StartLimitBurst=5
StartLimitIntervalSec=60

[Service]
Type=notify
ExecStart={{.BinaryPath}}{{if .ConfigPath}} --config {{.ConfigPath}}{{end}} daemon start
Restart=on-failure
RestartSec=5
TimeoutStopSec=30

[Install]
WantedBy=default.target
`))

type systemdManager struct {
	executor CommandExecutor
	home     string
}

func (m *systemdManager) UnitPath() string {
	return filepath.Join(m.home, ".config", "systemd", "user", systemdServiceName)
}

func generateUnitFile(unit Unit) ([]byte, error) {
	var buf bytes.Buffer
	if err := systemdUnitTemplate.Execute(&buf, unit); err != nil {
		return nil, fmt.Errorf("failed to render unit file; %w", err)
	}
	return buf.Bytes(), nil
}

func (m *systemdManager) Install(ctx context.Context, unit Unit) (string, error) {
	content, err := generateUnitFile(unit)
	if err != nil {
		return "", err
	}

	path := m.UnitPath()
	if err := writeUnit(path, content); err != nil {
		return "", err
	}

	if _, err := m.executor.Run(ctx, "systemctl", "--user", "daemon-reload"); err != nil {
		return path, fmt.Errorf("failed to reload systemd; %w", err)
	}
	if _, err := m.executor.Run(ctx, "systemctl", "--user", "enable", "--now", systemdServiceName); err != nil {
		return path, fmt.Errorf("failed to enable service; %w", err)
	}

	return path, nil
}

func (m *systemdManager) Uninstall(ctx context.Context) error {
	// Not loaded or not enabled are both fine here.
	_, _ = m.executor.Run(ctx, "systemctl", "--user", "disable", "--now", systemdServiceName)

	if err := removeUnit(m.UnitPath()); err != nil {
		return err
	}

	_, _ = m.executor.Run(ctx, "systemctl", "--user", "daemon-reload")
	return nil
}

func (m *systemdManager) Status(ctx context.Context) (Status, error) {
	status := Status{State: ServiceStateNotInstalled, Path: m.UnitPath()}

	installed, err := exists(status.Path)
	if err != nil {
		return status, fmt.Errorf("failed to stat unit file; %w", err)
	}
	if !installed {
		return status, nil
	}

	output, err := m.executor.Run(ctx, "systemctl", "--user", "show", systemdServiceName,
		"--property=ActiveState,MainPID,UnitFileState")
	if err != nil {
		status.State = ServiceStateDisabled
		return status, nil
	}

	status.State, status.PID, status.Running = parseSystemctlOutput(string(output))
	return status, nil
}

// parseSystemctlOutput reads "systemctl show" key=value lines.
func parseSystemctlOutput(output string) (ServiceState, int, bool) {
	state := ServiceStateDisabled
	pid := 0
	running := false

	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}

		switch key {
		case "ActiveState":
			running = value == "active" || value == "activating" || value == "reloading"
		case "MainPID":
			if p, err := strconv.Atoi(value); err == nil && p > 0 {
				pid = p
			}
		case "UnitFileState":
			if value == "enabled" || value == "enabled-runtime" {
				state = ServiceStateEnabled
			}
		}
	}

	return state, pid, running
}
