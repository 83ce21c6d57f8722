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

const launchdLabel = "com.leefowlercu.vaultkeeper"

var launchdPlistTemplate = template.Must(template.New("plist").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.BinaryPath}}</string>
{{- if .ConfigPath}}
        <string>--config</string>
        <string>{{.ConfigPath}}</string>
{{- end}}
        <string>daemon</string>
        <string>start</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>
`))

type launchdManager struct {
	executor CommandExecutor
	home     string
}

func (m *launchdManager) UnitPath() string {
	return filepath.Join(m.home, "Library", "LaunchAgents", launchdLabel+".plist")
}

func generatePlist(unit Unit) ([]byte, error) {
	data := struct {
		Unit
		Label string
	}{Unit: unit, Label: launchdLabel}

	var buf bytes.Buffer
	if err := launchdPlistTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render plist; %w", err)
	}
	return buf.Bytes(), nil
}

func (m *launchdManager) Install(ctx context.Context, unit Unit) (string, error) {
	content, err := generatePlist(unit)
	if err != nil {
		return "", err
	}

	path := m.UnitPath()
	if err := writeUnit(path, content); err != nil {
		return "", err
	}

	if _, err := m.executor.Run(ctx, "launchctl", "load", "-w", path); err != nil {
		return path, fmt.Errorf("failed to load service with launchctl; %w", err)
	}
	return path, nil
}

func (m *launchdManager) Uninstall(ctx context.Context) error {
	path := m.UnitPath()
	_, _ = m.executor.Run(ctx, "launchctl", "unload", path)
	return removeUnit(path)
}

func (m *launchdManager) Status(ctx context.Context) (Status, error) {
	status := Status{State: ServiceStateNotInstalled, Path: m.UnitPath()}

	installed, err := exists(status.Path)
	if err != nil {
		return status, fmt.Errorf("failed to stat plist; %w", err)
	}
	if !installed {
		return status, nil
	}

	output, err := m.executor.Run(ctx, "launchctl", "list", launchdLabel)
	if err != nil {
		status.State = ServiceStateDisabled
		return status, nil
	}

	status.State = ServiceStateEnabled
	status.PID, status.Running = parseLaunchctlOutput(string(output))
	return status, nil
}

// parseLaunchctlOutput finds the "PID" = N; entry of launchctl list <label>.
func parseLaunchctlOutput(output string) (int, bool) {
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || strings.TrimSpace(key) != `"PID"` {
			continue
		}
		value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), ";"))
		if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
			return pid, true
		}
	}
	return 0, false
}
