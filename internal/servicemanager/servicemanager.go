// Package servicemanager installs vaultkeeper as a per-user system service
// (systemd on Linux, launchd on macOS).
package servicemanager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Platform represents an operating system platform.
type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformMacOS   Platform = "darwin"
	PlatformUnknown Platform = "unknown"
)

// DetectPlatform returns the current platform.
func DetectPlatform() Platform {
	switch runtime.GOOS {
	case "linux":
		return PlatformLinux
	case "darwin":
		return PlatformMacOS
	default:
		return PlatformUnknown
	}
}

// ServiceState represents the installation state of the service.
type ServiceState string

const (
	ServiceStateEnabled      ServiceState = "enabled"
	ServiceStateDisabled     ServiceState = "disabled"
	ServiceStateNotInstalled ServiceState = "not-installed"
)

// Unit describes the service to install.
type Unit struct {
	// BinaryPath is the vaultkeeper executable.
	BinaryPath string
	// ConfigPath is passed as --config when set.
	ConfigPath string
}

// Status is the service manager's view of the unit.
type Status struct {
	State   ServiceState `json:"state"`
	Running bool         `json:"running"`
	PID     int          `json:"pid,omitempty"`
	Path    string       `json:"path"`
}

// Manager installs and controls the vaultkeeper service.
type Manager interface {
	// Install writes the unit file and enables it.
	Install(ctx context.Context, unit Unit) (string, error)
	// Uninstall stops and disables the unit and removes its file.
	Uninstall(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	// UnitPath is where the unit file lives.
	UnitPath() string
}

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command and returns its combined output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execExecutor struct{}

func (execExecutor) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %v failed; %w: %s", name, args, err, out)
	}
	return out, nil
}

type options struct {
	executor CommandExecutor
	home     string
}

// Option configures a Manager.
type Option func(*options)

// WithExecutor replaces os/exec for running systemctl or launchctl.
func WithExecutor(e CommandExecutor) Option {
	return func(o *options) {
		o.executor = e
	}
}

// WithHomeDir roots unit file paths at dir instead of the user's home.
func WithHomeDir(dir string) Option {
	return func(o *options) {
		o.home = dir
	}
}

// New returns the Manager for platform.
func New(platform Platform, opts ...Option) (Manager, error) {
	o := options{executor: execExecutor{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory; %w", err)
		}
		o.home = home
	}

	switch platform {
	case PlatformLinux:
		return &systemdManager{executor: o.executor, home: o.home}, nil
	case PlatformMacOS:
		return &launchdManager{executor: o.executor, home: o.home}, nil
	default:
		return nil, fmt.Errorf("platform %s is not supported", platform)
	}
}

// BinaryPath returns the running executable, falling back to a PATH lookup.
func BinaryPath() string {
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	if path, err := exec.LookPath("vaultkeeper"); err == nil {
		return path
	}
	return "vaultkeeper"
}

func writeUnit(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create unit directory; %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write unit file; %w", err)
	}
	return nil
}

func removeUnit(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove unit file; %w", err)
	}
	return nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
