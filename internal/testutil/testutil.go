// Package testutil provides isolated environments for tests that load
// configuration.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leefowlercu/vaultkeeper/internal/config"
)

// TestEnv is a scratch home, config directory and vault for one test.
type TestEnv struct {
	t         *testing.T
	Home      string
	ConfigDir string
	VaultRoot string
}

// NewTestEnv points every configurable path into a temp directory through
// environment overrides. Cleanup is automatic via t.Setenv and t.TempDir.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	home := t.TempDir()
	configDir := filepath.Join(home, "config")
	vaultRoot := filepath.Join(home, "vault")
	for _, dir := range []string{configDir, vaultRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", dir, err)
		}
	}

	t.Setenv("HOME", home)
	t.Setenv(config.EnvPrefix+"_CONFIG_DIR", configDir)
	t.Setenv(config.EnvPrefix+"_LOG_FILE", filepath.Join(configDir, "vaultkeeper.log"))
	t.Setenv(config.EnvPrefix+"_DAEMON_LOCK_FILE", filepath.Join(configDir, "daemon.lock"))
	t.Setenv(config.EnvPrefix+"_VAULT_ROOT", vaultRoot)

	return &TestEnv{
		t:         t,
		Home:      home,
		ConfigDir: configDir,
		VaultRoot: vaultRoot,
	}
}

// LockPath returns the lock file the environment configures.
func (e *TestEnv) LockPath() string {
	return filepath.Join(e.ConfigDir, "daemon.lock")
}

// ConfigPath returns the config file location inside the environment.
func (e *TestEnv) ConfigPath() string {
	return filepath.Join(e.ConfigDir, "config.yaml")
}

// WriteConfig writes content as the environment's config.yaml.
func (e *TestEnv) WriteConfig(content string) string {
	e.t.Helper()

	path := e.ConfigPath()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// Load reads configuration as the CLI would.
func (e *TestEnv) Load() *config.Config {
	e.t.Helper()

	cfg, err := config.Load()
	if err != nil {
		e.t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// CreateVaultFile writes content to name under the vault root, creating
// parent directories.
func (e *TestEnv) CreateVaultFile(name, content string) string {
	e.t.Helper()

	path := filepath.Join(e.VaultRoot, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.t.Fatalf("failed to create dir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatalf("failed to create vault file %s: %v", name, err)
	}
	return path
}
