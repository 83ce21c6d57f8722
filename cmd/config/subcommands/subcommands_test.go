package subcommands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/leefowlercu/vaultkeeper/internal/cmdutil"
	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/testutil"
)

func newTestCmd(ctx context.Context) (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetContext(ctx)
	return cmd, &buf
}

func resetInitFlags(t *testing.T) {
	t.Helper()
	initPath, initVaultRoot, initForce = "", "", false
	t.Cleanup(func() { initPath, initVaultRoot, initForce = "", "", false })
}

func TestInit_WritesDefaults(t *testing.T) {
	env := testutil.NewTestEnv(t)
	resetInitFlags(t)
	initVaultRoot = env.VaultRoot

	cmd, out := newTestCmd(context.Background())
	if err := runInit(cmd, nil); err != nil {
		t.Fatalf("runInit() error = %v", err)
	}

	if !strings.Contains(out.String(), env.ConfigPath()) {
		t.Errorf("output = %q, want config path", out.String())
	}

	cfg, err := config.LoadFromPath(env.ConfigPath())
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.Vault.Root != env.VaultRoot {
		t.Errorf("Vault.Root = %q, want %q", cfg.Vault.Root, env.VaultRoot)
	}
	if len(cfg.Handlers) != len(config.DefaultHandlers()) {
		t.Errorf("len(Handlers) = %d, want %d", len(cfg.Handlers), len(config.DefaultHandlers()))
	}
}

func TestInit_RefusesOverwriteWithoutForce(t *testing.T) {
	env := testutil.NewTestEnv(t)
	resetInitFlags(t)
	env.WriteConfig("log_level: debug\n")

	cmd, _ := newTestCmd(context.Background())
	err := runInit(cmd, nil)
	if !errors.Is(err, ErrConfigExists) {
		t.Fatalf("runInit() error = %v, want ErrConfigExists", err)
	}

	data, _ := os.ReadFile(env.ConfigPath())
	if string(data) != "log_level: debug\n" {
		t.Errorf("config was modified: %q", data)
	}

	initForce = true
	if err := runInit(cmd, nil); err != nil {
		t.Fatalf("runInit(--force) error = %v", err)
	}
	data, _ = os.ReadFile(env.ConfigPath())
	if !strings.HasPrefix(string(data), "# vaultkeeper configuration") {
		t.Errorf("config not rewritten: %q", data)
	}
}

func TestInit_CustomPath(t *testing.T) {
	env := testutil.NewTestEnv(t)
	resetInitFlags(t)
	initPath = filepath.Join(env.Home, "elsewhere", "vk.yaml")

	cmd, _ := newTestCmd(context.Background())
	if err := runInit(cmd, nil); err != nil {
		t.Fatalf("runInit() error = %v", err)
	}
	if !config.ConfigExistsAt(initPath) {
		t.Errorf("config not written to %s", initPath)
	}
	if config.ConfigExistsAt(env.ConfigPath()) {
		t.Error("default config path should be untouched")
	}
}

func TestShow_Effective(t *testing.T) {
	env := testutil.NewTestEnv(t)
	showRaw = false
	t.Cleanup(func() { showRaw = false })

	cfg := env.Load()
	cmd, out := newTestCmd(cmdutil.WithConfig(context.Background(), cfg))
	if err := runShow(cmd, nil); err != nil {
		t.Fatalf("runShow() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{"# Effective configuration", "defaults and environment only", env.VaultRoot, "http_port: 7610"} {
		if !strings.Contains(got, want) {
			t.Errorf("show output missing %q:\n%s", want, got)
		}
	}
}

func TestShow_Raw(t *testing.T) {
	env := testutil.NewTestEnv(t)
	showRaw = true
	t.Cleanup(func() { showRaw = false })

	cmd, out := newTestCmd(cmdutil.WithConfig(context.Background(), env.Load()))
	if err := runShow(cmd, nil); err != nil {
		t.Fatalf("runShow() error = %v", err)
	}
	if !strings.Contains(out.String(), "No configuration file found") {
		t.Errorf("raw output without file = %q", out.String())
	}

	env.WriteConfig("log_level: warn\n")
	cmd, out = newTestCmd(cmdutil.WithConfig(context.Background(), env.Load()))
	if err := runShow(cmd, nil); err != nil {
		t.Fatalf("runShow() error = %v", err)
	}
	if !strings.Contains(out.String(), "log_level: warn") {
		t.Errorf("raw output = %q, want file contents", out.String())
	}
}

func TestShow_RequiresConfig(t *testing.T) {
	cmd, _ := newTestCmd(context.Background())
	if err := runShow(cmd, nil); !errors.Is(err, cmdutil.ErrNoConfig) {
		t.Errorf("runShow() error = %v, want ErrNoConfig", err)
	}
}

func TestValidate(t *testing.T) {
	env := testutil.NewTestEnv(t)

	cmd, out := newTestCmd(context.Background())
	if err := runValidate(cmd, nil); err != nil {
		t.Fatalf("runValidate(no file) error = %v", err)
	}
	if !strings.Contains(out.String(), "No configuration file found") {
		t.Errorf("output = %q", out.String())
	}

	env.WriteConfig("daemon:\n  http_port: 70000\n")
	cmd, out = newTestCmd(context.Background())
	if err := runValidate(cmd, nil); err == nil {
		t.Fatal("runValidate(invalid) expected error")
	}
	if !strings.Contains(out.String(), "daemon.http_port") {
		t.Errorf("output = %q, want field name", out.String())
	}

	env.WriteConfig("log_level: debug\n")
	cmd, out = newTestCmd(context.Background())
	if err := runValidate(cmd, []string{env.ConfigPath()}); err != nil {
		t.Fatalf("runValidate(valid) error = %v", err)
	}
	if !strings.Contains(out.String(), "Configuration is valid") {
		t.Errorf("output = %q", out.String())
	}
}
