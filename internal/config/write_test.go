package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWrite_CreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := NewDefaultConfig()
	err := Write(&cfg, configPath)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Write() did not create config file; %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
}

func TestWrite_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "nested", "config.yaml")

	cfg := NewDefaultConfig()
	if err := Write(&cfg, configPath); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	info, err := os.Stat(filepath.Dir(configPath))
	if err != nil {
		t.Fatalf("Write() did not create directory; %v", err)
	}
	if !info.IsDir() {
		t.Error("expected a directory")
	}
}

func TestWrite_IncludesHeader(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	cfg := NewDefaultConfig()
	if err := Write(&cfg, configPath); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# vaultkeeper configuration") {
		t.Errorf("config file missing header, got %q", string(data[:40]))
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("VAULTKEEPER_CONFIG_DIR", filepath.Join(dir, "unused"))
	configPath := filepath.Join(dir, "config.yaml")

	cfg := NewDefaultConfig()
	cfg.Vault.Root = "/data/vault"
	cfg.Daemon.HTTPPort = 8800
	cfg.Handlers = append(cfg.Handlers, HandlerConfig{
		Name:    "hook",
		Type:    "webhook",
		Enabled: false,
		Config:  map[string]any{"url": "http://localhost:9000/events"},
	})

	if err := Write(&cfg, configPath); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	loaded, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if loaded.Vault.Root != "/data/vault" {
		t.Errorf("Vault.Root = %q, want /data/vault", loaded.Vault.Root)
	}
	if loaded.Daemon.HTTPPort != 8800 {
		t.Errorf("Daemon.HTTPPort = %d, want 8800", loaded.Daemon.HTTPPort)
	}
	if len(loaded.Handlers) != 3 {
		t.Fatalf("len(Handlers) = %d, want 3", len(loaded.Handlers))
	}
	hook := loaded.Handlers[2]
	if hook.ResolvedType() != "webhook" || hook.Enabled {
		t.Errorf("hook handler = %+v, want disabled webhook", hook)
	}
	if hook.Config["url"] != "http://localhost:9000/events" {
		t.Errorf("hook url = %v", hook.Config["url"])
	}
}

func TestMarshal_OmitsUnexportedSource(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.source = "/should/not/appear"

	data, err := Marshal(&cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "/should/not/appear") {
		t.Error("Marshal() leaked the source path")
	}
}
