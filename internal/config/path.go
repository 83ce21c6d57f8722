package config

import (
	"os"
	"path/filepath"
)

// ConfigDir returns the default config directory path.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "vaultkeeper")
}

// DefaultConfigPath returns the default path for the config file, honoring
// VAULTKEEPER_CONFIG_DIR.
func DefaultConfigPath() string {
	if dir := os.Getenv(EnvPrefix + "_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ConfigExistsAt returns true if a config file exists at the specified path.
func ConfigExistsAt(path string) bool {
	_, err := os.Stat(ExpandPath(path))
	return err == nil
}

// ExpandPath expands a leading ~ in path to the user's home directory.
// Only "~" alone or "~/..." are expanded; "~user" is returned unchanged.
func ExpandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}

	if len(path) > 1 && path[1] != '/' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if len(path) == 1 {
		return home
	}

	return filepath.Join(home, path[2:])
}
