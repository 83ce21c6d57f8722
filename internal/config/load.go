package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "VAULTKEEPER"

// Load reads and returns the typed configuration.
// It searches for config.yaml in priority order:
//  1. Directory specified by VAULTKEEPER_CONFIG_DIR environment variable
//  2. ~/.config/vaultkeeper/
//  3. Current working directory (.)
//
// A missing config file is not an error; defaults and environment apply.
// A config file that exists but is unreadable or invalid is an error.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if envPath := os.Getenv(EnvPrefix + "_CONFIG_DIR"); envPath != "" {
		v.AddConfigPath(envPath)
	}
	if dir := ConfigDir(); dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config; %w", err)
		}
	}

	return unmarshalConfig(v)
}

// LoadFromPath reads configuration from a specific file path. The file must
// exist.
func LoadFromPath(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := newViper()
	v.SetConfigFile(ExpandPath(path))
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config from %s; %w", path, err)
	}

	return unmarshalConfig(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setViperDefaults(v)
	return v
}

// loadDotEnv loads a .env file from the config directory into the process
// environment. Variables already set are not overridden.
func loadDotEnv() error {
	dir := os.Getenv(EnvPrefix + "_CONFIG_DIR")
	if dir == "" {
		dir = ConfigDir()
	}
	if dir == "" {
		return nil
	}

	path := filepath.Join(dir, ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s; %w", path, err)
	}
	return nil
}

// unmarshalConfig converts viper config to typed Config struct.
func unmarshalConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config; %w", err)
	}
	cfg.source = v.ConfigFileUsed()

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
