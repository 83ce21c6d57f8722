package config

import (
	"time"
)

// Config is the root configuration structure for the application.
type Config struct {
	LogLevel    string          `yaml:"log_level" mapstructure:"log_level"`
	LogFile     string          `yaml:"log_file" mapstructure:"log_file"`
	LogRotation RotationConfig  `yaml:"log_rotation" mapstructure:"log_rotation"`
	Vault       VaultConfig     `yaml:"vault" mapstructure:"vault"`
	Daemon      DaemonConfig    `yaml:"daemon" mapstructure:"daemon"`
	Handlers    []HandlerConfig `yaml:"handlers" mapstructure:"handlers"`

	source string
}

// Source returns the config file the values were read from, or an empty
// string when only defaults and environment were used.
func (c *Config) Source() string {
	return c.source
}

// RotationConfig holds log file rotation settings.
type RotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool `yaml:"compress" mapstructure:"compress"`
}

// VaultConfig describes the watched note vault.
type VaultConfig struct {
	Root          string   `yaml:"root" mapstructure:"root"`
	Patterns      []string `yaml:"patterns" mapstructure:"patterns"`
	Exclude       []string `yaml:"exclude" mapstructure:"exclude"`
	ExcludeDirs   []string `yaml:"exclude_dirs" mapstructure:"exclude_dirs"`
	DebounceMs    int      `yaml:"debounce_ms" mapstructure:"debounce_ms"`
	DeleteGraceMs int      `yaml:"delete_grace_ms" mapstructure:"delete_grace_ms"`
	QueueSize     int      `yaml:"queue_size" mapstructure:"queue_size"`
}

// DebounceWindow returns the debounce window as a duration.
func (v VaultConfig) DebounceWindow() time.Duration {
	return time.Duration(v.DebounceMs) * time.Millisecond
}

// DeleteGracePeriod returns the delete grace window as a duration.
func (v VaultConfig) DeleteGracePeriod() time.Duration {
	return time.Duration(v.DeleteGraceMs) * time.Millisecond
}

// DaemonConfig holds daemon-related configuration.
type DaemonConfig struct {
	LockFile        string        `yaml:"lock_file" mapstructure:"lock_file"`
	HTTPBind        string        `yaml:"http_bind" mapstructure:"http_bind"`
	HTTPPort        int           `yaml:"http_port" mapstructure:"http_port"`
	ShutdownTimeout int           `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"` // seconds
	HandlerTimeout  int           `yaml:"handler_timeout" mapstructure:"handler_timeout"`   // seconds
	Health          HealthConfig  `yaml:"health" mapstructure:"health"`
	Metrics         MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// ShutdownDuration returns the stop bound as a duration.
func (d DaemonConfig) ShutdownDuration() time.Duration {
	return time.Duration(d.ShutdownTimeout) * time.Second
}

// HandlerDuration returns the default per-handler deadline.
func (d DaemonConfig) HandlerDuration() time.Duration {
	return time.Duration(d.HandlerTimeout) * time.Second
}

// HealthConfig controls how handler failures affect overall health.
type HealthConfig struct {
	FailureThreshold float64 `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	Window           int     `yaml:"window" mapstructure:"window"`
}

// MetricsConfig holds metrics collection configuration.
type MetricsConfig struct {
	CollectionInterval int `yaml:"collection_interval" mapstructure:"collection_interval"` // seconds
}

// HandlerConfig declares one handler in the static handler list.
type HandlerConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Type    string `yaml:"type,omitempty" mapstructure:"type"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	// Timeout in seconds; 0 uses daemon.handler_timeout.
	Timeout  int            `yaml:"timeout,omitempty" mapstructure:"timeout"`
	Patterns []string       `yaml:"patterns,omitempty" mapstructure:"patterns"`
	Kinds    []string       `yaml:"kinds,omitempty" mapstructure:"kinds"`
	Config   map[string]any `yaml:"config,omitempty" mapstructure:"config"`
}

// ResolvedType returns the handler type, which defaults to the name.
func (h HandlerConfig) ResolvedType() string {
	if h.Type != "" {
		return h.Type
	}
	return h.Name
}

// TimeoutDuration returns the configured deadline, or fallback when unset.
func (h HandlerConfig) TimeoutDuration(fallback time.Duration) time.Duration {
	if h.Timeout > 0 {
		return time.Duration(h.Timeout) * time.Second
	}
	return fallback
}
