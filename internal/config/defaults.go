package config

import "github.com/spf13/viper"

// Default configuration values.
const (
	DefaultLogLevel = "info"
	DefaultLogFile  = "~/.config/vaultkeeper/vaultkeeper.log"

	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 3
	DefaultLogMaxAgeDays = 28
	DefaultLogCompress   = true

	DefaultVaultRoot          = "~/Notes"
	DefaultVaultDebounceMs    = 500
	DefaultVaultDeleteGraceMs = 1000
	DefaultVaultQueueSize     = 256

	DefaultDaemonLockFile        = "~/.config/vaultkeeper/daemon.lock"
	DefaultDaemonHTTPBind        = "127.0.0.1"
	DefaultDaemonHTTPPort        = 7610
	DefaultDaemonShutdownTimeout = 10 // seconds
	DefaultDaemonHandlerTimeout  = 30 // seconds
	DefaultHealthFailureThresh   = 0.5
	DefaultHealthWindow          = 20
	DefaultMetricsInterval       = 15 // seconds

	DefaultIndexDBPath = "~/.config/vaultkeeper/index.db"
)

// DefaultVaultPatterns are the include globs for vault files.
var DefaultVaultPatterns = []string{"*.md", "*.markdown", "*.txt", "*.pdf", "*.png", "*.jpg"}

// DefaultVaultExclude are transient editor artifacts.
var DefaultVaultExclude = []string{"*.tmp", "*.swp", "*.swo", "*~", "*.bak", ".#*", "#*#", ".DS_Store", "4913"}

// DefaultVaultExcludeDirs are directory names never watched.
var DefaultVaultExcludeDirs = []string{".git", ".obsidian", ".trash"}

// DefaultHandlers returns the handler list used when none is configured.
func DefaultHandlers() []HandlerConfig {
	return []HandlerConfig{
		{
			Name:     "markdown",
			Enabled:  true,
			Patterns: []string{"*.md", "*.markdown"},
			Kinds:    []string{"created", "modified"},
		},
		{
			Name:    "index",
			Enabled: true,
			Config: map[string]any{
				"db_path": DefaultIndexDBPath,
			},
		},
	}
}

// NewDefaultConfig returns a Config populated with every default.
func NewDefaultConfig() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		LogFile:  DefaultLogFile,
		LogRotation: RotationConfig{
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
		Vault: VaultConfig{
			Root:          DefaultVaultRoot,
			Patterns:      append([]string(nil), DefaultVaultPatterns...),
			Exclude:       append([]string(nil), DefaultVaultExclude...),
			ExcludeDirs:   append([]string(nil), DefaultVaultExcludeDirs...),
			DebounceMs:    DefaultVaultDebounceMs,
			DeleteGraceMs: DefaultVaultDeleteGraceMs,
			QueueSize:     DefaultVaultQueueSize,
		},
		Daemon: DaemonConfig{
			LockFile:        DefaultDaemonLockFile,
			HTTPBind:        DefaultDaemonHTTPBind,
			HTTPPort:        DefaultDaemonHTTPPort,
			ShutdownTimeout: DefaultDaemonShutdownTimeout,
			HandlerTimeout:  DefaultDaemonHandlerTimeout,
			Health: HealthConfig{
				FailureThreshold: DefaultHealthFailureThresh,
				Window:           DefaultHealthWindow,
			},
			Metrics: MetricsConfig{
				CollectionInterval: DefaultMetricsInterval,
			},
		},
		Handlers: DefaultHandlers(),
	}
}

// setViperDefaults registers all default configuration values with a viper
// instance. Every key must be registered for environment overrides to apply.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_file", DefaultLogFile)

	v.SetDefault("log_rotation.max_size_mb", DefaultLogMaxSizeMB)
	v.SetDefault("log_rotation.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log_rotation.max_age_days", DefaultLogMaxAgeDays)
	v.SetDefault("log_rotation.compress", DefaultLogCompress)

	// Vault defaults
	v.SetDefault("vault.root", DefaultVaultRoot)
	v.SetDefault("vault.patterns", DefaultVaultPatterns)
	v.SetDefault("vault.exclude", DefaultVaultExclude)
	v.SetDefault("vault.exclude_dirs", DefaultVaultExcludeDirs)
	v.SetDefault("vault.debounce_ms", DefaultVaultDebounceMs)
	v.SetDefault("vault.delete_grace_ms", DefaultVaultDeleteGraceMs)
	v.SetDefault("vault.queue_size", DefaultVaultQueueSize)

	// Daemon defaults
	v.SetDefault("daemon.lock_file", DefaultDaemonLockFile)
	v.SetDefault("daemon.http_bind", DefaultDaemonHTTPBind)
	v.SetDefault("daemon.http_port", DefaultDaemonHTTPPort)
	v.SetDefault("daemon.shutdown_timeout", DefaultDaemonShutdownTimeout)
	v.SetDefault("daemon.handler_timeout", DefaultDaemonHandlerTimeout)
	v.SetDefault("daemon.health.failure_threshold", DefaultHealthFailureThresh)
	v.SetDefault("daemon.health.window", DefaultHealthWindow)
	v.SetDefault("daemon.metrics.collection_interval", DefaultMetricsInterval)

	v.SetDefault("handlers", defaultHandlersSetting())
}

// defaultHandlersSetting renders DefaultHandlers in the generic shape viper
// stores settings in.
func defaultHandlersSetting() []map[string]any {
	handlers := DefaultHandlers()
	out := make([]map[string]any, 0, len(handlers))
	for _, h := range handlers {
		m := map[string]any{
			"name":    h.Name,
			"enabled": h.Enabled,
		}
		if len(h.Patterns) > 0 {
			m["patterns"] = h.Patterns
		}
		if len(h.Kinds) > 0 {
			m["kinds"] = h.Kinds
		}
		if len(h.Config) > 0 {
			m["config"] = h.Config
		}
		out = append(out, m)
	}
	return out
}
