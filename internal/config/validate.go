package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ValidationError represents a config validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation failures.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString("config validation failed:\n")
	for _, err := range e {
		b.WriteString("  - ")
		b.WriteString(err.Error())
		b.WriteString("\n")
	}
	return b.String()
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validKinds = map[string]bool{
	"created":  true,
	"modified": true,
	"deleted":  true,
}

// Validate checks the configuration for errors.
// Returns ValidationErrors if validation fails.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		add("log_level", "must be one of: debug, info, warn, error; got %q", cfg.LogLevel)
	}

	if cfg.LogRotation.MaxSizeMB < 0 {
		add("log_rotation.max_size_mb", "must be non-negative, got %d", cfg.LogRotation.MaxSizeMB)
	}
	if cfg.LogRotation.MaxBackups < 0 {
		add("log_rotation.max_backups", "must be non-negative, got %d", cfg.LogRotation.MaxBackups)
	}
	if cfg.LogRotation.MaxAgeDays < 0 {
		add("log_rotation.max_age_days", "must be non-negative, got %d", cfg.LogRotation.MaxAgeDays)
	}

	// Vault
	if cfg.Vault.Root == "" {
		add("vault.root", "must not be empty")
	}
	for _, p := range cfg.Vault.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			add("vault.patterns", "invalid glob %q", p)
		}
	}
	for _, p := range cfg.Vault.Exclude {
		if _, err := filepath.Match(p, ""); err != nil {
			add("vault.exclude", "invalid glob %q", p)
		}
	}
	if cfg.Vault.DebounceMs < 0 {
		add("vault.debounce_ms", "must be non-negative, got %d", cfg.Vault.DebounceMs)
	}
	if cfg.Vault.DeleteGraceMs < 0 {
		add("vault.delete_grace_ms", "must be non-negative, got %d", cfg.Vault.DeleteGraceMs)
	}
	if cfg.Vault.QueueSize < 1 {
		add("vault.queue_size", "must be at least 1, got %d", cfg.Vault.QueueSize)
	}

	// Daemon
	if cfg.Daemon.LockFile == "" {
		add("daemon.lock_file", "must not be empty")
	}
	if cfg.Daemon.HTTPBind == "" {
		add("daemon.http_bind", "must not be empty")
	}
	if cfg.Daemon.HTTPPort < 1 || cfg.Daemon.HTTPPort > 65535 {
		add("daemon.http_port", "must be between 1 and 65535, got %d", cfg.Daemon.HTTPPort)
	}
	if cfg.Daemon.ShutdownTimeout < 1 {
		add("daemon.shutdown_timeout", "must be at least 1 second, got %d", cfg.Daemon.ShutdownTimeout)
	}
	if cfg.Daemon.HandlerTimeout < 1 {
		add("daemon.handler_timeout", "must be at least 1 second, got %d", cfg.Daemon.HandlerTimeout)
	}
	if t := cfg.Daemon.Health.FailureThreshold; t <= 0 || t > 1 {
		add("daemon.health.failure_threshold", "must be in (0, 1], got %g", t)
	}
	if cfg.Daemon.Health.Window < 1 {
		add("daemon.health.window", "must be at least 1, got %d", cfg.Daemon.Health.Window)
	}
	if cfg.Daemon.Metrics.CollectionInterval < 1 {
		add("daemon.metrics.collection_interval", "must be at least 1 second, got %d", cfg.Daemon.Metrics.CollectionInterval)
	}

	// Handlers
	seen := make(map[string]bool, len(cfg.Handlers))
	for i, h := range cfg.Handlers {
		field := fmt.Sprintf("handlers[%d]", i)
		if h.Name == "" {
			add(field+".name", "must not be empty")
		} else if seen[h.Name] {
			add(field+".name", "duplicate handler name %q", h.Name)
		}
		seen[h.Name] = true

		if h.Timeout < 0 {
			add(field+".timeout", "must be non-negative, got %d", h.Timeout)
		}
		for _, k := range h.Kinds {
			if !validKinds[strings.ToLower(k)] {
				add(field+".kinds", "must be one of: created, modified, deleted; got %q", k)
			}
		}
		for _, p := range h.Patterns {
			if _, err := filepath.Match(p, ""); err != nil {
				add(field+".patterns", "invalid glob %q", p)
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}

	return nil
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve ValidationError
	var ves ValidationErrors
	return errors.As(err, &ve) || errors.As(err, &ves)
}
