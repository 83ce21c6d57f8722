package cmdutil

import (
	"context"
	"errors"
	"log/slog"

	"github.com/leefowlercu/vaultkeeper/internal/config"
)

// ErrNoConfig is returned when a command runs before configuration loaded.
var ErrNoConfig = errors.New("config not initialized")

type configKey struct{}

type loggerKey struct{}

// WithConfig attaches the loaded configuration to ctx.
func WithConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// ConfigFrom returns the configuration attached by WithConfig.
func ConfigFrom(ctx context.Context) (*config.Config, error) {
	if ctx == nil {
		return nil, ErrNoConfig
	}
	cfg, ok := ctx.Value(configKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, ErrNoConfig
	}
	return cfg, nil
}

// WithLogger attaches the process logger to ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger attached by WithLogger, or slog.Default.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}
