package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation controls size-based rotation of the daemon log file.
// Zero values fall back to lumberjack's defaults.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Manager handles logger lifecycle including bootstrap-to-full mode transitions.
// Components should obtain a logger via Logger() and use it for all logging.
type Manager struct {
	handler *SwappableHandler
	logger  *slog.Logger
	console io.Writer
	logFile *lumberjack.Logger
	level   *slog.LevelVar
	mu      sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithConsole replaces stderr as the text output.
func WithConsole(w io.Writer) Option {
	return func(m *Manager) {
		m.console = w
	}
}

// NewManager creates a logging manager in bootstrap mode.
// Bootstrap mode writes only to the console using text format.
// Call Upgrade() after config is available to enable file logging.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		console: os.Stderr,
		level:   new(slog.LevelVar),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.level.Set(DefaultLevel)

	bootstrap := slog.NewTextHandler(m.console, &slog.HandlerOptions{Level: m.level})
	m.handler = NewSwappableHandler(bootstrap)
	m.logger = slog.New(m.handler)

	return m
}

// Logger returns the current logger instance.
// The returned logger is stable across Upgrade calls.
func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// Upgrade transitions from bootstrap mode (console only) to full mode
// (console text + rotated JSON file). Loggers derived before the upgrade
// follow it.
func (m *Manager) Upgrade(logFilePath string, level slog.Level, rotation Rotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Dir(logFilePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %q; %w", dir, err)
	}

	// lumberjack opens lazily; probe the path so a bad location fails here.
	probe, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %q; %w", logFilePath, err)
	}
	_ = probe.Close()

	file := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   rotation.Compress,
	}

	if m.logFile != nil {
		_ = m.logFile.Close()
	}
	m.logFile = file

	m.level.Set(level)

	opts := &slog.HandlerOptions{Level: m.level}
	m.handler.Swap(slogmulti.Fanout(
		slog.NewTextHandler(m.console, opts),
		slog.NewJSONHandler(file, opts),
	))

	return nil
}

// SetLevel changes the log level at runtime.
func (m *Manager) SetLevel(level slog.Level) {
	m.level.Set(level)
}

// Level returns the active log level.
func (m *Manager) Level() slog.Level {
	return m.level.Level()
}

// Close flushes and closes the log file, returning the manager to console
// output.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.logFile == nil {
		return nil
	}

	m.handler.Swap(slog.NewTextHandler(m.console, &slog.HandlerOptions{Level: m.level}))
	err := m.logFile.Close()
	m.logFile = nil
	return err
}
