package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/dispatch"
	"github.com/leefowlercu/vaultkeeper/internal/events"
	"github.com/leefowlercu/vaultkeeper/internal/handlers"
	"github.com/leefowlercu/vaultkeeper/internal/health"
	"github.com/leefowlercu/vaultkeeper/internal/lock"
	"github.com/leefowlercu/vaultkeeper/internal/metrics"
	"github.com/leefowlercu/vaultkeeper/internal/watcher"
)

// Control surface statuses.
const (
	StatusStarted        = "started"
	StatusAlreadyRunning = "already_running"
	StatusStopped        = "stopped"
	StatusNotRunning     = "not_running"
)

const defaultShutdownTimeout = 10 * time.Second

// Watcher is the file watcher the manager drives. *watcher.Watcher
// implements it.
type Watcher interface {
	RegisterCallback(fn watcher.Callback)
	Start(ctx context.Context, root string, patterns []string) error
	Stop(ctx context.Context) error
	Alive() bool
	Failures() <-chan error
	Stats() watcher.Stats
}

// LoadFunc builds the sealed handler registry for one run.
type LoadFunc func(ctx context.Context) (*handlers.Registry, error)

// Config holds the values the manager needs from configuration.
type Config struct {
	Root             string
	Patterns         []string
	LockPath         string
	ShutdownTimeout  time.Duration
	HandlerTimeout   time.Duration
	FailureThreshold float64
	HealthWindow     int
}

// ConfigFrom extracts the manager configuration, expanding paths.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Root:             config.ExpandPath(cfg.Vault.Root),
		Patterns:         cfg.Vault.Patterns,
		LockPath:         config.ExpandPath(cfg.Daemon.LockFile),
		ShutdownTimeout:  cfg.Daemon.ShutdownDuration(),
		HandlerTimeout:   cfg.Daemon.HandlerDuration(),
		FailureThreshold: cfg.Daemon.Health.FailureThreshold,
		HealthWindow:     cfg.Daemon.Health.Window,
	}
}

// StartResult is the outcome of Start.
type StartResult struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
}

// StopResult is the outcome of Stop.
type StopResult struct {
	Status string `json:"status"`
}

// Status is the daemon's externally visible status.
type Status struct {
	health.Snapshot

	State     State         `json:"state"`
	PID       int           `json:"pid"`
	RunID     string        `json:"run_id,omitempty"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Watcher   watcher.Stats `json:"watcher"`
	LastFault string        `json:"last_fault,omitempty"`
}

// Manager owns the daemon's components and its state machine. Start and Stop
// are idempotent and safe for concurrent use.
type Manager struct {
	cfg        Config
	locks      *lock.Manager
	watcher    Watcher
	load       LoadFunc
	logger     *slog.Logger
	aggregator *health.Aggregator
	pid        int

	// opMu serializes Start, Stop and fault handling.
	opMu sync.Mutex

	mu        sync.RWMutex
	state     State
	run       *run
	lastFault error
}

// run holds the resources of one Start/Stop cycle.
type run struct {
	id         string
	startedAt  time.Time
	lock       *lock.Handle
	registry   *handlers.Registry
	tracker    *dispatch.Tracker
	dispatcher *dispatch.Dispatcher
	cancel     context.CancelFunc
	logger     *slog.Logger

	stopping chan struct{}
	done     chan struct{}
	err      error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a stopped Manager. Nothing is acquired until Start.
func NewManager(cfg Config, locks *lock.Manager, w Watcher, load LoadFunc, opts ...Option) *Manager {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = health.DefaultFailureThreshold
	}
	if cfg.HealthWindow <= 0 {
		cfg.HealthWindow = dispatch.DefaultWindow
	}

	m := &Manager{
		cfg:     cfg,
		locks:   locks,
		watcher: w,
		load:    load,
		logger:  slog.Default(),
		pid:     os.Getpid(),
		state:   StateStopped,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.aggregator = health.NewAggregator(m, m,
		health.WithThreshold(cfg.FailureThreshold),
		health.WithHandlerHealth(m))
	w.RegisterCallback(m.onEvent)

	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Start acquires the instance lock, loads handlers and starts the watcher.
// A live lock holder yields StatusAlreadyRunning with a nil error, as does
// calling Start on a running manager. Any other setup failure leaves the
// manager Crashed with the lock released and is returned.
func (m *Manager) Start(ctx context.Context) (StartResult, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.State() == StateRunning {
		return StartResult{Status: StatusAlreadyRunning, PID: m.pid}, nil
	}

	m.transition(StateStarting)

	runID := uuid.NewString()
	logger := m.logger.With("run_id", runID)

	handle, err := m.locks.Acquire(m.cfg.LockPath)
	if err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			m.transition(StateStopped)
			logger.Info("daemon already running", "pid", held.PID, "lock_file", m.cfg.LockPath)
			return StartResult{Status: StatusAlreadyRunning, PID: held.PID}, nil
		}
		return StartResult{}, m.abortStart(logger, nil, fmt.Errorf("failed to acquire instance lock; %w", err))
	}
	metrics.SetLockHeld(true)

	registry, err := m.load(ctx)
	if err != nil {
		m.locks.Release(handle)
		return StartResult{}, m.abortStart(logger, nil, fmt.Errorf("failed to load handlers; %w", err))
	}

	tracker := dispatch.NewTracker(m.cfg.HealthWindow)
	var names []string
	for _, d := range registry.Enabled() {
		names = append(names, d.Name)
	}
	tracker.Register(names...)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		id:        runID,
		startedAt: time.Now(),
		lock:      handle,
		registry:  registry,
		tracker:   tracker,
		dispatcher: dispatch.New(registry,
			dispatch.WithRecorder(tracker),
			dispatch.WithDefaultTimeout(m.cfg.HandlerTimeout),
			dispatch.WithLogger(logger)),
		cancel:   cancel,
		logger:   logger,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	m.run = r
	m.mu.Unlock()

	if err := m.watcher.Start(runCtx, m.cfg.Root, m.cfg.Patterns); err != nil {
		return StartResult{}, m.abortStart(logger, r, &watcher.Failure{Root: m.cfg.Root, Err: err})
	}

	go m.monitor(r, m.watcher.Failures())

	m.transition(StateRunning)
	logger.Info("daemon started",
		"pid", m.pid,
		"root", m.cfg.Root,
		"lock_file", m.cfg.LockPath,
		"handlers", names)

	return StartResult{Status: StatusStarted, PID: m.pid}, nil
}

// abortStart moves a failed start to Crashed, releasing whatever was acquired.
func (m *Manager) abortStart(logger *slog.Logger, r *run, err error) error {
	if r != nil {
		m.teardown(r, err)
	} else {
		m.mu.Lock()
		m.lastFault = err
		m.mu.Unlock()
		metrics.SetLockHeld(false)
	}
	m.transition(StateCrashed)
	logger.Error("daemon failed to start", "error", err)
	return err
}

// Stop stops the watcher, closes handlers and releases the lock. Stopping a
// manager that is not running returns StatusNotRunning.
func (m *Manager) Stop(_ context.Context) (StopResult, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.State() != StateRunning {
		return StopResult{Status: StatusNotRunning}, nil
	}

	m.transition(StateStopping)

	m.mu.RLock()
	r := m.run
	m.mu.RUnlock()

	r.logger.Info("stopping daemon")
	close(r.stopping)
	m.teardown(r, nil)

	m.transition(StateStopped)
	r.logger.Info("daemon stopped", "uptime", time.Since(r.startedAt).Round(time.Millisecond))

	return StopResult{Status: StatusStopped}, nil
}

// Wait blocks until the current run ends and returns its fault, if any. It
// returns immediately when the manager is not running.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.RLock()
	r := m.run
	fault := m.lastFault
	state := m.state
	m.mu.RUnlock()

	if r == nil {
		if state == StateCrashed {
			return fault
		}
		return nil
	}

	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastFault returns the error that last crashed the daemon.
func (m *Manager) LastFault() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastFault
}

// Status returns the current status including a fresh health snapshot.
func (m *Manager) Status() Status {
	m.mu.RLock()
	r := m.run
	state := m.state
	fault := m.lastFault
	m.mu.RUnlock()

	st := Status{
		Snapshot: m.aggregator.Snapshot(),
		State:    state,
		PID:      m.pid,
		Watcher:  m.watcher.Stats(),
	}
	if r != nil {
		st.RunID = r.id
		st.StartedAt = r.startedAt
	}
	if fault != nil {
		st.LastFault = fault.Error()
	}
	return st
}

// LockHeld implements health.Probe.
func (m *Manager) LockHeld() bool {
	r := m.current()
	return r != nil && r.lock.Held()
}

// WatcherAlive implements health.Probe.
func (m *Manager) WatcherAlive() bool {
	return m.current() != nil && m.watcher.Alive()
}

// Warnings implements health.Warner.
func (m *Manager) Warnings() []string {
	if m.current() == nil {
		return nil
	}
	if m.watcher.Stats().DegradedMode {
		return []string{"watcher is in degraded mode; the kernel watch limit was reached and some directories are not watched"}
	}
	return nil
}

// Stats implements health.StatsSource.
func (m *Manager) Stats() map[string]dispatch.HandlerStats {
	if r := m.current(); r != nil {
		return r.tracker.Stats()
	}
	return nil
}

// LastActivity implements health.StatsSource.
func (m *Manager) LastActivity() time.Time {
	if r := m.current(); r != nil {
		return r.tracker.LastActivity()
	}
	return time.Time{}
}

// HandlerHealth implements health.HandlerHealthSource.
func (m *Manager) HandlerHealth() map[string]handlers.Health {
	if r := m.current(); r != nil {
		return r.registry.HandlerHealth()
	}
	return nil
}

// CollectMetrics implements metrics.MetricsProvider.
func (m *Manager) CollectMetrics(ctx context.Context) error {
	metrics.SetDaemonState(string(m.State()), stateNames())
	metrics.SetLockHeld(m.LockHeld())
	metrics.SetHealth(m.aggregator.Snapshot().OverallHealthy)
	if r := m.current(); r != nil {
		return r.tracker.CollectMetrics(ctx)
	}
	return nil
}

func (m *Manager) current() *run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.run
}

func (m *Manager) onEvent(ctx context.Context, ev events.FileEvent) {
	r := m.current()
	if r == nil {
		return
	}
	r.dispatcher.Dispatch(ctx, ev)
}

// monitor turns a watcher failure into a crash.
func (m *Manager) monitor(r *run, failures <-chan error) {
	select {
	case err := <-failures:
		m.fault(r, err)
	case <-r.stopping:
	}
}

func (m *Manager) fault(r *run, err error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	current := m.run == r && m.state == StateRunning
	m.mu.RUnlock()
	if !current {
		return
	}

	r.logger.Error("daemon crashed", "error", err)
	m.teardown(r, err)
	m.transition(StateCrashed)
}

// teardown releases a run's resources in reverse order of acquisition. It is
// bounded by the shutdown timeout; failures are logged.
func (m *Manager) teardown(r *run, fault error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
	defer cancel()

	if err := m.watcher.Stop(ctx); err != nil {
		r.logger.Warn("watcher did not stop cleanly", "error", err)
	}
	r.cancel()

	if err := r.registry.Close(); err != nil {
		r.logger.Warn("failed to close handlers", "error", err)
	}

	m.locks.Release(r.lock)
	metrics.SetLockHeld(false)

	m.mu.Lock()
	m.run = nil
	if fault != nil {
		m.lastFault = fault
	}
	m.mu.Unlock()

	r.err = fault
	close(r.done)
}

func (m *Manager) transition(to State) {
	m.mu.Lock()
	from := m.state
	if !from.CanTransitionTo(to) {
		m.mu.Unlock()
		m.logger.Error("invalid state transition", "from", from, "to", to)
		return
	}
	m.state = to
	m.mu.Unlock()

	metrics.SetDaemonState(string(to), stateNames())
	m.logger.Debug("state changed", "from", from, "to", to)
}
