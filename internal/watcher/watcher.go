// Package watcher observes a vault directory tree and delivers debounced,
// filtered file events to registered callbacks.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leefowlercu/vaultkeeper/internal/events"
	"github.com/leefowlercu/vaultkeeper/internal/metrics"
)

const (
	defaultDebounceWindow    = 500 * time.Millisecond
	defaultDeleteGracePeriod = time.Second
	defaultQueueSize         = 256

	// abandonGrace bounds how long Stop waits for a callback that ignores
	// cancellation.
	abandonGrace = time.Second
)

// Callback receives each delivered event. Callbacks run sequentially on the
// delivery goroutine.
type Callback func(ctx context.Context, ev events.FileEvent)

// Stats contains statistics about watcher activity.
type Stats struct {
	Root            string    `json:"root,omitempty"`
	WatchedDirs     int       `json:"watched_dirs"`
	EventsReceived  int64     `json:"events_received"`
	EventsExcluded  int64     `json:"events_excluded"`
	EventsCoalesced int64     `json:"events_coalesced"`
	EventsDelivered int64     `json:"events_delivered"`
	EventsDropped   int64     `json:"events_dropped"`
	Errors          int64     `json:"errors"`
	Running         bool      `json:"running"`
	DegradedMode    bool      `json:"degraded_mode"`
	StartedAt       time.Time `json:"started_at,omitzero"`
}

// Option configures the Watcher.
type Option func(*Watcher)

// WithDebounceWindow sets the quiet period before a change is delivered.
func WithDebounceWindow(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounceWindow = d
	}
}

// WithDeleteGracePeriod sets the quiet period before a deletion is delivered.
func WithDeleteGracePeriod(d time.Duration) Option {
	return func(w *Watcher) {
		w.deleteGracePeriod = d
	}
}

// WithQueueSize bounds the number of debounced events awaiting delivery.
func WithQueueSize(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithExcludes replaces the base-name patterns that never produce events.
func WithExcludes(patterns []string) Option {
	return func(w *Watcher) {
		w.exclude = patterns
	}
}

// WithExcludeDirs replaces the directory names that are never watched.
func WithExcludeDirs(names []string) Option {
	return func(w *Watcher) {
		w.excludeDirs = names
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// Watcher watches a single vault root. It can be started again after Stop.
type Watcher struct {
	logger            *slog.Logger
	debounceWindow    time.Duration
	deleteGracePeriod time.Duration
	queueSize         int
	exclude           []string
	excludeDirs       []string

	cbMu      sync.RWMutex
	callbacks []Callback

	alive atomic.Bool

	mu  sync.Mutex
	run *run

	statsMu sync.Mutex
	stats   Stats
}

// run holds the state of one Start/Stop cycle.
type run struct {
	root      string
	filter    *Filter
	fsw       *fsnotify.Watcher
	coalescer *Coalescer
	failures  chan error

	stopCh        chan struct{}
	readerDone    chan struct{}
	deliverDone   chan struct{}
	deliverCancel context.CancelFunc
}

// New creates a Watcher. Nothing is watched until Start.
func New(opts ...Option) *Watcher {
	w := &Watcher{
		logger:            slog.Default(),
		debounceWindow:    defaultDebounceWindow,
		deleteGracePeriod: defaultDeleteGracePeriod,
		queueSize:         defaultQueueSize,
		exclude:           DefaultExcludes,
		excludeDirs:       DefaultExcludeDirs,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// RegisterCallback adds a callback invoked for every delivered event.
func (w *Watcher) RegisterCallback(fn Callback) {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Start watches root recursively. Only files whose base name matches one of
// patterns produce events; an empty pattern list matches everything. Events
// are delivered under a context derived from ctx.
func (w *Watcher) Start(ctx context.Context, root string, patterns []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.run != nil {
		return ErrAlreadyRunning
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve vault root; %w", err)
	}
	absRoot = filepath.Clean(absRoot)

	info, err := os.Stat(absRoot)
	if err != nil {
		return fmt.Errorf("failed to stat vault root; %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root %s; %w", absRoot, errNotADirectory)
	}

	filter, err := NewFilter(patterns, w.exclude, w.excludeDirs)
	if err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher; %w", err)
	}

	r := &run{
		root:        absRoot,
		filter:      filter,
		fsw:         fsw,
		coalescer:   NewCoalescer(w.debounceWindow, w.deleteGracePeriod, w.queueSize),
		failures:    make(chan error, 1),
		stopCh:      make(chan struct{}),
		readerDone:  make(chan struct{}),
		deliverDone: make(chan struct{}),
	}

	w.statsMu.Lock()
	w.stats = Stats{Root: absRoot, Running: true, StartedAt: time.Now()}
	w.statsMu.Unlock()

	if err := w.addTree(r, absRoot, false); err != nil {
		fsw.Close()
		w.resetStats()
		return fmt.Errorf("failed to watch vault root; %w", err)
	}

	deliverCtx, cancel := context.WithCancel(ctx)
	r.deliverCancel = cancel

	go w.read(r)
	go w.deliver(deliverCtx, r)

	w.run = r
	w.alive.Store(true)

	w.logger.Info("watcher started",
		"root", absRoot,
		"watched_dirs", len(fsw.WatchList()),
		"patterns", patterns,
	)

	return nil
}

// Stop stops watching, flushes events still inside their debounce window and
// waits for delivery to finish. If ctx ends first, in-flight callbacks see a
// cancelled context and queued events are dropped. Stop on a stopped watcher
// is a no-op.
func (w *Watcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	r := w.run
	w.run = nil
	w.mu.Unlock()

	if r == nil {
		return nil
	}

	w.alive.Store(false)
	close(r.stopCh)

	closeErr := r.fsw.Close()
	<-r.readerDone

	r.coalescer.Close(ctx)

	var stopErr error
	select {
	case <-r.deliverDone:
	case <-ctx.Done():
		r.deliverCancel()
		stopErr = fmt.Errorf("watcher stop did not drain in time; %w", ctx.Err())
		select {
		case <-r.deliverDone:
		case <-time.After(abandonGrace):
			w.logger.Warn("abandoning event delivery still in progress", "root", r.root)
		}
	}
	r.deliverCancel()

	w.statsMu.Lock()
	w.stats.Running = false
	w.stats.EventsCoalesced = r.coalescer.Coalesced()
	w.stats.EventsDropped += r.coalescer.Dropped()
	w.statsMu.Unlock()

	w.logger.Info("watcher stopped", "root", r.root)

	if stopErr != nil {
		return stopErr
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close fsnotify watcher; %w", closeErr)
	}
	return nil
}

// Alive reports whether the watcher is running and has not failed.
func (w *Watcher) Alive() bool {
	return w.alive.Load()
}

// Failures returns the channel on which the current run reports a fatal
// failure. It receives at most one value per run. The channel of a stopped
// watcher never receives.
func (w *Watcher) Failures() <-chan error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.run == nil {
		return nil
	}
	return w.run.failures
}

// Stats returns current watcher statistics.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	r := w.run
	w.mu.Unlock()

	w.statsMu.Lock()
	stats := w.stats
	w.statsMu.Unlock()

	if r != nil {
		stats.WatchedDirs = len(r.fsw.WatchList())
		stats.EventsCoalesced = r.coalescer.Coalesced()
	}

	return stats
}

// CollectMetrics implements metrics.MetricsProvider.
func (w *Watcher) CollectMetrics(_ context.Context) error {
	metrics.WatcherWatchedDirs.Set(float64(w.Stats().WatchedDirs))
	return nil
}

func (w *Watcher) resetStats() {
	w.statsMu.Lock()
	w.stats = Stats{}
	w.statsMu.Unlock()
}

func (w *Watcher) fail(r *run, err error) {
	w.alive.Store(false)
	w.logger.Error("watcher failure", "root", r.root, "error", err)
	select {
	case r.failures <- &Failure{Root: r.root, Err: err}:
	default:
	}
}

// addTree watches dir and every non-excluded directory below it. When
// announce is set, files found during the walk are reported as created; this
// covers directories moved into the vault with content already inside.
func (w *Watcher) addTree(r *run, dir string, announce bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == dir {
				return walkErr
			}
			return nil
		}

		if !d.IsDir() {
			if announce {
				w.enqueue(r, p, events.Created)
			}
			return nil
		}

		if p != r.root && r.filter.SkipDir(d.Name()) {
			return fs.SkipDir
		}

		if err := w.addWatch(r, p); err != nil {
			if p == r.root {
				return err
			}
			w.logger.Warn("failed to add watch", "path", p, "error", err)
			w.countError()
		}
		return nil
	})
}

func (w *Watcher) addWatch(r *run, path string) error {
	if err := r.fsw.Add(path); err != nil {
		if isWatchLimitError(err) {
			w.statsMu.Lock()
			alreadyDegraded := w.stats.DegradedMode
			w.stats.DegradedMode = true
			w.statsMu.Unlock()
			if !alreadyDegraded {
				w.logger.Warn("watch limit reached, entering degraded mode", "path", path)
			}
			return nil
		}
		return err
	}
	return nil
}

// read pumps fsnotify notifications into the coalescer.
func (w *Watcher) read(r *run) {
	defer close(r.readerDone)
	defer func() {
		if p := recover(); p != nil {
			w.fail(r, fmt.Errorf("panic in event reader: %v", p))
		}
	}()

	for {
		select {
		case <-r.stopCh:
			return
		case ev, ok := <-r.fsw.Events:
			if !ok {
				if !stopping(r) {
					w.fail(r, errStreamClosed)
				}
				return
			}
			if fatal := w.handle(r, ev); fatal {
				return
			}
		case err, ok := <-r.fsw.Errors:
			if !ok {
				if !stopping(r) {
					w.fail(r, errStreamClosed)
				}
				return
			}
			w.countError()
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("fsnotify queue overflow; some changes were missed", "root", r.root)
				continue
			}
			w.logger.Error("fsnotify error", "root", r.root, "error", err)
		}
	}
}

func stopping(r *run) bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// handle translates one notification. It returns true when the watcher can
// no longer continue.
func (w *Watcher) handle(r *run, ev fsnotify.Event) bool {
	w.statsMu.Lock()
	w.stats.EventsReceived++
	w.statsMu.Unlock()

	name := filepath.Clean(ev.Name)

	if name == r.root {
		if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
			w.fail(r, errRootRemoved)
			return true
		}
		return false
	}

	rel, err := filepath.Rel(r.root, name)
	if err != nil || r.filter.InSkippedDir(rel) {
		w.countExcluded()
		return false
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Lstat(name); err == nil && info.IsDir() {
			if r.filter.SkipDir(info.Name()) {
				return false
			}
			if err := w.addTree(r, name, true); err != nil {
				w.logger.Warn("failed to watch new directory", "path", name, "error", err)
			}
			return false
		}
	}

	var kind events.Kind
	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		kind = events.Deleted
	case ev.Has(fsnotify.Create):
		kind = events.Created
	case ev.Has(fsnotify.Write):
		kind = events.Modified
	default:
		return false
	}

	w.enqueue(r, name, kind)
	return false
}

func (w *Watcher) enqueue(r *run, path string, kind events.Kind) {
	if !r.filter.Included(path) {
		w.countExcluded()
		return
	}

	ev := events.New(path, kind, time.Now())
	if rel, err := filepath.Rel(r.root, ev.Path); err == nil {
		ev.RelPath = rel
	}
	r.coalescer.Add(ev)
}

// deliver hands coalesced events to callbacks until the coalescer closes.
func (w *Watcher) deliver(ctx context.Context, r *run) {
	defer close(r.deliverDone)

	for ev := range r.coalescer.Events() {
		if ctx.Err() != nil {
			w.statsMu.Lock()
			w.stats.EventsDropped++
			w.statsMu.Unlock()
			metrics.WatcherEventsDroppedTotal.Inc()
			continue
		}

		metrics.WatcherEventsTotal.WithLabelValues(string(ev.Kind)).Inc()
		w.logger.Debug("delivering event", "kind", ev.Kind, "path", ev.Path, "event_id", ev.ID)

		w.cbMu.RLock()
		callbacks := append([]Callback(nil), w.callbacks...)
		w.cbMu.RUnlock()

		for _, cb := range callbacks {
			w.invoke(ctx, cb, ev)
		}

		w.statsMu.Lock()
		w.stats.EventsDelivered++
		w.statsMu.Unlock()
	}
}

func (w *Watcher) invoke(ctx context.Context, cb Callback, ev events.FileEvent) {
	defer func() {
		if p := recover(); p != nil {
			w.logger.Error("event callback panicked", "path", ev.Path, "panic", p)
		}
	}()
	cb(ctx, ev)
}

func (w *Watcher) countError() {
	w.statsMu.Lock()
	w.stats.Errors++
	w.statsMu.Unlock()
	metrics.WatcherErrorsTotal.Inc()
}

func (w *Watcher) countExcluded() {
	w.statsMu.Lock()
	w.stats.EventsExcluded++
	w.statsMu.Unlock()
}
