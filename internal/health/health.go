// Package health aggregates the daemon's point-in-time health.
package health

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/leefowlercu/vaultkeeper/internal/dispatch"
	"github.com/leefowlercu/vaultkeeper/internal/handlers"
)

// DefaultFailureThreshold is the failure ratio above which a handler is
// considered failing.
const DefaultFailureThreshold = 0.5

// Probe reports the liveness of the daemon's own components.
type Probe interface {
	LockHeld() bool
	WatcherAlive() bool
}

// Warner is optionally implemented by a Probe to add non-fatal warnings,
// such as a watcher running in degraded mode.
type Warner interface {
	Warnings() []string
}

// StatsSource supplies per-handler invocation statistics.
// *dispatch.Tracker implements it.
type StatsSource interface {
	Stats() map[string]dispatch.HandlerStats
	LastActivity() time.Time
}

// HandlerHealthSource supplies handlers' self-reported health.
// *handlers.Registry implements it.
type HandlerHealthSource interface {
	HandlerHealth() map[string]handlers.Health
}

// HandlerCheck is the detail behind one entry of Snapshot.Checks.
type HandlerCheck struct {
	Healthy      bool     `json:"healthy"`
	Invocations  int64    `json:"invocations"`
	Window       int      `json:"window"`
	FailureRatio float64  `json:"failure_ratio"`
	LastError    string   `json:"last_error,omitempty"`
	SelfHealthy  bool     `json:"self_healthy"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Snapshot is a point-in-time health view.
type Snapshot struct {
	OverallHealthy bool                    `json:"overall_healthy"`
	LockHeld       bool                    `json:"lock_held"`
	WatcherAlive   bool                    `json:"watcher_alive"`
	Checks         map[string]bool         `json:"checks"`
	Errors         []string                `json:"errors"`
	Warnings       []string                `json:"warnings,omitempty"`
	Handlers       map[string]HandlerCheck `json:"handlers,omitempty"`
	LastActivity   time.Time               `json:"last_activity,omitzero"`
	TakenAt        time.Time               `json:"taken_at"`
}

// Aggregator computes Snapshots. It holds no state of its own.
type Aggregator struct {
	probe     Probe
	stats     StatsSource
	handlers  HandlerHealthSource
	threshold float64
	now       func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithThreshold sets the failure ratio a handler may reach before it counts
// as failing. Ratios equal to the threshold are still healthy.
func WithThreshold(threshold float64) Option {
	return func(a *Aggregator) {
		a.threshold = threshold
	}
}

// WithHandlerHealth adds handlers' self-reported health as warnings.
func WithHandlerHealth(src HandlerHealthSource) Option {
	return func(a *Aggregator) {
		a.handlers = src
	}
}

// NewAggregator creates an Aggregator. stats may be nil before any handler
// is loaded.
func NewAggregator(probe Probe, stats StatsSource, opts ...Option) *Aggregator {
	a := &Aggregator{
		probe:     probe,
		stats:     stats,
		threshold: DefaultFailureThreshold,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Snapshot computes the current health. It is read-only.
func (a *Aggregator) Snapshot() Snapshot {
	snap := Snapshot{
		OverallHealthy: true,
		LockHeld:       a.probe.LockHeld(),
		WatcherAlive:   a.probe.WatcherAlive(),
		Checks:         map[string]bool{},
		Errors:         []string{},
		Handlers:       map[string]HandlerCheck{},
		TakenAt:        a.now(),
	}

	if !snap.LockHeld {
		snap.OverallHealthy = false
		snap.Errors = append(snap.Errors, "instance lock is not held by this process")
	}
	if !snap.WatcherAlive {
		snap.OverallHealthy = false
		snap.Errors = append(snap.Errors, "file watcher is not running")
	}
	if w, ok := a.probe.(Warner); ok {
		snap.Warnings = append(snap.Warnings, w.Warnings()...)
	}

	var stats map[string]dispatch.HandlerStats
	if a.stats != nil {
		stats = a.stats.Stats()
		snap.LastActivity = a.stats.LastActivity()
	}
	var self map[string]handlers.Health
	if a.handlers != nil {
		self = a.handlers.HandlerHealth()
	}

	names := make(map[string]struct{}, len(stats)+len(self))
	for name := range stats {
		names[name] = struct{}{}
	}
	for name := range self {
		names[name] = struct{}{}
	}

	for _, name := range slices.Sorted(maps.Keys(names)) {
		s := stats[name]
		check := HandlerCheck{
			Healthy:      true,
			Invocations:  s.Invocations,
			Window:       s.Window,
			FailureRatio: s.FailureRatio(),
			LastError:    s.LastError,
			SelfHealthy:  true,
		}

		if s.Window > 0 && check.FailureRatio > a.threshold {
			check.Healthy = false
			snap.OverallHealthy = false
			snap.Errors = append(snap.Errors, fmt.Sprintf(
				"handler %s failed %d of its last %d invocations (ratio %.2f exceeds %.2f); last error: %s",
				name, s.WindowFailures, s.Window, check.FailureRatio, a.threshold, s.LastError))
		}

		if h, ok := self[name]; ok {
			check.SelfHealthy = h.IsHealthy
			check.Warnings = h.Warnings
			if !h.IsHealthy {
				snap.Warnings = append(snap.Warnings, fmt.Sprintf("handler %s reports unhealthy", name))
			}
			for _, w := range h.Warnings {
				snap.Warnings = append(snap.Warnings, fmt.Sprintf("handler %s: %s", name, w))
			}
		}

		snap.Checks[name] = check.Healthy
		snap.Handlers[name] = check
	}

	return snap
}
