// Package metrics provides Prometheus metrics for the vaultkeeper daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "vaultkeeper"
)

// Watcher metrics track filesystem observation.
var (
	// WatcherEventsTotal counts events delivered to handlers, by kind.
	WatcherEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watcher_events_total",
		Help:      "Total number of debounced file events delivered",
	}, []string{"kind"})

	// WatcherEventsDroppedTotal counts events discarded during a bounded shutdown.
	WatcherEventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watcher_events_dropped_total",
		Help:      "Total number of file events dropped before delivery",
	})

	// WatcherErrorsTotal counts non-fatal watcher errors.
	WatcherErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watcher_errors_total",
		Help:      "Total number of non-fatal watcher errors",
	})

	// WatcherWatchedDirs is the number of directories currently watched.
	WatcherWatchedDirs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "watcher_watched_dirs",
		Help:      "Number of directories currently watched",
	})
)

// Handler metrics track dispatch outcomes.
var (
	// HandlerInvocationsTotal counts invocations by handler and outcome.
	HandlerInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handler_invocations_total",
		Help:      "Total number of handler invocations",
	}, []string{"handler", "outcome"})

	// HandlerDuration observes handler execution time.
	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "handler_duration_seconds",
		Help:      "Duration of handler invocations in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"handler"})

	// HandlerFailureRatio is each handler's failure ratio over its recent window.
	HandlerFailureRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "handler_failure_ratio",
		Help:      "Failure ratio over the recent invocation window",
	}, []string{"handler"})
)

// Daemon metrics track lifecycle state.
var (
	// DaemonInfo provides daemon version information.
	DaemonInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daemon_info",
		Help:      "Daemon version information",
	}, []string{"version", "go_version"})

	// DaemonStartTime is the Unix timestamp when the daemon started.
	DaemonStartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daemon_start_time_seconds",
		Help:      "Unix timestamp when the daemon started",
	})

	// DaemonState is 1 for the current lifecycle state and 0 for the others.
	DaemonState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "daemon_state",
		Help:      "Current daemon lifecycle state",
	}, []string{"state"})

	// LockHeld is 1 while this process owns the instance lock.
	LockHeld = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lock_held",
		Help:      "Whether this process holds the instance lock",
	})

	// HealthOverall is 1 when the last health snapshot was healthy.
	HealthOverall = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "health_overall",
		Help:      "Overall health from the last snapshot",
	})

	// ComponentStatus tracks whether each metrics provider collected successfully.
	ComponentStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "component_status",
		Help:      "Metrics collection status per component (1=ok, 0=error)",
	}, []string{"component"})
)
