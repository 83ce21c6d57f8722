package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/leefowlercu/vaultkeeper/internal/metrics"
)

// DefaultWindow is the number of recent invocations kept per handler.
const DefaultWindow = 20

// HandlerStats is a copy of one handler's counters.
type HandlerStats struct {
	Invocations    int64     `json:"invocations"`
	Failures       int64     `json:"failures"`
	Timeouts       int64     `json:"timeouts"`
	Window         int       `json:"window"`
	WindowFailures int       `json:"window_failures"`
	LastError      string    `json:"last_error,omitempty"`
	LastInvokedAt  time.Time `json:"last_invoked_at,omitzero"`
}

// FailureRatio is the fraction of failed invocations in the window. A handler
// that has never run has ratio 0.
func (s HandlerStats) FailureRatio() float64 {
	if s.Window == 0 {
		return 0
	}
	return float64(s.WindowFailures) / float64(s.Window)
}

// Tracker keeps per-handler counters and a sliding window of the most recent
// outcomes. Results abandoned because dispatch was cancelled are not counted.
type Tracker struct {
	mu           sync.RWMutex
	size         int
	handlers     map[string]*ring
	lastActivity time.Time
}

type ring struct {
	outcomes []bool // true = failed
	next     int
	filled   int
	stats    HandlerStats
}

// NewTracker creates a Tracker with a window of size invocations.
func NewTracker(size int) *Tracker {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Tracker{
		size:     size,
		handlers: make(map[string]*ring),
	}
}

// Register makes a handler visible in Stats before its first invocation.
func (t *Tracker) Register(names ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, name := range names {
		t.ring(name)
	}
}

// Record implements Recorder.
func (t *Tracker) Record(res Result) {
	if res.Outcome() == OutcomeCanceled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.ring(res.Handler)
	failed := !res.Success

	if r.filled == len(r.outcomes) {
		if r.outcomes[r.next] {
			r.stats.WindowFailures--
		}
	} else {
		r.filled++
	}
	r.outcomes[r.next] = failed
	r.next = (r.next + 1) % len(r.outcomes)

	r.stats.Invocations++
	r.stats.Window = r.filled
	if failed {
		r.stats.Failures++
		r.stats.WindowFailures++
		r.stats.LastError = res.Error
		if res.Outcome() == OutcomeTimeout {
			r.stats.Timeouts++
		}
	}

	at := time.Now()
	if !res.StartedAt.IsZero() {
		at = res.StartedAt.Add(res.Duration)
	}
	r.stats.LastInvokedAt = at
	if at.After(t.lastActivity) {
		t.lastActivity = at
	}
}

// Stats returns a copy of every handler's counters.
func (t *Tracker) Stats() map[string]HandlerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]HandlerStats, len(t.handlers))
	for name, r := range t.handlers {
		out[name] = r.stats
	}
	return out
}

// LastActivity returns when the most recent invocation finished.
func (t *Tracker) LastActivity() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastActivity
}

// CollectMetrics implements metrics.MetricsProvider.
func (t *Tracker) CollectMetrics(_ context.Context) error {
	for name, s := range t.Stats() {
		metrics.HandlerFailureRatio.WithLabelValues(name).Set(s.FailureRatio())
	}
	return nil
}

func (t *Tracker) ring(name string) *ring {
	r, ok := t.handlers[name]
	if !ok {
		r = &ring{outcomes: make([]bool, t.size)}
		t.handlers[name] = r
	}
	return r
}
