package watcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leefowlercu/vaultkeeper/internal/events"
)

// Coalescer merges bursts of raw notifications for the same path into a
// single event emitted once the path has been quiet for the debounce window.
type Coalescer struct {
	debounceWindow    time.Duration
	deleteGracePeriod time.Duration

	mu       sync.Mutex
	pending  map[string]*pendingEvent
	sending  map[string]bool
	out      chan events.FileEvent
	closed   bool
	inflight sync.WaitGroup

	abort     chan struct{}
	abortOnce sync.Once

	coalesced atomic.Int64
	dropped   atomic.Int64
}

type pendingEvent struct {
	event events.FileEvent
	timer *time.Timer
	// due is set when the window ended while an earlier event for the same
	// path was still being sent.
	due bool
}

// NewCoalescer creates a Coalescer whose output channel holds up to
// queueSize events.
func NewCoalescer(debounceWindow, deleteGracePeriod time.Duration, queueSize int) *Coalescer {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Coalescer{
		debounceWindow:    debounceWindow,
		deleteGracePeriod: deleteGracePeriod,
		pending:           make(map[string]*pendingEvent),
		sending:           make(map[string]bool),
		out:               make(chan events.FileEvent, queueSize),
		abort:             make(chan struct{}),
	}
}

// Add records a raw event. Events added after Close are ignored.
func (c *Coalescer) Add(event events.FileEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	key := event.DebounceKey
	if pe, ok := c.pending[key]; ok {
		pe.timer.Stop()
		c.coalesced.Add(1)

		// A file that appears and disappears inside one window never existed
		// as far as handlers are concerned.
		if pe.event.Kind == events.Created && event.Kind == events.Deleted {
			delete(c.pending, key)
			return
		}

		next := &pendingEvent{event: merge(pe.event, event)}
		next.timer = c.schedule(key, next)
		c.pending[key] = next
		return
	}

	pe := &pendingEvent{event: event}
	pe.timer = c.schedule(key, pe)
	c.pending[key] = pe
}

func (c *Coalescer) schedule(key string, pe *pendingEvent) *time.Timer {
	return time.AfterFunc(c.delay(pe.event.Kind), func() {
		c.emit(key, pe)
	})
}

// Events returns the channel of coalesced events. It is closed by Close.
func (c *Coalescer) Events() <-chan events.FileEvent {
	return c.out
}

// Close flushes every pending event to the output channel and then closes
// it. If ctx ends before the flush completes, undelivered events are dropped.
func (c *Coalescer) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true

	flush := make([]events.FileEvent, 0, len(c.pending))
	for key, pe := range c.pending {
		pe.timer.Stop()
		flush = append(flush, pe.event)
		delete(c.pending, key)
	}
	c.mu.Unlock()

	// Emissions already under way go first so per-path order holds.
	if !c.waitInflight(ctx) {
		c.dropped.Add(int64(len(flush)))
		close(c.out)
		return
	}

	for i, ev := range flush {
		select {
		case c.out <- ev:
		case <-ctx.Done():
			c.dropped.Add(int64(len(flush) - i))
			close(c.out)
			return
		}
	}

	close(c.out)
}

func (c *Coalescer) waitInflight(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		c.stopSending()
		<-done
		return false
	}
}

// PendingCount returns the number of paths waiting for their window to end.
func (c *Coalescer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Coalesced returns how many raw events were merged into an earlier one.
func (c *Coalescer) Coalesced() int64 {
	return c.coalesced.Load()
}

// Dropped returns how many events were discarded during an aborted close.
func (c *Coalescer) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Coalescer) stopSending() {
	c.abortOnce.Do(func() { close(c.abort) })
}

// emit sends the pending event for key once its window has ended. Only one
// send per path is in flight at a time; a newer event whose window ends
// meanwhile is handed over by the earlier send when it completes.
func (c *Coalescer) emit(key string, pe *pendingEvent) {
	c.mu.Lock()
	if c.pending[key] != pe {
		// Rescheduled or flushed after this timer fired.
		c.mu.Unlock()
		return
	}
	if c.sending[key] {
		pe.due = true
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	c.sending[key] = true
	c.inflight.Add(1)
	c.mu.Unlock()

	defer c.inflight.Done()

	ev := pe.event
	for {
		select {
		case c.out <- ev:
		case <-c.abort:
			c.dropped.Add(1)
		}

		c.mu.Lock()
		next, ok := c.pending[key]
		if !ok || !next.due {
			delete(c.sending, key)
			c.mu.Unlock()
			return
		}
		delete(c.pending, key)
		c.mu.Unlock()

		ev = next.event
	}
}

func (c *Coalescer) delay(kind events.Kind) time.Duration {
	if kind == events.Deleted {
		return c.deleteGracePeriod
	}
	return c.debounceWindow
}

// merge folds a newer event for the same path into the pending one.
//
//	created  + modified = created
//	modified + deleted  = deleted
//	deleted  + created  = modified (file replaced)
//	modified + modified = modified
//
// created + deleted is handled by the caller, which drops the event.
func merge(old, next events.FileEvent) events.FileEvent {
	merged := old
	merged.Timestamp = next.Timestamp

	switch {
	case old.Kind == events.Created && next.Kind == events.Modified:
		merged.Kind = events.Created
	case old.Kind == events.Deleted && next.Kind == events.Created:
		merged.Kind = events.Modified
	default:
		merged.Kind = next.Kind
	}

	return merged
}
