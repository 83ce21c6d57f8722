package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type generation struct {
	seq     uint64
	handler slog.Handler
}

type derived struct {
	seq     uint64
	handler slog.Handler
}

// SwappableHandler wraps a slog.Handler that can be atomically replaced at
// runtime. Handlers derived through WithAttrs or WithGroup share the root, so
// a Swap reaches loggers created before it.
type SwappableHandler struct {
	root *atomic.Pointer[generation]

	// ops replays WithAttrs/WithGroup calls onto the current root handler.
	ops   []func(slog.Handler) slog.Handler
	cache atomic.Pointer[derived]
}

// NewSwappableHandler creates a handler with an initial handler.
func NewSwappableHandler(initial slog.Handler) *SwappableHandler {
	root := &atomic.Pointer[generation]{}
	root.Store(&generation{handler: initial})
	return &SwappableHandler{root: root}
}

// Swap atomically replaces the underlying handler for this handler and every
// handler derived from it.
func (sh *SwappableHandler) Swap(newHandler slog.Handler) {
	for {
		old := sh.root.Load()
		if sh.root.CompareAndSwap(old, &generation{seq: old.seq + 1, handler: newHandler}) {
			return
		}
	}
}

func (sh *SwappableHandler) current() slog.Handler {
	gen := sh.root.Load()
	if len(sh.ops) == 0 {
		return gen.handler
	}

	if c := sh.cache.Load(); c != nil && c.seq == gen.seq {
		return c.handler
	}

	h := gen.handler
	for _, op := range sh.ops {
		h = op(h)
	}
	sh.cache.Store(&derived{seq: gen.seq, handler: h})
	return h
}

// Enabled reports whether the handler handles records at the given level.
func (sh *SwappableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return sh.current().Enabled(ctx, level)
}

// Handle handles the Record.
func (sh *SwappableHandler) Handle(ctx context.Context, r slog.Record) error {
	return sh.current().Handle(ctx, r)
}

// WithAttrs returns a handler that adds attrs on top of whatever handler is
// current at log time.
func (sh *SwappableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return sh
	}
	return sh.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

// WithGroup returns a handler that opens group name on top of whatever
// handler is current at log time.
func (sh *SwappableHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return sh
	}
	return sh.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (sh *SwappableHandler) derive(op func(slog.Handler) slog.Handler) *SwappableHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(sh.ops), len(sh.ops)+1)
	copy(ops, sh.ops)
	return &SwappableHandler{
		root: sh.root,
		ops:  append(ops, op),
	}
}
