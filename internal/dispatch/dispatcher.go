// Package dispatch routes file events to the handlers that match them.
//
// Handlers run one after another in registration order. Each invocation is
// bounded by its descriptor's timeout and isolated from the others: errors,
// panics and deadlines all become failed Results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/leefowlercu/vaultkeeper/internal/events"
	"github.com/leefowlercu/vaultkeeper/internal/handlers"
	"github.com/leefowlercu/vaultkeeper/internal/metrics"
)

const defaultTimeout = 30 * time.Second

// Source supplies the enabled handler descriptors in registration order.
// *handlers.Registry implements it.
type Source interface {
	Enabled() []handlers.Descriptor
}

// Recorder receives every result produced by Dispatch.
type Recorder interface {
	Record(Result)
}

// Dispatcher invokes matching handlers for each event.
type Dispatcher struct {
	source         Source
	recorder       Recorder
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDefaultTimeout sets the deadline used for descriptors without one.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.defaultTimeout = timeout
	}
}

// WithRecorder sets where results are recorded, usually a *Tracker.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// New creates a Dispatcher over source.
func New(source Source, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		source:         source,
		defaultTimeout: defaultTimeout,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch invokes every enabled handler whose predicate accepts ev and
// returns one Result per invoked handler, in registration order. It never
// returns early because of a handler failure. An invocation that outlives its
// deadline is abandoned; its goroutine is left to finish on its own.
func (d *Dispatcher) Dispatch(ctx context.Context, ev events.FileEvent) []Result {
	descs := d.source.Enabled()
	results := make([]Result, 0, len(descs))

	for _, desc := range descs {
		matched, err := d.matches(desc, ev)
		if err != nil {
			res := Result{
				Handler:   desc.Name,
				EventID:   ev.ID,
				StartedAt: time.Now(),
				Err:       &InvocationError{Handler: desc.Name, Err: err},
				Error:     err.Error(),
			}
			results = append(results, d.finish(res, ev))
			continue
		}
		if !matched {
			continue
		}

		results = append(results, d.finish(d.invoke(ctx, desc, ev), ev))
	}

	if len(results) > 0 {
		ok, failed := Count(results)
		d.logger.Debug("event dispatched",
			"event_id", ev.ID,
			"path", ev.Path,
			"kind", ev.Kind,
			"handlers", len(results),
			"succeeded", ok,
			"failed", failed)
	}

	return results
}

// matches evaluates the descriptor's predicate. A panicking predicate counts
// as a failed invocation of that handler.
func (d *Dispatcher) matches(desc handlers.Descriptor, ev events.FileEvent) (matched bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("predicate panicked: %v", p)
		}
	}()
	return desc.Matches(ev), nil
}

type invocation struct {
	out handlers.Output
	err error
}

func (d *Dispatcher) invoke(ctx context.Context, desc handlers.Descriptor, ev events.FileEvent) Result {
	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	res := Result{Handler: desc.Name, EventID: ev.ID, StartedAt: time.Now()}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				d.logger.Error("handler panicked",
					"handler", desc.Name,
					"event_id", ev.ID,
					"panic", p,
					"stack", string(debug.Stack()))
				done <- invocation{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		out, err := desc.Handler.Handle(callCtx, ev)
		done <- invocation{out: out, err: err}
	}()

	var inv invocation
	abandoned := false
	select {
	case inv = <-done:
	case <-callCtx.Done():
		abandoned = true
	}
	res.Duration = time.Since(res.StartedAt)

	deadline := abandoned || (callCtx.Err() != nil && isContextErr(inv.err))

	switch {
	case deadline && ctx.Err() != nil:
		res.Err = ErrCanceled
		res.Error = ErrCanceled.Error()
	case deadline:
		res.Err = ErrTimeout
		res.Error = ErrTimeout.Error()
	case inv.err != nil:
		res.Err = &InvocationError{Handler: desc.Name, Err: inv.err}
		res.Error = inv.err.Error()
	case !inv.out.Success:
		res.Metadata = inv.out.Metadata
		res.Err = &InvocationError{Handler: desc.Name, Err: errReportedFailure}
		res.Error = errReportedFailure.Error()
	default:
		res.Success = true
		res.Metadata = inv.out.Metadata
	}

	return res
}

func (d *Dispatcher) finish(res Result, ev events.FileEvent) Result {
	outcome := res.Outcome()
	metrics.RecordInvocation(res.Handler, outcome, res.Duration)

	if d.recorder != nil {
		d.recorder.Record(res)
	}

	if !res.Success {
		d.logger.Warn("handler invocation failed",
			"handler", res.Handler,
			"event_id", ev.ID,
			"path", ev.Path,
			"outcome", outcome,
			"duration", res.Duration,
			"error", res.Error)
	}

	return res
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
