package dispatch

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout marks an invocation abandoned at its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrCanceled marks an invocation abandoned because dispatch itself was
	// cancelled, typically during shutdown.
	ErrCanceled = errors.New("canceled")

	// errReportedFailure is used when a handler returns no error but an
	// unsuccessful output.
	errReportedFailure = errors.New("handler reported failure")
)

// Outcome labels used for metrics and logs.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeTimeout  = "timeout"
	OutcomeCanceled = "canceled"
)

// InvocationError wraps an error returned (or a panic raised) by a handler.
type InvocationError struct {
	Handler string
	Err     error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("handler %s failed; %v", e.Handler, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one handler invocation. Duration is always set,
// including for failures and timeouts.
type Result struct {
	Handler   string         `json:"handler"`
	EventID   string         `json:"event_id"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
	StartedAt time.Time      `json:"started_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Err is the underlying error; Error is its message.
	Err error `json:"-"`
}

// Outcome classifies the result.
func (r Result) Outcome() string {
	switch {
	case r.Success:
		return OutcomeSuccess
	case errors.Is(r.Err, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(r.Err, ErrCanceled):
		return OutcomeCanceled
	default:
		return OutcomeFailure
	}
}

// Count returns how many results succeeded and failed.
func Count(results []Result) (succeeded, failed int) {
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}
