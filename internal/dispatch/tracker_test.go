package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(handler string, ok bool) Result {
	r := Result{Handler: handler, Success: ok, StartedAt: time.Now(), Duration: time.Millisecond}
	if !ok {
		r.Err = &InvocationError{Handler: handler, Err: errReportedFailure}
		r.Error = "boom"
	}
	return r
}

func TestTracker_SlidingWindow(t *testing.T) {
	tr := NewTracker(4)

	for _, ok := range []bool{false, false, true, true} {
		tr.Record(result("h", ok))
	}
	s := tr.Stats()["h"]
	assert.Equal(t, 4, s.Window)
	assert.Equal(t, 2, s.WindowFailures)
	assert.InDelta(t, 0.5, s.FailureRatio(), 1e-9)

	// Two successes push both failures out of the window.
	tr.Record(result("h", true))
	tr.Record(result("h", true))

	s = tr.Stats()["h"]
	assert.Equal(t, 4, s.Window)
	assert.Zero(t, s.WindowFailures)
	assert.Zero(t, s.FailureRatio())
	assert.EqualValues(t, 6, s.Invocations)
	assert.EqualValues(t, 2, s.Failures, "lifetime counters are not windowed")
	assert.Equal(t, "boom", s.LastError)
}

func TestTracker_PartialWindow(t *testing.T) {
	tr := NewTracker(10)
	tr.Record(result("h", false))

	s := tr.Stats()["h"]
	assert.Equal(t, 1, s.Window)
	assert.InDelta(t, 1.0, s.FailureRatio(), 1e-9)
}

func TestTracker_RegisterWithoutInvocations(t *testing.T) {
	tr := NewTracker(0)
	tr.Register("idle", "busy")

	stats := tr.Stats()
	require.Contains(t, stats, "idle")
	assert.Zero(t, stats["idle"].Invocations)
	assert.Zero(t, stats["idle"].FailureRatio(), "no invocations is not failing")
	assert.True(t, tr.LastActivity().IsZero())
}

func TestTracker_TimeoutsAndLastActivity(t *testing.T) {
	tr := NewTracker(5)

	start := time.Now()
	tr.Record(Result{Handler: "slow", Err: ErrTimeout, Error: "timeout", StartedAt: start, Duration: time.Second})

	s := tr.Stats()["slow"]
	assert.EqualValues(t, 1, s.Timeouts)
	assert.Equal(t, start.Add(time.Second), s.LastInvokedAt)
	assert.Equal(t, start.Add(time.Second), tr.LastActivity())
}

func TestTracker_IgnoresCanceled(t *testing.T) {
	tr := NewTracker(5)
	tr.Record(Result{Handler: "h", Err: ErrCanceled, Error: "canceled"})

	_, ok := tr.Stats()["h"]
	assert.False(t, ok)
}

func TestResult_Outcome(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Result{Success: true}.Outcome())
	assert.Equal(t, OutcomeTimeout, Result{Err: ErrTimeout}.Outcome())
	assert.Equal(t, OutcomeCanceled, Result{Err: ErrCanceled}.Outcome())
	assert.Equal(t, OutcomeFailure, Result{Err: &InvocationError{Handler: "x", Err: errReportedFailure}}.Outcome())

	ok, failed := Count([]Result{{Success: true}, {}, {Success: true}})
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, failed)
}
