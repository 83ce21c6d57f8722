package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leefowlercu/vaultkeeper/internal/dispatch"
	"github.com/leefowlercu/vaultkeeper/internal/handlers"
)

type fakeProbe struct {
	lock, watcher bool
	warnings      []string
}

func (p fakeProbe) LockHeld() bool { return p.lock }
func (p fakeProbe) WatcherAlive() bool { return p.watcher }
func (p fakeProbe) Warnings() []string { return p.warnings }

type fakeHandlers map[string]handlers.Health

func (f fakeHandlers) HandlerHealth() map[string]handlers.Health { return f }

func record(tr *dispatch.Tracker, name string, outcomes ...bool) {
	for _, ok := range outcomes {
		r := dispatch.Result{Handler: name, Success: ok, StartedAt: time.Now()}
		if !ok {
			r.Err = &dispatch.InvocationError{Handler: name}
			r.Error = "boom"
		}
		tr.Record(r)
	}
}

func TestSnapshot_OverallHealthy(t *testing.T) {
	tests := []struct {
		name     string
		probe    fakeProbe
		outcomes []bool
		want     bool
		errors   int
	}{
		{"all good", fakeProbe{lock: true, watcher: true}, []bool{true, false}, true, 0},
		{"no invocations", fakeProbe{lock: true, watcher: true}, nil, true, 0},
		{"lock lost", fakeProbe{lock: false, watcher: true}, nil, false, 1},
		{"watcher dead", fakeProbe{lock: true, watcher: false}, nil, false, 1},
		{"both down", fakeProbe{}, nil, false, 2},
		{"ratio at threshold", fakeProbe{lock: true, watcher: true}, []bool{false, true}, true, 0},
		{"ratio above threshold", fakeProbe{lock: true, watcher: true}, []bool{false, false, true}, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := dispatch.NewTracker(10)
			tr.Register("notes")
			record(tr, "notes", tt.outcomes...)

			snap := NewAggregator(tt.probe, tr, WithThreshold(0.5)).Snapshot()

			assert.Equal(t, tt.want, snap.OverallHealthy)
			assert.Len(t, snap.Errors, tt.errors)
			require.Contains(t, snap.Checks, "notes")
		})
	}
}

func TestSnapshot_HandlerDetail(t *testing.T) {
	tr := dispatch.NewTracker(4)
	record(tr, "bad", false, false, false, true)
	record(tr, "good", true)
	tr.Register("idle")

	snap := NewAggregator(fakeProbe{lock: true, watcher: true}, tr).Snapshot()

	assert.False(t, snap.OverallHealthy)
	assert.Equal(t, map[string]bool{"bad": false, "good": true, "idle": true}, snap.Checks)

	bad := snap.Handlers["bad"]
	assert.InDelta(t, 0.75, bad.FailureRatio, 1e-9)
	assert.Equal(t, "boom", bad.LastError)
	require.Len(t, snap.Errors, 1)
	assert.Contains(t, snap.Errors[0], "handler bad failed 3 of its last 4 invocations")

	assert.Zero(t, snap.Handlers["idle"].Invocations)
	assert.False(t, snap.LastActivity.IsZero())
}

func TestSnapshot_SelfReportedHealthOnlyWarns(t *testing.T) {
	tr := dispatch.NewTracker(4)
	src := fakeHandlers{
		"nats":  {IsHealthy: false, Warnings: []string{"nats connection closed"}},
		"index": handlers.Healthy(),
	}
	probe := fakeProbe{lock: true, watcher: true, warnings: []string{"watch limit reached"}}

	snap := NewAggregator(probe, tr, WithHandlerHealth(src)).Snapshot()

	assert.True(t, snap.OverallHealthy)
	assert.Empty(t, snap.Errors)
	assert.Equal(t, map[string]bool{"index": true, "nats": true}, snap.Checks)
	assert.False(t, snap.Handlers["nats"].SelfHealthy)
	assert.Equal(t, []string{
		"watch limit reached",
		"handler nats reports unhealthy",
		"handler nats: nats connection closed",
	}, snap.Warnings)
}

func TestSnapshot_NilStats(t *testing.T) {
	snap := NewAggregator(fakeProbe{lock: true, watcher: true}, nil).Snapshot()

	assert.True(t, snap.OverallHealthy)
	assert.Empty(t, snap.Checks)
	assert.NotNil(t, snap.Errors)
	assert.True(t, snap.LastActivity.IsZero())
}
