package daemon

import "testing"

func TestState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		// From Stopped
		{"stopped to starting", StateStopped, StateStarting, true},
		{"stopped to running", StateStopped, StateRunning, false},
		{"stopped to stopping", StateStopped, StateStopping, false},

		// From Starting
		{"starting to running", StateStarting, StateRunning, true},
		{"starting to stopped", StateStarting, StateStopped, true},
		{"starting to crashed", StateStarting, StateCrashed, true},
		{"starting to stopping", StateStarting, StateStopping, false},

		// From Running
		{"running to stopping", StateRunning, StateStopping, true},
		{"running to crashed", StateRunning, StateCrashed, true},
		{"running to stopped", StateRunning, StateStopped, false},
		{"running to starting", StateRunning, StateStarting, false},

		// From Stopping
		{"stopping to stopped", StateStopping, StateStopped, true},
		{"stopping to running", StateStopping, StateRunning, false},

		// From Crashed
		{"crashed to starting", StateCrashed, StateStarting, true},
		{"crashed to running", StateCrashed, StateRunning, false},

		{"unknown", State("paused"), StateStopped, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("State(%v).CanTransitionTo(%v) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestState_Active(t *testing.T) {
	for _, s := range States {
		want := s == StateStarting || s == StateRunning || s == StateStopping
		if got := s.Active(); got != want {
			t.Errorf("State(%v).Active() = %v, want %v", s, got, want)
		}
	}
}
