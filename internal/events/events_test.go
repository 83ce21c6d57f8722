package events

import (
	"testing"
	"time"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    Kind
		wantErr bool
	}{
		{"created", Created, false},
		{"MODIFIED", Modified, false},
		{" deleted ", Deleted, false},
		{"renamed", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKind(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKind(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	ts := time.Now()
	ev := New("/vault/notes/../notes/a.MD", Created, ts)

	if ev.Path != "/vault/notes/a.MD" {
		t.Errorf("Path = %q, want %q", ev.Path, "/vault/notes/a.MD")
	}
	if ev.DebounceKey != ev.Path {
		t.Errorf("DebounceKey = %q, want %q", ev.DebounceKey, ev.Path)
	}
	if ev.ID == "" {
		t.Error("expected non-empty ID")
	}
	if ev.Ext() != ".md" {
		t.Errorf("Ext() = %q, want .md", ev.Ext())
	}
	if ev.Name() != "a.MD" {
		t.Errorf("Name() = %q, want a.MD", ev.Name())
	}

	other := New("/vault/notes/a.MD", Created, ts)
	if other.ID == ev.ID {
		t.Error("expected distinct IDs for distinct events")
	}
}
