package logging

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input     string
		wantLevel slog.Level
		wantOK    bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"Warn", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{" error ", slog.LevelError, true},

		{"", DefaultLevel, false},
		{"trace", DefaultLevel, false},
		{"infoo", DefaultLevel, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			gotLevel, gotOK := ParseLevel(tt.input)
			if gotOK != tt.wantOK {
				t.Errorf("ParseLevel(%q) ok = %v, want %v", tt.input, gotOK, tt.wantOK)
			}
			if gotLevel != tt.wantLevel {
				t.Errorf("ParseLevel(%q) level = %v, want %v", tt.input, gotLevel, tt.wantLevel)
			}
		})
	}
}

func TestParseLevelOrDefault(t *testing.T) {
	if got := ParseLevelOrDefault("debug"); got != slog.LevelDebug {
		t.Errorf("ParseLevelOrDefault(debug) = %v, want DEBUG", got)
	}
	if got := ParseLevelOrDefault("loud"); got != DefaultLevel {
		t.Errorf("ParseLevelOrDefault(loud) = %v, want %v", got, DefaultLevel)
	}
}
