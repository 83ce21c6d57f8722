package version

import (
	"strings"
	"testing"
)

func TestGetVersion(t *testing.T) {
	got := getVersion()
	if got == "" {
		t.Fatal("getVersion() returned empty string")
	}
	if got != strings.TrimSpace(got) {
		t.Errorf("getVersion() = %q, contains leading/trailing whitespace", got)
	}
	if parts := strings.SplitN(got, ".", 3); len(parts) < 3 {
		t.Errorf("getVersion() = %q, want MAJOR.MINOR.PATCH", got)
	}
}

func TestInfoString(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{
			name: "all fields",
			info: Info{Version: "1.0.0", GitCommit: "abc1234", BuildDate: "2026-01-10T15:04:05Z"},
			want: "Version:    1.0.0\nGit Commit: abc1234\nBuild Date: 2026-01-10T15:04:05Z",
		},
		{
			name: "unknown values",
			info: Info{Version: "0.1.0", GitCommit: "unknown", BuildDate: "unknown"},
			want: "Version:    0.1.0\nGit Commit: unknown\nBuild Date: unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.String(); got != tt.want {
				t.Errorf("Info.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInfoShort(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{"with commit", Info{Version: "0.1.0", GitCommit: "def5678-dirty"}, "0.1.0 (def5678-dirty)"},
		{"unknown commit", Info{Version: "0.1.0", GitCommit: "unknown"}, "0.1.0"},
		{"empty commit", Info{Version: "0.1.0"}, "0.1.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.Short(); got != tt.want {
				t.Errorf("Info.Short() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetGitCommitFormat(t *testing.T) {
	got := getGitCommit()
	if got == "" {
		t.Fatal("getGitCommit() returned empty string")
	}
	if got == "unknown" {
		return
	}

	for _, c := range strings.TrimSuffix(got, "-dirty") {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Errorf("getGitCommit() = %q, contains non-hex character %q", got, c)
			return
		}
	}
}

func TestGet(t *testing.T) {
	info := Get()
	if info.Version != getVersion() {
		t.Errorf("Get().Version = %q, want %q", info.Version, getVersion())
	}
	if info.GitCommit == "" || info.BuildDate == "" {
		t.Errorf("Get() = %+v, want populated fields", info)
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "vaultkeeper/"+getVersion() {
		t.Errorf("UserAgent() = %q", got)
	}
}
