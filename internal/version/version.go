// Package version reports the build identity of vaultkeeper.
package version

import (
	_ "embed"
	"fmt"
	"runtime/debug"
	"strings"
)

//go:embed VERSION
var versionFile string

// Set with:
//
//	go build -ldflags "-X github.com/leefowlercu/vaultkeeper/internal/version.gitCommit=VALUE"
var (
	gitCommit string
	buildDate string
)

// Info describes a build.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
}

// String formats Info for human-readable display.
func (i Info) String() string {
	return fmt.Sprintf("Version:    %s\nGit Commit: %s\nBuild Date: %s",
		i.Version, i.GitCommit, i.BuildDate)
}

// Short renders the version with the commit appended when it is known.
func (i Info) Short() string {
	if i.GitCommit == "" || i.GitCommit == "unknown" {
		return i.Version
	}
	return i.Version + " (" + i.GitCommit + ")"
}

// Get returns the build identity of the running binary.
func Get() Info {
	return Info{
		Version:   getVersion(),
		GitCommit: getGitCommit(),
		BuildDate: getBuildDate(),
	}
}

// UserAgent is sent on outbound HTTP requests.
func UserAgent() string {
	return "vaultkeeper/" + getVersion()
}

func getVersion() string {
	return strings.TrimSpace(versionFile)
}

// getGitCommit prefers the linker value, then VCS build info.
func getGitCommit() string {
	if gitCommit != "" {
		return gitCommit
	}

	revision, dirty := readBuildInfo()
	if revision == "" {
		return "unknown"
	}
	if dirty {
		return revision + "-dirty"
	}
	return revision
}

func getBuildDate() string {
	if buildDate != "" {
		return buildDate
	}
	return "unknown"
}

func readBuildInfo() (revision string, dirty bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
			if len(revision) > 7 {
				revision = revision[:7]
			}
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}

	return revision, dirty
}
