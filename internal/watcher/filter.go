package watcher

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultExcludes are transient files editors create while saving.
var DefaultExcludes = []string{"*.tmp", "*.swp", "*.swo", "*~", "*.bak", ".#*", "#*#", ".DS_Store", "4913"}

// DefaultExcludeDirs are directories never watched.
var DefaultExcludeDirs = []string{".git", ".obsidian", ".trash"}

// Filter decides which paths under the vault produce events. All patterns
// are matched against base names.
type Filter struct {
	include     []string
	exclude     []string
	excludeDirs map[string]struct{}
}

// NewFilter validates the patterns and builds a Filter. An empty include
// list matches every file that is not excluded.
func NewFilter(include, exclude, excludeDirs []string) (*Filter, error) {
	for _, p := range append(append([]string{}, include...), exclude...) {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q; %w", p, err)
		}
	}

	dirs := make(map[string]struct{}, len(excludeDirs))
	for _, d := range excludeDirs {
		dirs[d] = struct{}{}
	}

	return &Filter{
		include:     include,
		exclude:     exclude,
		excludeDirs: dirs,
	}, nil
}

// SkipDir reports whether a directory with this base name must not be watched.
func (f *Filter) SkipDir(name string) bool {
	_, ok := f.excludeDirs[name]
	return ok
}

// InSkippedDir reports whether any directory component of rel (a path
// relative to the vault root) is excluded.
func (f *Filter) InSkippedDir(rel string) bool {
	dir := filepath.Dir(rel)
	if dir == "." {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if f.SkipDir(part) {
			return true
		}
	}
	return false
}

// Excluded reports whether the file's base name matches an exclusion.
func (f *Filter) Excluded(path string) bool {
	return matchAny(f.exclude, filepath.Base(path))
}

// Included reports whether a file should produce events.
func (f *Filter) Included(path string) bool {
	if f.Excluded(path) {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	return matchAny(f.include, filepath.Base(path))
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
