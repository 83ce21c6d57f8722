// Package events defines the filesystem change events that flow from the
// vault watcher to the handler dispatcher.
package events

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what happened to a path.
type Kind string

const (
	// Created is emitted when a file appears in the vault.
	Created Kind = "created"

	// Modified is emitted when an existing file's content changes, or when a
	// file is replaced (delete followed by create within the debounce window).
	Modified Kind = "modified"

	// Deleted is emitted when a file is removed or renamed away.
	Deleted Kind = "deleted"
)

// Kinds lists every valid event kind.
var Kinds = []Kind{Created, Modified, Deleted}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case Created, Modified, Deleted:
		return true
	}
	return false
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown event kind %q", s)
	}
	return k, nil
}

// FileEvent is a single, debounced change to a file under the vault root.
type FileEvent struct {
	// ID uniquely identifies the event across the daemon's lifetime.
	ID string `json:"id"`

	// Path is the absolute, cleaned path of the file.
	Path string `json:"path"`

	// RelPath is Path relative to the vault root, when known.
	RelPath string `json:"rel_path,omitempty"`

	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// DebounceKey groups raw notifications that are merged into one event.
	DebounceKey string `json:"debounce_key"`
}

// New creates a FileEvent for path with a fresh ID. The debounce key is the
// cleaned path.
func New(path string, kind Kind, ts time.Time) FileEvent {
	clean := filepath.Clean(path)
	return FileEvent{
		ID:          uuid.NewString(),
		Path:        clean,
		Kind:        kind,
		Timestamp:   ts,
		DebounceKey: clean,
	}
}

// Ext returns the lower-cased extension of the event's path, including the dot.
func (e FileEvent) Ext() string {
	return strings.ToLower(filepath.Ext(e.Path))
}

// Name returns the base name of the event's path.
func (e FileEvent) Name() string {
	return filepath.Base(e.Path)
}

func (e FileEvent) String() string {
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}
