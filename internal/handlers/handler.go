// Package handlers defines the pluggable units of work that react to vault
// file events, the registry that holds them for one daemon run, and the
// built-in handler types.
package handlers

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/leefowlercu/vaultkeeper/internal/events"
)

// Handler is implemented by every handler type.
type Handler interface {
	// CanHandle reports whether the handler wants the event. It is consulted
	// after the descriptor's configured patterns and kinds.
	CanHandle(ev events.FileEvent) bool

	// Handle processes the event. It must return promptly once ctx is done.
	Handle(ctx context.Context, ev events.FileEvent) (Output, error)

	// Health reports the handler's own view of its health.
	Health() Health
}

// Output is what a handler returns for one event. Metadata is opaque to the
// daemon; it is logged and surfaced in results but never interpreted.
type Output struct {
	Success  bool
	Metadata map[string]any
}

// Health is a handler's self-reported health.
type Health struct {
	IsHealthy bool     `json:"is_healthy"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Healthy is the Health of a handler with nothing to report.
func Healthy() Health {
	return Health{IsHealthy: true}
}

// Predicate decides whether a descriptor receives an event.
type Predicate func(ev events.FileEvent) bool

// MatchPatterns matches the event's base name against globs. No patterns
// matches everything.
func MatchPatterns(patterns []string) Predicate {
	if len(patterns) == 0 {
		return func(events.FileEvent) bool { return true }
	}
	globs := slices.Clone(patterns)
	return func(ev events.FileEvent) bool {
		name := strings.ToLower(ev.Name())
		for _, g := range globs {
			if ok, _ := filepath.Match(strings.ToLower(g), name); ok {
				return true
			}
		}
		return false
	}
}

// MatchKinds matches events of the given kinds. No kinds matches everything.
func MatchKinds(kinds []events.Kind) Predicate {
	if len(kinds) == 0 {
		return func(events.FileEvent) bool { return true }
	}
	allowed := slices.Clone(kinds)
	return func(ev events.FileEvent) bool {
		return slices.Contains(allowed, ev.Kind)
	}
}

// All matches when every predicate matches.
func All(preds ...Predicate) Predicate {
	return func(ev events.FileEvent) bool {
		for _, p := range preds {
			if p != nil && !p(ev) {
				return false
			}
		}
		return true
	}
}

// Descriptor binds a handler to its name, enablement and routing predicate.
// Descriptors do not change once registered.
type Descriptor struct {
	Name      string
	Type      string
	Enabled   bool
	Predicate Predicate
	Handler   Handler

	// Config is the handler-specific block, kept for status output.
	Config map[string]any

	// Timeout bounds a single invocation; zero uses the dispatcher default.
	Timeout time.Duration
}

// Matches reports whether the descriptor should receive ev. A nil predicate
// matches everything.
func (d Descriptor) Matches(ev events.FileEvent) bool {
	if d.Predicate == nil {
		return true
	}
	return d.Predicate(ev)
}
