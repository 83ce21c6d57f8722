package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/events"
)

// Factory constructs a handler from its configuration entry.
type Factory func(ctx context.Context, entry config.HandlerConfig, logger *slog.Logger) (Handler, error)

// Builtins is the static list of handler types, keyed by type name.
var Builtins = map[string]Factory{
	"markdown": NewMarkdownFromConfig,
	"index":    NewIndexFromConfig,
	"command":  NewCommandFromConfig,
	"webhook":  NewWebhookFromConfig,
	"nats":     NewNATSFromConfig,
}

// Types returns the registered handler type names, sorted.
func Types() []string {
	names := make([]string, 0, len(Builtins))
	for name := range Builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Loader builds a sealed Registry from the configured handler list.
type Loader struct {
	entries        []config.HandlerConfig
	defaultTimeout time.Duration
	factories      map[string]Factory
	logger         *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger passed to handler factories.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithFactories replaces the built-in factory set.
func WithFactories(factories map[string]Factory) LoaderOption {
	return func(l *Loader) {
		l.factories = factories
	}
}

// NewLoader creates a loader for entries. Handlers without a timeout use
// defaultTimeout.
func NewLoader(entries []config.HandlerConfig, defaultTimeout time.Duration, opts ...LoaderOption) *Loader {
	l := &Loader{
		entries:        entries,
		defaultTimeout: defaultTimeout,
		factories:      Builtins,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load constructs every enabled handler and returns a sealed registry.
// Disabled entries are registered without being constructed. If any handler
// fails to build, the handlers already built are closed.
func (l *Loader) Load(ctx context.Context) (*Registry, error) {
	reg := NewRegistry()

	for _, entry := range l.entries {
		d, err := l.build(ctx, entry)
		if err == nil {
			if err = reg.Register(d); err != nil {
				closeHandler(d.Handler)
			}
		}
		if err != nil {
			if closeErr := reg.Close(); closeErr != nil {
				l.logger.Warn("failed to close handlers after load error", "error", closeErr)
			}
			return nil, fmt.Errorf("failed to load handler %q; %w", entry.Name, err)
		}
	}

	reg.Seal()
	l.logger.Info("handlers loaded",
		"total", reg.Len(),
		"enabled", len(reg.Enabled()))
	return reg, nil
}

func (l *Loader) build(ctx context.Context, entry config.HandlerConfig) (Descriptor, error) {
	typ := entry.ResolvedType()
	d := Descriptor{
		Name:    entry.Name,
		Type:    typ,
		Enabled: entry.Enabled,
		Config:  entry.Config,
		Timeout: entry.TimeoutDuration(l.defaultTimeout),
	}

	factory, ok := l.factories[typ]
	if !ok {
		return d, fmt.Errorf("unknown handler type %q", typ)
	}
	if !entry.Enabled {
		return d, nil
	}

	kinds := make([]events.Kind, 0, len(entry.Kinds))
	for _, s := range entry.Kinds {
		k, err := events.ParseKind(s)
		if err != nil {
			return d, err
		}
		kinds = append(kinds, k)
	}

	h, err := factory(ctx, entry, l.logger.With("handler", entry.Name))
	if err != nil {
		return d, err
	}
	if h == nil {
		return d, errors.New("factory returned no handler")
	}

	d.Handler = h
	d.Predicate = All(MatchPatterns(entry.Patterns), MatchKinds(kinds), h.CanHandle)
	return d, nil
}

func closeHandler(h Handler) {
	if c, ok := h.(io.Closer); ok {
		_ = c.Close()
	}
}

// decodeConfig decodes a handler's config block into out, accepting the loose
// types YAML and environment values produce.
func decodeConfig(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create config decoder; %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("invalid handler config; %w", err)
	}
	return nil
}
