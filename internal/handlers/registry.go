package handlers

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// DefaultHealthTimeout bounds how long HandlerHealth waits for handlers to
// report.
const DefaultHealthTimeout = 2 * time.Second

var (
	// ErrSealed is returned by Register once the registry has been sealed.
	ErrSealed = errors.New("handler registry is sealed")

	// ErrDuplicateName is returned when a descriptor name is already taken.
	ErrDuplicateName = errors.New("duplicate handler name")
)

// Registry holds handler descriptors in registration order. It is filled once
// at startup and sealed before events flow.
type Registry struct {
	mu            sync.RWMutex
	descriptors   []Descriptor
	index         map[string]int
	sealed        bool
	healthTimeout time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHealthTimeout sets how long HandlerHealth waits for handlers.
func WithHealthTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		if timeout > 0 {
			r.healthTimeout = timeout
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		index:         make(map[string]int),
		healthTimeout: DefaultHealthTimeout,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register appends a descriptor. Enabled descriptors must carry a handler.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return errors.New("handler name must not be empty")
	}
	if d.Enabled && d.Handler == nil {
		return fmt.Errorf("handler %q is enabled but has no implementation", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrSealed
	}
	if _, exists := r.index[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
	}

	r.index[d.Name] = len(r.descriptors)
	r.descriptors = append(r.descriptors, d)
	return nil
}

// Seal prevents further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Descriptors returns every descriptor in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Enabled returns the enabled descriptors in registration order.
func (r *Registry) Enabled() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.descriptors[i], true
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// HandlerHealth returns each enabled handler's self-reported health. Handlers
// are asked concurrently; one that panics or does not answer within the
// health timeout is reported unhealthy with a warning.
func (r *Registry) HandlerHealth() map[string]Health {
	enabled := r.Enabled()

	type report struct {
		name   string
		health Health
	}
	reports := make(chan report, len(enabled))
	for _, d := range enabled {
		go func() {
			reports <- report{name: d.Name, health: checkHealth(d.Handler)}
		}()
	}

	timer := time.NewTimer(r.healthTimeout)
	defer timer.Stop()

	out := make(map[string]Health, len(enabled))
	for range enabled {
		select {
		case rep := <-reports:
			out[rep.name] = rep.health
		case <-timer.C:
			for _, d := range enabled {
				if _, ok := out[d.Name]; !ok {
					out[d.Name] = Health{
						Warnings: []string{fmt.Sprintf("health check did not answer within %s", r.healthTimeout)},
					}
				}
			}
			return out
		}
	}
	return out
}

func checkHealth(h Handler) (health Health) {
	defer func() {
		if p := recover(); p != nil {
			health = Health{Warnings: []string{fmt.Sprintf("health check panicked: %v", p)}}
		}
	}()
	return h.Health()
}

// Close closes every handler that holds resources, in reverse registration
// order.
func (r *Registry) Close() error {
	r.mu.RLock()
	descriptors := make([]Descriptor, len(r.descriptors))
	copy(descriptors, r.descriptors)
	r.mu.RUnlock()

	var errs []error
	for i := len(descriptors) - 1; i >= 0; i-- {
		c, ok := descriptors[i].Handler.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close handler %s; %w", descriptors[i].Name, err))
		}
	}
	return errors.Join(errs...)
}
