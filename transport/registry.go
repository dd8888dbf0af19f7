package transport

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	errspkg "github.com/drblury/evalflow/internal/runtime/errors"
)

type entry struct {
	builder      Builder
	capabilities Capabilities
}

// Registry maps the configured pubsub system name to a Builder.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// DefaultRegistry is filled by the init functions of the backend packages.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds or replaces the builder for name. Names are matched
// case-insensitively.
func (r *Registry) Register(name string, builder Builder, caps Capabilities) {
	if caps.Name == "" {
		caps.Name = name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[strings.ToLower(name)] = entry{builder: builder, capabilities: caps}
}

// Capabilities returns the capabilities registered for name, or a set
// carrying only the name when it is unknown.
func (r *Registry) Capabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[strings.ToLower(name)]; ok {
		return e.capabilities
	}
	return Capabilities{Name: name}
}

// Build creates the transport named by cfg.GetPubSubSystem.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, errspkg.ErrConfigRequired
	}
	name := cfg.GetPubSubSystem()

	r.mu.RLock()
	e, ok := r.entries[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return Transport{}, fmt.Errorf("%w: %q (registered: %s)", errspkg.ErrUnknownTransport, name, strings.Join(r.Names(), ", "))
	}

	t, err := e.builder(ctx, cfg, logger)
	if err != nil {
		return Transport{}, fmt.Errorf("build %s transport: %w", name, err)
	}
	return t, nil
}

// Names lists the registered transports in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[strings.ToLower(name)]
	return ok
}

// Register adds a builder to the default registry.
func Register(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.Register(name, builder, caps)
}

// Build creates a transport using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
