package dispatch

import (
	"context"
	"fmt"
	"sync"
)

// HandlerRegistry holds named handler functions. Route entries reference
// handlers by name; the registry-backed auto-loader resolves them.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register adds a named handler. Registering a blank name, a nil function,
// or a duplicate name is an error.
func (r *HandlerRegistry) Register(name string, fn func(ctx context.Context, in *PipelineInput) (*HandlerOutput, error)) error {
	if name == "" {
		return fmt.Errorf("handler name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("cannot register nil handler %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler %q already registered", name)
	}
	r.handlers[name] = Handler{Name: name, Fn: fn}
	return nil
}

// Get retrieves a handler by name.
func (r *HandlerRegistry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, exists := r.handlers[name]
	if !exists {
		return Handler{}, fmt.Errorf("handler %q not found", name)
	}
	return h, nil
}

// Count returns the number of registered handlers.
func (r *HandlerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// RegistryAutoLoader is an AutoLoader that resolves a route's handler chain
// from a HandlerRegistry by the names in the entry's Handlers list.
type RegistryAutoLoader struct {
	registry *HandlerRegistry
}

// NewRegistryAutoLoader wraps a handler registry as an AutoLoader.
func NewRegistryAutoLoader(registry *HandlerRegistry) *RegistryAutoLoader {
	return &RegistryAutoLoader{registry: registry}
}

// LoadCoreUtilities is a no-op for the registry loader.
func (l *RegistryAutoLoader) LoadCoreUtilities(ctx context.Context) error {
	return nil
}

// EnsureRouteDependencies resolves every named handler of the entry, in
// declared order. A missing name fails the whole resolution.
func (l *RegistryAutoLoader) EnsureRouteDependencies(ctx context.Context, entry *RouteEntry) ([]Handler, error) {
	if len(entry.Handlers) == 0 {
		return nil, fmt.Errorf("route entry declares no handlers")
	}
	chain := make([]Handler, 0, len(entry.Handlers))
	for _, name := range entry.Handlers {
		h, err := l.registry.Get(name)
		if err != nil {
			return nil, fmt.Errorf("resolving handler chain: %w", err)
		}
		chain = append(chain, h)
	}
	return chain, nil
}
