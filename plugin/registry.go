// ABOUTME: Class-name registry mapping blueprint ComponentConfigs to plugin factories.

package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/2389-research/chimera/protocol"
)

// Factory builds one plugin instance from its blueprint config.
type Factory func(cfg protocol.ComponentConfig) (Plugin, error)

// Registry maps widget class names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for the class name, replacing any existing one.
func (r *Registry) Register(className string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[className] = f
}

// Build instantiates a plugin for the config.
func (r *Registry) Build(cfg protocol.ComponentConfig) (Plugin, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.ClassName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown widget class: %q", cfg.ClassName)
	}
	return f(cfg)
}

// Classes returns the registered class names, sorted.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
