// internal/breaker/registry.go

package breaker

import (
	"sort"
	"sync"
)

// Registry hands out one breaker per dependency name, created lazily with a
// shared config. Subtasks naming the same dependency share breaker state.
type Registry struct {
	mu       sync.RWMutex
	config   Config
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty registry. Every engine owns its own registry;
// breakers are never process-global.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		config:   cfg.withDefaults(),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = New(name, r.config)
	r.breakers[name] = b
	return b
}

// Status returns snapshots of all known breakers, sorted by name.
func (r *Registry) Status() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]Status, 0, len(r.breakers))
	for _, b := range r.breakers {
		statuses = append(statuses, b.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// Reset resets the named breaker. It reports whether the breaker existed.
func (r *Registry) Reset(name string) bool {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	b.Reset()
	return true
}
