// internal/worker/registry.go

package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler executes one subtask step: it receives the resolved input and
// returns the step's output.
type Handler func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)

// Registry manages the handlers available to the engine, keyed by subtask
// type.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates a new handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for a subtask type.
func (r *Registry) Register(subTaskType string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[subTaskType]; exists {
		return fmt.Errorf("handler for %s already registered", subTaskType)
	}

	r.handlers[subTaskType] = h
	return nil
}

// Get retrieves the handler for a subtask type.
func (r *Registry) Get(subTaskType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.handlers[subTaskType]
	if !exists {
		return nil, fmt.Errorf("handler for %s not found", subTaskType)
	}

	return h, nil
}

// Types returns the registered subtask types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
