// internal/models/subtask.go
package models

import (
	"time"
)

// PreviousOutputPlaceholder marks an input value that the engine substitutes
// with the outputs of the subtask's predecessors before execution. A subtask
// with a single predecessor receives that predecessor's output directly; with
// several predecessors it receives all of their outputs keyed by identifier.
const PreviousOutputPlaceholder = "{{previous_output}}"

// SubTask is a single executable step produced by decomposing a task. The set
// of subtasks for one task, together with their predecessor lists, always
// forms a DAG. SubTasks are immutable once produced.
type SubTask struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Description string                 `json:"description"`
	Input       map[string]interface{} `json:"input"`
	DependsOn   []string               `json:"dependsOn,omitempty"`
	// Priority breaks ties between otherwise unordered subtasks; lower
	// dispatches first.
	Priority int `json:"priority"`
	// Dependency names the external collaborator this subtask calls out to,
	// if any. The circuit breaker is keyed by it; when empty the breaker is
	// keyed by the subtask type.
	Dependency        string        `json:"dependency,omitempty"`
	EstimatedDuration time.Duration `json:"estimatedDuration,omitempty"`
}

// BreakerName returns the circuit breaker key for this subtask.
func (s *SubTask) BreakerName() string {
	if s.Dependency != "" {
		return s.Dependency
	}
	return s.Type
}

// HasPlaceholder reports whether any top-level input value is the
// predecessor-output placeholder.
func (s *SubTask) HasPlaceholder() bool {
	for _, v := range s.Input {
		if str, ok := v.(string); ok && str == PreviousOutputPlaceholder {
			return true
		}
	}
	return false
}
