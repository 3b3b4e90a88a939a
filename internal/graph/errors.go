// internal/graph/errors.go
package graph

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle. Members holds one full cycle path in
// order, so "a -> b -> c" means a depends on b, b on c, and c on a.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Members, " -> "))
}

// UnresolvableDependencyError reports nodes that can never be scheduled,
// either because a predecessor reference is dangling or because an undetected
// cycle blocks progress.
type UnresolvableDependencyError struct {
	Remaining []string // nodes that could not be assigned a generation
	Missing   []string // referenced predecessors that are not in the graph
}

func (e *UnresolvableDependencyError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("unresolvable dependencies: nodes %s reference missing predecessors %s",
			strings.Join(e.Remaining, ", "), strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("unresolvable dependencies: no progress possible for nodes %s",
		strings.Join(e.Remaining, ", "))
}
