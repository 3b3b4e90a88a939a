// internal/graph/graph.go

// Package graph provides the dependency graph used to schedule subtasks.
// Nodes are subtask identifiers and edges point from a predecessor to the
// subtasks that depend on it. A graph is built once, validated, and then only
// read; it is safe for concurrent reads after construction.
package graph

import (
	"sort"
)

type node struct {
	id       string
	priority int
}

// DependencyGraph is a directed acyclic graph of subtask identifiers.
// AddNode and AddEdge are building operations used only during construction;
// ValidateAcyclic must succeed before the graph is used for scheduling.
type DependencyGraph struct {
	nodes        map[string]*node
	predecessors map[string][]string // node id -> ids it depends on
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:        make(map[string]*node),
		predecessors: make(map[string][]string),
	}
}

// AddNode registers a node. Priority breaks ordering ties within a
// generation; lower values dispatch first. Re-adding an id overwrites its
// priority.
func (g *DependencyGraph) AddNode(id string, priority int) {
	g.nodes[id] = &node{id: id, priority: priority}
	if _, ok := g.predecessors[id]; !ok {
		g.predecessors[id] = nil
	}
}

// AddEdge records that successor depends on predecessor. Unknown ids are
// permitted at build time; Generations rejects dangling references.
func (g *DependencyGraph) AddEdge(predecessor, successor string) {
	for _, existing := range g.predecessors[successor] {
		if existing == predecessor {
			return
		}
	}
	g.predecessors[successor] = append(g.predecessors[successor], predecessor)
}

// Size returns the number of nodes in the graph.
func (g *DependencyGraph) Size() int {
	return len(g.nodes)
}

// Predecessors returns the sorted predecessor ids of the given node.
func (g *DependencyGraph) Predecessors(id string) []string {
	preds := make([]string, len(g.predecessors[id]))
	copy(preds, g.predecessors[id])
	sort.Strings(preds)
	return preds
}

// Roots returns the in-degree-zero node ids in deterministic order.
func (g *DependencyGraph) Roots() []string {
	var roots []string
	for id := range g.nodes {
		if len(g.predecessors[id]) == 0 {
			roots = append(roots, id)
		}
	}
	g.sortNodes(roots)
	return roots
}

// ValidateAcyclic fails with a *CycleError naming the cycle members if the
// graph contains a cycle. Uses depth-first search with coloring to detect
// back edges; traversal order is sorted so the reported cycle is stable.
func (g *DependencyGraph) ValidateAcyclic() error {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)

	colors := make(map[string]int, len(g.nodes))
	var path []string

	var visit func(id string) *CycleError
	visit = func(id string) *CycleError {
		colors[id] = gray
		path = append(path, id)

		preds := g.Predecessors(id)
		for _, dep := range preds {
			if _, ok := g.nodes[dep]; !ok {
				continue // dangling references are Generations' concern
			}
			switch colors[dep] {
			case gray:
				// Back edge: slice the current path from the first
				// occurrence of dep to name the full cycle.
				for i, member := range path {
					if member == dep {
						members := make([]string, len(path)-i)
						copy(members, path[i:])
						return &CycleError{Members: members}
					}
				}
				return &CycleError{Members: []string{dep, id}}
			case white:
				if cerr := visit(dep); cerr != nil {
					return cerr
				}
			}
		}

		colors[id] = black
		path = path[:len(path)-1]
		return nil
	}

	ids := g.sortedIDs()
	for _, id := range ids {
		if colors[id] == white {
			path = path[:0]
			if cerr := visit(id); cerr != nil {
				return cerr
			}
		}
	}
	return nil
}

// Generations computes the execution plan: an ordered list of node sets where
// generation i contains exactly the nodes whose predecessors all belong to
// generations 0..i-1. Nodes within a generation are ordered by priority, then
// id, so the plan is reproducible for identical inputs. Fails with an
// *UnresolvableDependencyError when a non-empty remainder can make no
// progress (a dangling predecessor reference or an undetected cycle).
func (g *DependencyGraph) Generations() ([][]string, error) {
	assigned := make(map[string]bool, len(g.nodes))
	remaining := make(map[string]bool, len(g.nodes))
	for id := range g.nodes {
		remaining[id] = true
	}

	var generations [][]string
	for len(remaining) > 0 {
		var ready []string
		for id := range remaining {
			eligible := true
			for _, pred := range g.predecessors[id] {
				if !assigned[pred] {
					eligible = false
					break
				}
			}
			if eligible {
				ready = append(ready, id)
			}
		}

		if len(ready) == 0 {
			return nil, g.unresolvable(remaining)
		}

		g.sortNodes(ready)
		for _, id := range ready {
			assigned[id] = true
			delete(remaining, id)
		}
		generations = append(generations, ready)
	}

	return generations, nil
}

func (g *DependencyGraph) unresolvable(remaining map[string]bool) *UnresolvableDependencyError {
	stuck := make([]string, 0, len(remaining))
	missingSet := make(map[string]bool)
	for id := range remaining {
		stuck = append(stuck, id)
		for _, pred := range g.predecessors[id] {
			if _, ok := g.nodes[pred]; !ok {
				missingSet[pred] = true
			}
		}
	}
	sort.Strings(stuck)

	missing := make([]string, 0, len(missingSet))
	for id := range missingSet {
		missing = append(missing, id)
	}
	sort.Strings(missing)

	return &UnresolvableDependencyError{Remaining: stuck, Missing: missing}
}

// sortNodes orders ids by declared priority, then lexically by id.
func (g *DependencyGraph) sortNodes(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := g.nodes[ids[i]], g.nodes[ids[j]]
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.id < b.id
	})
}

func (g *DependencyGraph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
