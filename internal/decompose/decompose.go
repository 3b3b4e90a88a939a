// internal/decompose/decompose.go

// Package decompose turns a submitted task into an executable plan: a set of
// subtasks, their dependency graph, and the generation sequence the engine
// schedules from. Decomposition is pure; the same task always yields the
// same plan.
package decompose

import (
	"encoding/json"
	"strings"

	"github.com/fawad-mazhar/paros/internal/graph"
	"github.com/fawad-mazhar/paros/internal/models"
)

// Complexity buckets a task by the size of its input payload. Compound task
// types are promoted one bucket because their nominal payload understates
// the work they fan out into.
type Complexity string

const (
	ComplexitySimple      Complexity = "SIMPLE"
	ComplexityModerate    Complexity = "MODERATE"
	ComplexityComplex     Complexity = "COMPLEX"
	ComplexityVeryComplex Complexity = "VERY_COMPLEX"
)

// Payload size thresholds in bytes of the JSON-encoded input.
const (
	moderateThreshold    = 256
	complexThreshold     = 4 << 10
	veryComplexThreshold = 64 << 10
)

// compoundMarkers name task types that are inherently multi-step regardless
// of payload size.
var compoundMarkers = []string{"multi_step", "multi-step", "pipeline", "orchestration", "workflow"}

// Plan is the complete decomposition product. Generations are computed
// eagerly so the engine never re-derives scheduling order.
type Plan struct {
	TaskType    string
	Complexity  Complexity
	SubTasks    []*models.SubTask
	Graph       *graph.DependencyGraph
	Generations [][]string

	byID map[string]*models.SubTask
}

// SubTask returns the subtask with the given identifier.
func (p *Plan) SubTask(id string) (*models.SubTask, bool) {
	st, ok := p.byID[id]
	return st, ok
}

// Single reports whether the plan holds exactly one subtask, in which case
// the engine executes it directly without generation looping.
func (p *Plan) Single() bool {
	return len(p.SubTasks) == 1
}

// Decomposer selects a strategy for a task type and produces its plan.
type Decomposer struct {
	strategies []strategy
}

// New creates a decomposer with the built-in strategy table.
func New() *Decomposer {
	return &Decomposer{strategies: builtinStrategies()}
}

// Decompose classifies the task, applies the matching strategy, and returns
// the validated plan. Structural errors (a cycle or a dangling predecessor
// in the produced subtasks) are returned as-is and are not retryable:
// decomposition is deterministic, so retrying reproduces the same defect.
func (d *Decomposer) Decompose(taskType string, input, params map[string]interface{}) (*Plan, error) {
	complexity := classify(taskType, input)

	var subtasks []*models.SubTask
	if complexity == ComplexitySimple {
		subtasks = []*models.SubTask{singleSubTask(taskType, input)}
	} else {
		subtasks = d.strategyFor(taskType).build(taskType, input, params, complexity)
	}

	g := graph.New()
	for _, st := range subtasks {
		g.AddNode(st.ID, st.Priority)
	}
	for _, st := range subtasks {
		for _, dep := range st.DependsOn {
			g.AddEdge(dep, st.ID)
		}
	}
	if err := g.ValidateAcyclic(); err != nil {
		return nil, err
	}
	generations, err := g.Generations()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.SubTask, len(subtasks))
	for _, st := range subtasks {
		byID[st.ID] = st
	}
	return &Plan{
		TaskType:    taskType,
		Complexity:  complexity,
		SubTasks:    subtasks,
		Graph:       g,
		Generations: generations,
		byID:        byID,
	}, nil
}

func (d *Decomposer) strategyFor(taskType string) strategy {
	lowered := strings.ToLower(taskType)
	for _, s := range d.strategies {
		for _, tag := range s.tags {
			if strings.Contains(lowered, tag) {
				return s
			}
		}
	}
	return genericStrategy()
}

// classify buckets the task by payload size, then promotes compound types
// one bucket, capped at VERY_COMPLEX.
func classify(taskType string, input map[string]interface{}) Complexity {
	size := payloadSize(input)

	var c Complexity
	switch {
	case size < moderateThreshold:
		c = ComplexitySimple
	case size < complexThreshold:
		c = ComplexityModerate
	case size < veryComplexThreshold:
		c = ComplexityComplex
	default:
		c = ComplexityVeryComplex
	}

	if isCompound(taskType) {
		c = promote(c)
	}
	return c
}

func payloadSize(input map[string]interface{}) int {
	if len(input) == 0 {
		return 0
	}
	data, err := json.Marshal(input)
	if err != nil {
		return 0
	}
	return len(data)
}

func isCompound(taskType string) bool {
	lowered := strings.ToLower(taskType)
	for _, marker := range compoundMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func promote(c Complexity) Complexity {
	switch c {
	case ComplexitySimple:
		return ComplexityModerate
	case ComplexityModerate:
		return ComplexityComplex
	default:
		return ComplexityVeryComplex
	}
}
