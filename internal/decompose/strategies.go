// internal/decompose/strategies.go

package decompose

import (
	"fmt"
	"strings"
	"time"

	"github.com/fawad-mazhar/paros/internal/models"
)

// strategy couples the type tags that select it with the function producing
// its subtasks. The table is ordered; the first tag match wins.
type strategy struct {
	name  string
	tags  []string
	build strategyFunc
}

type strategyFunc func(taskType string, input, params map[string]interface{}, c Complexity) []*models.SubTask

func builtinStrategies() []strategy {
	return []strategy{
		{name: "data_processing", tags: []string{"data_processing", "data-processing"}, build: dataProcessingSteps},
		{name: "analysis", tags: []string{"analysis", "analyze", "analytics"}, build: analysisSteps},
		{name: "generation", tags: []string{"generation", "generate"}, build: generationSteps},
		{name: "transformation", tags: []string{"transformation", "transform"}, build: transformationSteps},
	}
}

func genericStrategy() strategy {
	return strategy{name: "generic", build: genericSteps}
}

// stepID derives the deterministic subtask identifier from the owning task
// type and the step name.
func stepID(taskType, step string) string {
	return fmt.Sprintf("%s-%s", taskType, step)
}

// previousOutputInput is the conventional input of a non-root step: the
// placeholder is resolved to predecessor output at dispatch time.
func previousOutputInput() map[string]interface{} {
	return map[string]interface{}{"data": models.PreviousOutputPlaceholder}
}

// singleSubTask wraps the whole task in one subtask; used when the task is
// simple enough that decomposition buys nothing.
func singleSubTask(taskType string, input map[string]interface{}) *models.SubTask {
	return &models.SubTask{
		ID:                stepID(taskType, "task"),
		Type:              taskType,
		Description:       fmt.Sprintf("execute %s without decomposition", taskType),
		Input:             input,
		Priority:          10,
		EstimatedDuration: 5 * time.Second,
	}
}

// dataProcessingSteps produces the fixed validate, process, aggregate chain.
func dataProcessingSteps(taskType string, input, params map[string]interface{}, c Complexity) []*models.SubTask {
	validate := stepID(taskType, "validate")
	process := stepID(taskType, "process")
	aggregate := stepID(taskType, "aggregate")

	return []*models.SubTask{
		{
			ID:                validate,
			Type:              "validation",
			Description:       "validate input payload",
			Input:             input,
			Priority:          10,
			EstimatedDuration: 2 * time.Second,
		},
		{
			ID:                process,
			Type:              "processing",
			Description:       "process validated data",
			Input:             previousOutputInput(),
			DependsOn:         []string{validate},
			Priority:          20,
			EstimatedDuration: 10 * time.Second,
		},
		{
			ID:                aggregate,
			Type:              "aggregation",
			Description:       "aggregate processed data",
			Input:             previousOutputInput(),
			DependsOn:         []string{process},
			Priority:          30,
			EstimatedDuration: 5 * time.Second,
		},
	}
}

// analysisSteps produces a collect step, a complexity-driven fan-out of
// analyze steps, and a synthesize step joining them.
func analysisSteps(taskType string, input, params map[string]interface{}, c Complexity) []*models.SubTask {
	chunks := chunkCount(params, c)

	collect := stepID(taskType, "collect")
	subtasks := []*models.SubTask{
		{
			ID:                collect,
			Type:              "collection",
			Description:       "collect source data",
			Input:             input,
			Priority:          10,
			EstimatedDuration: 5 * time.Second,
		},
	}

	chunkIDs := make([]string, 0, chunks)
	for i := 1; i <= chunks; i++ {
		id := stepID(taskType, fmt.Sprintf("analyze-%d", i))
		chunkIDs = append(chunkIDs, id)
		subtasks = append(subtasks, &models.SubTask{
			ID:          id,
			Type:        "analysis",
			Description: fmt.Sprintf("analyze chunk %d of %d", i, chunks),
			Input: map[string]interface{}{
				"data":       models.PreviousOutputPlaceholder,
				"chunk":      i,
				"chunkCount": chunks,
			},
			DependsOn:         []string{collect},
			Priority:          20,
			EstimatedDuration: 10 * time.Second,
		})
	}

	subtasks = append(subtasks, &models.SubTask{
		ID:                stepID(taskType, "synthesize"),
		Type:              "synthesis",
		Description:       "synthesize chunk analyses",
		Input:             previousOutputInput(),
		DependsOn:         chunkIDs,
		Priority:          30,
		EstimatedDuration: 5 * time.Second,
	})
	return subtasks
}

// chunkCount derives the analysis fan-out width: an explicit "chunks"
// parameter wins, otherwise the complexity bucket decides. Width is capped
// so chunk identifiers stay single-digit and sort lexically.
func chunkCount(params map[string]interface{}, c Complexity) int {
	if raw, ok := params["chunks"]; ok {
		if n, ok := asInt(raw); ok && n >= 1 {
			if n > 8 {
				return 8
			}
			return n
		}
	}

	switch c {
	case ComplexityComplex:
		return 3
	case ComplexityVeryComplex:
		return 4
	default:
		return 2
	}
}

// generationSteps produces the outline, draft, refine, finalize chain.
func generationSteps(taskType string, input, params map[string]interface{}, c Complexity) []*models.SubTask {
	outline := stepID(taskType, "outline")
	draft := stepID(taskType, "draft")
	refine := stepID(taskType, "refine")
	finalize := stepID(taskType, "finalize")

	return []*models.SubTask{
		{
			ID:                outline,
			Type:              "planning",
			Description:       "outline the content to generate",
			Input:             input,
			Priority:          10,
			EstimatedDuration: 3 * time.Second,
		},
		{
			ID:                draft,
			Type:              "generation",
			Description:       "draft content from the outline",
			Input:             previousOutputInput(),
			DependsOn:         []string{outline},
			Priority:          20,
			EstimatedDuration: 15 * time.Second,
		},
		{
			ID:                refine,
			Type:              "refinement",
			Description:       "refine the draft",
			Input:             previousOutputInput(),
			DependsOn:         []string{draft},
			Priority:          30,
			EstimatedDuration: 10 * time.Second,
		},
		{
			ID:                finalize,
			Type:              "finalization",
			Description:       "finalize generated content",
			Input:             previousOutputInput(),
			DependsOn:         []string{refine},
			Priority:          40,
			EstimatedDuration: 3 * time.Second,
		},
	}
}

// transformationSteps produces the parse, apply, serialize chain.
func transformationSteps(taskType string, input, params map[string]interface{}, c Complexity) []*models.SubTask {
	parse := stepID(taskType, "parse")
	apply := stepID(taskType, "apply")
	serialize := stepID(taskType, "serialize")

	return []*models.SubTask{
		{
			ID:                parse,
			Type:              "parsing",
			Description:       "parse source representation",
			Input:             input,
			Priority:          10,
			EstimatedDuration: 3 * time.Second,
		},
		{
			ID:                apply,
			Type:              "transformation",
			Description:       "apply the transformation",
			Input:             previousOutputInput(),
			DependsOn:         []string{parse},
			Priority:          20,
			EstimatedDuration: 10 * time.Second,
		},
		{
			ID:                serialize,
			Type:              "serialization",
			Description:       "serialize transformed output",
			Input:             previousOutputInput(),
			DependsOn:         []string{apply},
			Priority:          30,
			EstimatedDuration: 3 * time.Second,
		},
	}
}

// genericSteps chains a caller-supplied step list linearly. Steps may be
// plain names or objects carrying a step type and an external dependency
// name for breaker keying.
func genericSteps(taskType string, input, params map[string]interface{}, c Complexity) []*models.SubTask {
	specs := stepSpecs(params)

	subtasks := make([]*models.SubTask, 0, len(specs))
	var previous string
	for i, spec := range specs {
		id := stepID(taskType, spec.name)
		st := &models.SubTask{
			ID:                id,
			Type:              spec.stepType,
			Description:       fmt.Sprintf("step %d: %s", i+1, spec.name),
			Priority:          (i + 1) * 10,
			Dependency:        spec.dependency,
			EstimatedDuration: 5 * time.Second,
		}
		if i == 0 {
			st.Input = input
		} else {
			st.Input = previousOutputInput()
			st.DependsOn = []string{previous}
		}
		subtasks = append(subtasks, st)
		previous = id
	}
	return subtasks
}

type stepSpec struct {
	name       string
	stepType   string
	dependency string
}

var defaultStepSpecs = []stepSpec{
	{name: "prepare", stepType: "preparation"},
	{name: "execute", stepType: "execution"},
	{name: "finalize", stepType: "finalization"},
}

// stepSpecs reads the ordered "steps" parameter. Entries that cannot be
// interpreted are skipped; an empty or missing list falls back to the
// default prepare, execute, finalize chain.
func stepSpecs(params map[string]interface{}) []stepSpec {
	raw, ok := params["steps"].([]interface{})
	if !ok {
		return defaultStepSpecs
	}

	specs := make([]stepSpec, 0, len(raw))
	for _, entry := range raw {
		switch v := entry.(type) {
		case string:
			if name := strings.TrimSpace(v); name != "" {
				specs = append(specs, stepSpec{name: name, stepType: name})
			}
		case map[string]interface{}:
			name, _ := v["name"].(string)
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			spec := stepSpec{name: name, stepType: name}
			if t, ok := v["type"].(string); ok && t != "" {
				spec.stepType = t
			}
			if dep, ok := v["dependency"].(string); ok {
				spec.dependency = dep
			}
			specs = append(specs, spec)
		}
	}
	if len(specs) == 0 {
		return defaultStepSpecs
	}
	return specs
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
