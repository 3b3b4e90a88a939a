// internal/worker/handlers.go

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// RegisterBuiltins installs a handler for every step type the built-in
// decomposition strategies emit. The handlers are deterministic transforms
// over their input so that repeated runs produce identical results.
func RegisterBuiltins(r *Registry) error {
	builtins := map[string]Handler{
		"validation":     Validation,
		"processing":     Processing,
		"aggregation":    Aggregation,
		"collection":     Collection,
		"analysis":       Analysis,
		"synthesis":      Synthesis,
		"planning":       Planning,
		"generation":     Generation,
		"refinement":     Refinement,
		"finalization":   Finalization,
		"parsing":        Parsing,
		"transformation": Transformation,
		"serialization":  Serialization,
		"preparation":    Preparation,
		"execution":      Execution,
	}

	for t, h := range builtins {
		if err := r.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}

// Validation rejects empty input and annotates the payload it accepts.
func Validation(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if len(input) == 0 {
		return nil, errors.New("validation failed: empty input")
	}
	return map[string]interface{}{
		"valid":      true,
		"fieldCount": len(input),
		"validated":  input,
	}, nil
}

// Processing marks the upstream payload as processed.
func Processing(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"processed": true,
		"output":    input["data"],
	}, nil
}

// Aggregation folds the upstream payload into a summary envelope.
func Aggregation(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"aggregated": true,
		"summary":    input["data"],
	}, nil
}

// Collection gathers the raw input for downstream analysis.
func Collection(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"collected": input,
		"items":     len(input),
	}, nil
}

// Analysis reports findings for one chunk of collected data.
func Analysis(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"analyzed": true,
		"chunk":    input["chunk"],
		"findings": input["data"],
	}, nil
}

// Synthesis joins per-chunk findings into one result.
func Synthesis(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"synthesized": true,
		"sources":     input["data"],
	}, nil
}

// Planning produces the outline for a generation task.
func Planning(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"outline": input,
	}, nil
}

// Generation drafts content from an outline.
func Generation(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"draft": input["data"],
	}, nil
}

// Refinement revises a draft.
func Refinement(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"refined": input["data"],
	}, nil
}

// Finalization seals the upstream payload as the finished product.
func Finalization(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"final":  true,
		"output": input["data"],
	}, nil
}

// Parsing lifts the source representation into structured form.
func Parsing(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"parsed": input,
	}, nil
}

// Transformation applies the transform to parsed data.
func Transformation(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"transformed": true,
		"output":      input["data"],
	}, nil
}

// Serialization renders the transformed payload as canonical JSON text.
func Serialization(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(input["data"])
	if err != nil {
		return nil, fmt.Errorf("serializing output: %w", err)
	}
	return map[string]interface{}{
		"serialized": string(data),
	}, nil
}

// Preparation stages the raw input for execution.
func Preparation(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"prepared": input,
	}, nil
}

// Execution runs the prepared work.
func Execution(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"executed": true,
		"result":   input["data"],
	}, nil
}

// Echo is a sample whole-task handler that returns its input unchanged.
// Useful for smoke tests against a running engine.
func Echo(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return input, nil
}

// SimpleTask is a sample whole-task handler for undecomposed tasks.
func SimpleTask(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"completed": true,
		"echo":      input,
	}, nil
}
