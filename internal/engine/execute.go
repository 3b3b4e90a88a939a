// internal/engine/execute.go

package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fawad-mazhar/paros/internal/breaker"
	"github.com/fawad-mazhar/paros/internal/cache"
	"github.com/fawad-mazhar/paros/internal/decompose"
	"github.com/fawad-mazhar/paros/internal/metrics"
	"github.com/fawad-mazhar/paros/internal/models"
)

// errCancelled aborts retry waits when the owning task is cancelled.
var errCancelled = errors.New("task cancelled")

// SubTaskError reports a subtask that could not produce an output. Timeout
// distinguishes handlers that exceeded their call budget from handlers that
// returned an error.
type SubTaskError struct {
	SubTaskID string
	Timeout   bool
	Err       error
}

func (e *SubTaskError) Error() string {
	return fmt.Sprintf("subtask %s: %v", e.SubTaskID, e.Err)
}

func (e *SubTaskError) Unwrap() error {
	return e.Err
}

func newSubTaskError(id string, err error) *SubTaskError {
	return &SubTaskError{
		SubTaskID: id,
		Timeout:   errors.Is(err, context.DeadlineExceeded),
		Err:       err,
	}
}

// ExecuteTask drives one claimed task to a settled state: decompose into a
// dependency graph, execute generation by generation on the shared subtask
// pool, aggregate, and record the outcome. It returns an error only when
// execution could not complete reliably (persistence failure, engine
// shutdown); task-level failures are recorded on the task itself.
func (e *Engine) ExecuteTask(ctx context.Context, task *models.Task) error {
	cancelCh := e.registerCancel(task.ID)
	defer e.unregisterCancel(task.ID)

	taskCtx, cancel := context.WithTimeout(ctx, time.Duration(e.config.Engine.TaskTimeout)*time.Second)
	defer cancel()

	start := time.Now()
	if err := e.transition(ctx, task, models.TaskStatusProcessing); err != nil {
		return err
	}

	plan, err := e.decomposer.Decompose(task.Type, task.Input, task.Params)
	if err != nil {
		// Structural defects reproduce identically on every retry.
		if ferr := e.failTask(ctx, task, err); ferr != nil {
			return ferr
		}
		e.observeTask(task, start)
		return nil
	}
	log.Printf("Task %s decomposed into %d subtasks (%s, %d generations)", task.ID, len(plan.SubTasks), plan.Complexity, len(plan.Generations))

	results := newResultSet()
	var failure error
	if plan.Single() {
		st := plan.SubTasks[0]
		out, err := e.runSubTask(taskCtx, task, st, st.Input, cancelCh)
		if err != nil {
			failure = newSubTaskError(st.ID, err)
		} else {
			results.set(st.ID, out)
		}
	} else {
		failure = e.runGenerations(taskCtx, task, plan, results, cancelCh)
	}

	if cancelled(cancelCh) {
		if err := e.transition(ctx, task, models.TaskStatusCancelled); err != nil {
			return err
		}
		log.Printf("Task %s cancelled", task.ID)
		e.observeTask(task, start)
		return nil
	}

	if failure != nil {
		if ctx.Err() != nil {
			// Shutting down; leave the task unsettled for redelivery.
			return failure
		}
		task.PartialResults = results.snapshot()
		if err := e.failTask(ctx, task, failure); err != nil {
			return err
		}
		e.observeTask(task, start)
		return nil
	}

	task.Result = e.aggregate(plan, results)
	task.PartialResults = nil
	if err := e.transition(ctx, task, models.TaskStatusCompleted); err != nil {
		return err
	}
	log.Printf("Task %s completed: %d subtasks", task.ID, task.Result.SubTaskCount)
	e.observeTask(task, start)
	return nil
}

// runGenerations executes the plan level by level. Cancellation is honored
// at the barriers: checked before a generation dispatches and again after it
// drains, with a cancelled generation's outputs discarded. A subtask failure
// stops the schedule after its generation completes.
func (e *Engine) runGenerations(ctx context.Context, task *models.Task, plan *decompose.Plan, results *resultSet, cancelCh chan struct{}) error {
	for i, generation := range plan.Generations {
		if cancelled(cancelCh) {
			return nil
		}

		outputs, err := e.runGeneration(ctx, task, plan, generation, results, cancelCh)
		if cancelled(cancelCh) {
			return nil
		}
		if err != nil {
			return err
		}

		for id, out := range outputs {
			results.set(id, out)
		}
		task.PartialResults = results.snapshot()
		if err := e.store.SaveTask(ctx, task); err != nil {
			log.Printf("Warning: failed to persist generation %d results for task %s: %v", i, task.ID, err)
		}
	}
	return nil
}

// runGeneration dispatches one generation to the shared subtask pool in
// deterministic order and waits for every member. The barrier holds even on
// failure so sibling subtasks always run to completion.
func (e *Engine) runGeneration(ctx context.Context, task *models.Task, plan *decompose.Plan, generation []string, prior *resultSet, cancelCh chan struct{}) (map[string]map[string]interface{}, error) {
	outputs := make(map[string]map[string]interface{}, len(generation))
	var outputsMu sync.Mutex
	var wg sync.WaitGroup
	errChan := make(chan error, len(generation))

	for _, id := range generation {
		st, ok := plan.SubTask(id)
		if !ok {
			wg.Wait()
			return outputs, fmt.Errorf("plan has no subtask %s", id)
		}
		input := resolveInput(st, prior)

		select {
		case e.subtaskSlots <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return outputs, ctx.Err()
		}

		wg.Add(1)
		go func(st *models.SubTask, input map[string]interface{}) {
			defer func() {
				<-e.subtaskSlots
				wg.Done()
			}()

			out, err := e.runSubTask(ctx, task, st, input, cancelCh)
			if err != nil {
				errChan <- newSubTaskError(st.ID, err)
				return
			}
			outputsMu.Lock()
			outputs[st.ID] = out
			outputsMu.Unlock()
		}(st, input)
	}

	wg.Wait()

	select {
	case err := <-errChan:
		return outputs, err
	default:
		return outputs, nil
	}
}

// runSubTask executes one subtask: result cache lookup, breaker-guarded
// handler call, retry with exponential backoff, cache write-back.
func (e *Engine) runSubTask(ctx context.Context, task *models.Task, st *models.SubTask, input map[string]interface{}, cancelCh chan struct{}) (map[string]interface{}, error) {
	key, keyErr := cache.Fingerprint(st.Type, input)
	if keyErr != nil {
		log.Printf("Warning: input for subtask %s not fingerprintable: %v", st.ID, keyErr)
	} else if out, ok := e.results.Get(key); ok {
		log.Printf("Cache hit for subtask %s", st.ID)
		metrics.CacheHits.Inc()
		metrics.SubTasksExecuted.WithLabelValues(st.Type, "cached").Inc()
		return out, nil
	} else {
		metrics.CacheMisses.Inc()
	}

	handler, err := e.handlers.Get(st.Type)
	if err != nil {
		// Missing handlers reproduce on every attempt; fail fast.
		return nil, err
	}
	brk := e.breakers.Get(st.BreakerName())

	var lastErr error
	for attempt := 0; attempt <= task.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := e.backoff(attempt)
			metrics.SubTaskRetries.Inc()
			log.Printf("Retrying subtask %s attempt %d/%d in %s", st.ID, attempt+1, task.MaxRetries+1, wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-cancelCh:
				return nil, errCancelled
			case <-time.After(wait):
			}
		}

		start := time.Now()
		out, err := brk.Do(ctx, func(callCtx context.Context) (map[string]interface{}, error) {
			return handler(callCtx, input)
		})
		if err == nil {
			metrics.SubTaskDuration.WithLabelValues(st.Type).Observe(time.Since(start).Seconds())
			metrics.SubTasksExecuted.WithLabelValues(st.Type, "success").Inc()
			if keyErr == nil {
				e.results.Put(key, out, time.Duration(e.config.Engine.ResultCacheTTL)*time.Second)
			}
			return out, nil
		}

		lastErr = err
		metrics.SubTasksExecuted.WithLabelValues(st.Type, "failure").Inc()
		var openErr *breaker.OpenError
		if errors.As(err, &openErr) {
			metrics.BreakerRejections.WithLabelValues(openErr.Name).Inc()
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		log.Printf("Subtask %s attempt %d/%d failed: %v", st.ID, attempt+1, task.MaxRetries+1, err)
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", task.MaxRetries+1, lastErr)
}

// failTask records a terminal failure. The completion timestamp marks the
// FAILED status as final so the task is not redelivered.
func (e *Engine) failTask(ctx context.Context, task *models.Task, cause error) error {
	now := time.Now()
	task.FailureReason = cause.Error()
	task.CompletedAt = &now
	if err := e.transition(ctx, task, models.TaskStatusFailed); err != nil {
		log.Printf("Error recording failure for task %s: %v", task.ID, err)
		return err
	}
	log.Printf("Task %s failed: %v", task.ID, cause)
	return nil
}

// aggregate builds the task result: subtask count, every output keyed by
// subtask id, and the final output taken from the last subtask of the last
// generation in deterministic order.
func (e *Engine) aggregate(plan *decompose.Plan, results *resultSet) *models.TaskResult {
	all := results.snapshot()
	res := &models.TaskResult{
		SubTaskCount: len(plan.SubTasks),
		Results:      all,
	}
	if len(plan.Generations) > 0 {
		finalGen := plan.Generations[len(plan.Generations)-1]
		if len(finalGen) > 0 {
			res.FinalOutput = all[finalGen[len(finalGen)-1]]
		}
	}
	return res
}

func (e *Engine) observeTask(task *models.Task, start time.Time) {
	metrics.TaskDuration.WithLabelValues(task.Type, string(task.Status)).Observe(time.Since(start).Seconds())
}

func (e *Engine) registerCancel(taskID string) chan struct{} {
	ch := make(chan struct{})
	e.cancelMu.Lock()
	e.cancels[taskID] = ch
	e.cancelMu.Unlock()
	metrics.ActiveTasks.Inc()
	return ch
}

func (e *Engine) unregisterCancel(taskID string) {
	e.cancelMu.Lock()
	delete(e.cancels, taskID)
	e.cancelMu.Unlock()
	metrics.ActiveTasks.Dec()
}

func cancelled(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// resolveInput substitutes the predecessor-output placeholder in a
// subtask's input. A single predecessor substitutes its output directly;
// several substitute a map of outputs keyed by predecessor id, which keeps
// multi-parent joins deterministic instead of depending on completion order.
func resolveInput(st *models.SubTask, prior *resultSet) map[string]interface{} {
	if !st.HasPlaceholder() {
		return st.Input
	}

	resolved := make(map[string]interface{}, len(st.Input))
	for k, v := range st.Input {
		if s, ok := v.(string); ok && s == models.PreviousOutputPlaceholder {
			resolved[k] = predecessorOutputs(st, prior)
			continue
		}
		resolved[k] = v
	}
	return resolved
}

func predecessorOutputs(st *models.SubTask, prior *resultSet) interface{} {
	switch len(st.DependsOn) {
	case 0:
		return map[string]interface{}{}
	case 1:
		out, _ := prior.get(st.DependsOn[0])
		return out
	default:
		combined := make(map[string]interface{}, len(st.DependsOn))
		for _, dep := range st.DependsOn {
			if out, ok := prior.get(dep); ok {
				combined[dep] = out
			}
		}
		return combined
	}
}

// resultSet accumulates completed subtask outputs across generations.
type resultSet struct {
	mu      sync.RWMutex
	outputs map[string]map[string]interface{}
}

func newResultSet() *resultSet {
	return &resultSet{outputs: make(map[string]map[string]interface{})}
}

func (r *resultSet) set(id string, out map[string]interface{}) {
	r.mu.Lock()
	r.outputs[id] = out
	r.mu.Unlock()
}

func (r *resultSet) get(id string) (map[string]interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.outputs[id]
	return out, ok
}

func (r *resultSet) snapshot() map[string]map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	copied := make(map[string]map[string]interface{}, len(r.outputs))
	for id, out := range r.outputs {
		copied[id] = out
	}
	return copied
}
