// internal/engine/engine.go

// Package engine executes decomposed tasks generation by generation. It
// consumes submissions from the queue, schedules subtasks on a bounded
// shared pool, applies the result cache and per-dependency circuit breakers,
// and drives every task to a settled lifecycle state.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fawad-mazhar/paros/internal/breaker"
	"github.com/fawad-mazhar/paros/internal/cache"
	"github.com/fawad-mazhar/paros/internal/config"
	"github.com/fawad-mazhar/paros/internal/decompose"
	"github.com/fawad-mazhar/paros/internal/metrics"
	"github.com/fawad-mazhar/paros/internal/models"
	"github.com/fawad-mazhar/paros/internal/worker"
)

// Store is the persistence collaborator. Every task mutation is saved
// before it becomes observable to callers.
type Store interface {
	SaveTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	// ClaimTask atomically takes ownership of a runnable (pending or
	// retrying) task. It reports false when the task is not claimable.
	ClaimTask(ctx context.Context, id, engineID string) (bool, error)
	// ClaimStaleTask takes over a task stuck in PROCESSING longer than
	// staleAfter, typically because its engine died.
	ClaimStaleTask(ctx context.Context, id, engineID string, staleAfter time.Duration) (bool, error)
	GetInProgressTasks(ctx context.Context) ([]*models.Task, error)
	CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int, error)
}

// Delivery is one queued task submission in flight from the broker.
type Delivery struct {
	Body []byte
	// Ack marks the message processed.
	Ack func() error
	// Nak hands the message back for redelivery after the given delay.
	Nak func(delay time.Duration) error
	// Term drops the message permanently, used for malformed payloads.
	Term func() error
}

// Queue is the transport tasks travel through between submission and
// execution.
type Queue interface {
	PublishTask(ctx context.Context, task *models.Task) error
	ConsumeTasks(ctx context.Context) (<-chan Delivery, error)
}

// Notifier fans task transitions and engine status out to external
// observers. It is optional; a nil notifier disables it.
type Notifier interface {
	PublishTransition(ctx context.Context, transition models.TaskTransition) error
	PublishEngineStatus(ctx context.Context, status models.EngineStatus) error
}

type Engine struct {
	id         string
	config     *config.Config
	store      Store
	queue      Queue
	notifier   Notifier
	decomposer *decompose.Decomposer
	handlers   *worker.Registry
	results    *cache.ResultCache
	breakers   *breaker.Registry

	taskSlots    chan struct{}
	subtaskSlots chan struct{}
	workers      sync.WaitGroup
	stopChan     chan struct{}
	isShutdown   bool
	shutdownLock sync.RWMutex

	cancelMu sync.Mutex
	cancels  map[string]chan struct{}
}

func New(cfg *config.Config, store Store, queue Queue, notifier Notifier, handlers *worker.Registry, results *cache.ResultCache, breakers *breaker.Registry) *Engine {
	return &Engine{
		id:           uuid.New().String(),
		config:       cfg,
		store:        store,
		queue:        queue,
		notifier:     notifier,
		decomposer:   decompose.New(),
		handlers:     handlers,
		results:      results,
		breakers:     breakers,
		taskSlots:    make(chan struct{}, cfg.Engine.MaxTasks),
		subtaskSlots: make(chan struct{}, cfg.Engine.MaxParallelSubTasks),
		stopChan:     make(chan struct{}),
		cancels:      make(map[string]chan struct{}),
	}
}

// ID returns this engine instance's identifier.
func (e *Engine) ID() string {
	return e.id
}

// Submit persists a new pending task and enqueues it for execution.
func (e *Engine) Submit(ctx context.Context, taskType string, input, params map[string]interface{}, maxRetries int) (*models.Task, error) {
	if taskType == "" {
		return nil, fmt.Errorf("task type is required")
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	task := models.NewTask(taskType, input, params, maxRetries)
	if err := e.store.SaveTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}
	if err := e.queue.PublishTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	metrics.TasksSubmitted.Inc()
	log.Printf("Submitted task %s type=%s maxRetries=%d", task.ID, task.Type, task.MaxRetries)
	return task, nil
}

// GetStatus returns the stored snapshot of a task.
func (e *Engine) GetStatus(ctx context.Context, taskID string) (*models.Task, error) {
	return e.store.GetTask(ctx, taskID)
}

// Cancel requests cancellation of a task. A task processing on this engine
// is cancelled cooperatively at its next generation barrier; pending and
// retry-pending tasks are cancelled directly. Returns false when the task is
// already settled.
func (e *Engine) Cancel(ctx context.Context, taskID string) (bool, error) {
	e.cancelMu.Lock()
	ch, running := e.cancels[taskID]
	if running {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
	e.cancelMu.Unlock()
	if running {
		log.Printf("Cancellation requested for running task %s", taskID)
		return true, nil
	}

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if task.Settled() {
		return false, nil
	}
	if task.Status == models.TaskStatusProcessing {
		// Claimed by another engine; only its owner can stop it safely.
		return false, fmt.Errorf("task %s is processing on engine %s", taskID, task.EngineID)
	}

	if err := e.transition(ctx, task, models.TaskStatusCancelled); err != nil {
		return false, err
	}
	log.Printf("Cancelled task %s", taskID)
	return true, nil
}

// SystemState summarizes queue depth and execution counts from the store.
func (e *Engine) SystemState(ctx context.Context) (*models.SystemState, error) {
	counts, err := e.store.CountTasksByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	return &models.SystemState{
		ActiveTasks:   counts[models.TaskStatusProcessing] + counts[models.TaskStatusRetrying],
		QueuedTasks:   counts[models.TaskStatusPending],
		ExecutedTasks: counts[models.TaskStatusCompleted],
		FailedTasks:   counts[models.TaskStatusFailed],
		UpdatedAt:     time.Now(),
	}, nil
}

// Run starts the consumer loop and blocks until the context is cancelled or
// Shutdown is called.
func (e *Engine) Run(ctx context.Context) error {
	log.Printf("Starting engine %s: %d task slots, %d parallel subtasks", e.id, cap(e.taskSlots), cap(e.subtaskSlots))

	deliveries, err := e.queue.ConsumeTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming tasks: %w", err)
	}

	// Recovery of tasks stranded by engines that died mid-execution.
	if err := e.recoverStaleTasks(ctx); err != nil {
		log.Printf("Warning: stale task recovery failed: %v", err)
	}

	e.publishEngineStatus(ctx, models.EngineStarted)

	heartbeat := time.NewTicker(time.Duration(e.config.Engine.HeartbeatInterval) * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			e.publishEngineStatus(context.Background(), models.EngineStopping)
			return ctx.Err()
		case <-e.stopChan:
			e.publishEngineStatus(context.Background(), models.EngineStopping)
			return nil
		case <-heartbeat.C:
			e.publishEngineStatus(ctx, models.EngineHealthy)
			e.exportBreakerStates()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("task delivery channel closed")
			}

			var task models.Task
			if err := json.Unmarshal(delivery.Body, &task); err != nil {
				log.Printf("Error decoding task message: %v", err)
				e.term(delivery)
				continue
			}

			select {
			case e.taskSlots <- struct{}{}:
				e.workers.Add(1)
				go func(taskID string, delivery Delivery) {
					defer func() {
						<-e.taskSlots
						e.workers.Done()
					}()
					e.process(ctx, taskID, delivery)
				}(task.ID, delivery)
			default:
				// All task slots busy; hand the message back.
				e.nak(delivery, 0)
			}
		}
	}
}

// process drives one delivered task to a settled state and acknowledges the
// delivery accordingly.
func (e *Engine) process(ctx context.Context, taskID string, delivery Delivery) {
	claimed, err := e.store.ClaimTask(ctx, taskID, e.id)
	if err != nil {
		log.Printf("Error claiming task %s: %v", taskID, err)
		e.nak(delivery, 0)
		return
	}
	if !claimed {
		// Another engine owns it, or it is no longer runnable.
		e.ack(delivery)
		return
	}

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		log.Printf("Error loading task %s: %v", taskID, err)
		e.nak(delivery, 0)
		return
	}

	execErr := e.ExecuteTask(ctx, task)
	if execErr != nil {
		log.Printf("Task %s execution error: %v", taskID, execErr)
	}

	switch {
	case task.Settled():
		e.ack(delivery)
	case ctx.Err() != nil:
		// Shutting down mid-task: hand it back without charging the
		// retry budget.
		e.nak(delivery, 0)
	default:
		e.retryWholeTask(ctx, task, execErr, delivery)
	}
}

// retryWholeTask applies the whole-task retry policy after an execution the
// engine could not complete reliably. The task moves FAILED then RETRYING
// and the delivery is handed back with an exponential backoff delay.
func (e *Engine) retryWholeTask(ctx context.Context, task *models.Task, cause error, delivery Delivery) {
	if cause == nil {
		cause = fmt.Errorf("execution ended without a settled status")
	}
	task.FailureReason = cause.Error()

	if err := e.transition(ctx, task, models.TaskStatusFailed); err != nil {
		log.Printf("Error recording failure for task %s: %v", task.ID, err)
		e.nak(delivery, 0)
		return
	}
	if !task.CanRetry() {
		// The FAILED transition stamped the completion time; it is final.
		log.Printf("Task %s failed after exhausting %d whole-task retries: %v", task.ID, task.MaxRetries, cause)
		e.ack(delivery)
		return
	}

	task.RetryCount++
	if err := e.transition(ctx, task, models.TaskStatusRetrying); err != nil {
		log.Printf("Error marking task %s retrying: %v", task.ID, err)
		e.nak(delivery, 0)
		return
	}

	backoff := e.backoff(task.RetryCount)
	log.Printf("Retrying task %s attempt %d/%d in %s: %v", task.ID, task.RetryCount+1, task.MaxRetries+1, backoff, cause)
	e.nak(delivery, backoff)
}

// recoverStaleTasks re-drives tasks stranded in PROCESSING by an engine that
// died. The stranded run is charged against the whole-task retry budget.
func (e *Engine) recoverStaleTasks(ctx context.Context) error {
	tasks, err := e.store.GetInProgressTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list in-progress tasks: %w", err)
	}

	staleAfter := time.Duration(e.config.Engine.StaleTaskThreshold) * time.Second
	for _, task := range tasks {
		claimed, err := e.store.ClaimStaleTask(ctx, task.ID, e.id, staleAfter)
		if err != nil {
			log.Printf("Error claiming stale task %s: %v", task.ID, err)
			continue
		}
		if !claimed {
			continue
		}

		task.FailureReason = "engine restarted during execution"
		if err := e.transition(ctx, task, models.TaskStatusFailed); err != nil {
			log.Printf("Error failing stale task %s: %v", task.ID, err)
			continue
		}
		if !task.CanRetry() {
			log.Printf("Task %s exhausted retries during recovery", task.ID)
			continue
		}

		task.RetryCount++
		if err := e.transition(ctx, task, models.TaskStatusRetrying); err != nil {
			log.Printf("Error marking recovered task %s retrying: %v", task.ID, err)
			continue
		}
		if err := e.queue.PublishTask(ctx, task); err != nil {
			log.Printf("Failed to requeue recovered task %s: %v", task.ID, err)
			continue
		}
		log.Printf("Recovered task %s", task.ID)
	}
	return nil
}

// Shutdown initiates a graceful shutdown and waits for in-flight tasks.
func (e *Engine) Shutdown(timeout time.Duration) error {
	e.shutdownLock.Lock()
	if e.isShutdown {
		e.shutdownLock.Unlock()
		return nil
	}
	e.isShutdown = true
	e.shutdownLock.Unlock()

	close(e.stopChan)

	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.publishEngineStatus(context.Background(), models.EngineStopped)
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timed out after %v", timeout)
	}
}

// IsShutdown returns the current shutdown status
func (e *Engine) IsShutdown() bool {
	e.shutdownLock.RLock()
	defer e.shutdownLock.RUnlock()
	return e.isShutdown
}

// transition moves the task through its lifecycle, persists it, and emits
// the transition event. Persistence precedes notification so observers
// never see unsaved state.
func (e *Engine) transition(ctx context.Context, task *models.Task, status models.TaskStatus) error {
	old, err := task.TransitionTo(status)
	if err != nil {
		return err
	}
	if err := e.store.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("failed to persist task %s: %w", task.ID, err)
	}

	e.notifyTransition(ctx, models.TaskTransition{
		TaskID:    task.ID,
		OldStatus: old,
		NewStatus: status,
		Timestamp: time.Now(),
	})
	metrics.TaskTransitions.WithLabelValues(string(status)).Inc()
	return nil
}

func (e *Engine) notifyTransition(ctx context.Context, transition models.TaskTransition) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.PublishTransition(ctx, transition); err != nil {
		log.Printf("Warning: failed to publish transition for task %s: %v", transition.TaskID, err)
	}
}

func (e *Engine) publishEngineStatus(ctx context.Context, event models.EngineEventType) {
	if e.notifier == nil {
		return
	}

	health := "ok"
	if event == models.EngineStopping || event == models.EngineStopped {
		health = "draining"
	}
	status := models.EngineStatus{
		ID:           e.id,
		Event:        event,
		Timestamp:    time.Now(),
		WorkerCount:  cap(e.taskSlots),
		ActiveTasks:  e.activeCount(),
		HealthStatus: health,
	}
	if err := e.notifier.PublishEngineStatus(ctx, status); err != nil {
		log.Printf("Warning: failed to publish engine status: %v", err)
	}
}

func (e *Engine) activeCount() int {
	e.cancelMu.Lock()
	defer e.cancelMu.Unlock()
	return len(e.cancels)
}

// exportBreakerStates mirrors breaker positions into the state gauge.
func (e *Engine) exportBreakerStates() {
	for _, s := range e.breakers.Status() {
		metrics.BreakerState.WithLabelValues(s.Name).Set(breakerStateValue(s.State))
	}
}

func breakerStateValue(s breaker.State) float64 {
	switch s {
	case breaker.StateOpen:
		return 1
	case breaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// backoff returns the exponential wait before the given retry attempt,
// base * 2^(attempt-1).
func (e *Engine) backoff(attempt int) time.Duration {
	base := time.Duration(e.config.Engine.RetryBackoffBase) * time.Second
	return base * time.Duration(1<<uint(attempt-1))
}

func (e *Engine) ack(d Delivery) {
	if d.Ack == nil {
		return
	}
	if err := d.Ack(); err != nil {
		log.Printf("Warning: failed to ack delivery: %v", err)
	}
}

func (e *Engine) nak(d Delivery, delay time.Duration) {
	if d.Nak == nil {
		return
	}
	if err := d.Nak(delay); err != nil {
		log.Printf("Warning: failed to nak delivery: %v", err)
	}
}

func (e *Engine) term(d Delivery) {
	if d.Term == nil {
		return
	}
	if err := d.Term(); err != nil {
		log.Printf("Warning: failed to terminate delivery: %v", err)
	}
}
