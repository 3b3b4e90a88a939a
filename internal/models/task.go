// internal/models/task.go
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrTaskNotFound is returned by task stores when no task exists for an id.
var ErrTaskNotFound = errors.New("task not found")

// TaskStatus represents the current lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusRetrying   TaskStatus = "RETRYING"
	TaskStatusCancelled  TaskStatus = "CANCELLED"
)

// validTransitions encodes the task lifecycle state machine:
// PENDING -> PROCESSING -> {COMPLETED | FAILED}, FAILED -> RETRYING -> PROCESSING,
// and CANCELLED reachable from every non-terminal state.
var validTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusProcessing, TaskStatusCancelled},
	TaskStatusProcessing: {TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusFailed:     {TaskStatusRetrying, TaskStatusCancelled},
	TaskStatusRetrying:   {TaskStatusProcessing, TaskStatusCancelled},
}

// IsTerminal reports whether no further transition is possible from this status.
// FAILED is only conditionally terminal; see Task.CanRetry.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// CanTransitionTo reports whether the lifecycle permits moving to the given status.
func (s TaskStatus) CanTransitionTo(target TaskStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Task is the unit of work submitted by a caller. It is created at submission
// time and mutated only by the execution engine.
type Task struct {
	ID             string                            `json:"id"`
	Type           string                            `json:"type"`
	Input          map[string]interface{}            `json:"input"`
	Params         map[string]interface{}            `json:"params,omitempty"`
	Status         TaskStatus                        `json:"status"`
	RetryCount     int                               `json:"retryCount"`
	MaxRetries     int                               `json:"maxRetries"`
	EngineID       string                            `json:"engineId,omitempty"`
	Result         *TaskResult                       `json:"result,omitempty"`
	PartialResults map[string]map[string]interface{} `json:"partialResults,omitempty"`
	FailureReason  string                            `json:"failureReason,omitempty"`
	CreatedAt      time.Time                         `json:"createdAt"`
	StartedAt      *time.Time                        `json:"startedAt,omitempty"`
	CompletedAt    *time.Time                        `json:"completedAt,omitempty"`
	UpdatedAt      time.Time                         `json:"updatedAt"`
}

// TaskResult is the aggregate produced when every generation of a task has
// completed. FinalOutput is the result of the last subtask of the final
// generation in deterministic dispatch order.
type TaskResult struct {
	SubTaskCount int                               `json:"subtaskCount"`
	Results      map[string]map[string]interface{} `json:"results"`
	FinalOutput  map[string]interface{}            `json:"finalOutput"`
}

// NewTask creates a new pending task for submission.
func NewTask(taskType string, input, params map[string]interface{}, maxRetries int) *Task {
	now := time.Now()
	return &Task{
		ID:         uuid.New().String(),
		Type:       taskType,
		Input:      input,
		Params:     params,
		Status:     TaskStatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TransitionTo moves the task to the given status, enforcing the lifecycle
// state machine. It returns the previous status so callers can emit
// transition events.
func (t *Task) TransitionTo(status TaskStatus) (TaskStatus, error) {
	old := t.Status
	if !old.CanTransitionTo(status) {
		return old, fmt.Errorf("invalid task status transition %s -> %s", old, status)
	}

	now := time.Now()
	t.Status = status
	t.UpdatedAt = now

	switch status {
	case TaskStatusProcessing:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case TaskStatusCompleted, TaskStatusCancelled:
		t.CompletedAt = &now
	case TaskStatusFailed:
		if !t.CanRetry() {
			t.CompletedAt = &now
		}
	}

	return old, nil
}

// CanRetry reports whether the task has whole-task retry budget left.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// Settled reports whether the engine will not drive this task any further:
// COMPLETED, CANCELLED, or a FAILED recorded as final. A failure is final
// once the completion timestamp is set; retryable failures leave it unset.
func (t *Task) Settled() bool {
	return t.Status.IsTerminal() || (t.Status == TaskStatusFailed && t.CompletedAt != nil)
}

// ToJSON converts the task to JSON
func (t *Task) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// FromJSON populates the task from JSON
func (t *Task) FromJSON(data []byte) error {
	return json.Unmarshal(data, t)
}
