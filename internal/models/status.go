// internal/models/status.go
package models

import (
	"time"
)

// StatusMessage represents a status update message for tasks and engines
type StatusMessage struct {
	Type      string      `json:"type"`      // "engine" or "task"
	ID        string      `json:"id"`        // unique identifier of the entity (engine/task id)
	Status    string      `json:"status"`    // current status of the entity
	Timestamp time.Time   `json:"timestamp"` // when the status was updated
	Metadata  interface{} `json:"metadata"`  // additional entity-specific information
}

// TaskTransition is emitted on every task lifecycle transition and consumed
// by the external notification fan-out layer.
type TaskTransition struct {
	TaskID    string     `json:"taskId"`
	OldStatus TaskStatus `json:"oldStatus"`
	NewStatus TaskStatus `json:"newStatus"`
	Timestamp time.Time  `json:"timestamp"`
}

// SystemState represents the current state of the entire system
type SystemState struct {
	ActiveTasks   int       `json:"activeTasks"`
	QueuedTasks   int       `json:"queuedTasks"`
	ExecutedTasks int       `json:"executedTasks"`
	FailedTasks   int       `json:"failedTasks"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type EngineEventType string

const (
	EngineStarted  EngineEventType = "STARTED"
	EngineStopping EngineEventType = "STOPPING"
	EngineStopped  EngineEventType = "STOPPED"
	EngineHealthy  EngineEventType = "HEALTHY"
)

type EngineStatus struct {
	ID           string          `json:"id"`
	Event        EngineEventType `json:"event"`
	Timestamp    time.Time       `json:"timestamp"`
	WorkerCount  int             `json:"workerCount"`
	ActiveTasks  int             `json:"activeTasks"`
	HealthStatus string          `json:"healthStatus"`
}
