// internal/storage/memory/store.go

// Package memory provides an in-memory task store satisfying the engine's
// storage contract. It backs tests and local development where durability
// is not required.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fawad-mazhar/paros/internal/models"
)

// Store keeps tasks serialized in process memory. Loads return independent
// snapshots, matching the behavior of the SQL store.
type Store struct {
	mu    sync.Mutex
	tasks map[string][]byte
}

func NewStore() *Store {
	return &Store{tasks: make(map[string][]byte)}
}

func (s *Store) SaveTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeLocked(task)
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

func (s *Store) ClaimTask(ctx context.Context, id, engineID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.loadLocked(id)
	if err != nil {
		return false, err
	}
	if task.Status != models.TaskStatusPending && task.Status != models.TaskStatusRetrying {
		return false, nil
	}
	task.EngineID = engineID
	task.UpdatedAt = time.Now()
	return true, s.storeLocked(task)
}

func (s *Store) ClaimStaleTask(ctx context.Context, id, engineID string, staleAfter time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.loadLocked(id)
	if err != nil {
		return false, err
	}
	if task.Status != models.TaskStatusProcessing {
		return false, nil
	}
	if time.Since(task.UpdatedAt) < staleAfter {
		return false, nil
	}
	task.EngineID = engineID
	task.UpdatedAt = time.Now()
	return true, s.storeLocked(task)
}

func (s *Store) GetInProgressTasks(ctx context.Context) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []*models.Task
	for id := range s.tasks {
		task, err := s.loadLocked(id)
		if err != nil {
			return nil, err
		}
		if task.Status == models.TaskStatusProcessing {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

func (s *Store) CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[models.TaskStatus]int)
	for id := range s.tasks {
		task, err := s.loadLocked(id)
		if err != nil {
			return nil, err
		}
		counts[task.Status]++
	}
	return counts, nil
}

func (s *Store) storeLocked(task *models.Task) error {
	data, err := task.ToJSON()
	if err != nil {
		return err
	}
	s.tasks[task.ID] = data
	return nil
}

func (s *Store) loadLocked(id string) (*models.Task, error) {
	data, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, models.ErrTaskNotFound)
	}
	var task models.Task
	if err := task.FromJSON(data); err != nil {
		return nil, err
	}
	return &task, nil
}
