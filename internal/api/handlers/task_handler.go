// internal/api/handlers/task_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fawad-mazhar/paros/internal/engine"
	"github.com/fawad-mazhar/paros/internal/models"
)

type TaskHandler struct {
	engine            *engine.Engine
	defaultMaxRetries int
}

func NewTaskHandler(eng *engine.Engine, defaultMaxRetries int) *TaskHandler {
	return &TaskHandler{
		engine:            eng,
		defaultMaxRetries: defaultMaxRetries,
	}
}

type submitTaskRequest struct {
	Type       string                 `json:"type"`
	Input      map[string]interface{} `json:"input"`
	Params     map[string]interface{} `json:"params,omitempty"`
	MaxRetries *int                   `json:"maxRetries,omitempty"`
}

func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "task type is required", http.StatusBadRequest)
		return
	}

	maxRetries := h.defaultMaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			http.Error(w, "maxRetries must not be negative", http.StatusBadRequest)
			return
		}
		maxRetries = *req.MaxRetries
	}

	task, err := h.engine.Submit(r.Context(), req.Type, req.Input, req.Params, maxRetries)
	if err != nil {
		http.Error(w, "failed to queue task", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Task queued successfully",
		"taskId":  task.ID,
	})
}

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	task, err := h.engine.GetStatus(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load task", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(task)
}

func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	cancelled, err := h.engine.Cancel(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if !cancelled {
		http.Error(w, "task is already settled", http.StatusConflict)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"message": "Task cancellation requested",
		"taskId":  taskID,
	})
}
