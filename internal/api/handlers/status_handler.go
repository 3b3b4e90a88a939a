// internal/api/handlers/status_handler.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/fawad-mazhar/paros/internal/engine"
)

type StatusHandler struct {
	engine *engine.Engine
}

func NewStatusHandler(eng *engine.Engine) *StatusHandler {
	return &StatusHandler{
		engine: eng,
	}
}

func (h *StatusHandler) GetSystemStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.SystemState(r.Context())
	if err != nil {
		http.Error(w, "failed to get system status", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(status)
}
