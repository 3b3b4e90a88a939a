// internal/api/handlers/breaker_handler.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fawad-mazhar/paros/internal/breaker"
)

type BreakerHandler struct {
	breakers *breaker.Registry
}

func NewBreakerHandler(breakers *breaker.Registry) *BreakerHandler {
	return &BreakerHandler{
		breakers: breakers,
	}
}

func (h *BreakerHandler) ListBreakers(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(h.breakers.Status())
}

func (h *BreakerHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if !h.breakers.Reset(name) {
		http.Error(w, "breaker not found", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"message": "Breaker reset",
		"name":    name,
	})
}
