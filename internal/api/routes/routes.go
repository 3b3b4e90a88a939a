// internal/api/routes/routes.go
package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fawad-mazhar/paros/internal/api/handlers"
	"github.com/fawad-mazhar/paros/internal/breaker"
	"github.com/fawad-mazhar/paros/internal/config"
	"github.com/fawad-mazhar/paros/internal/engine"
)

func SetupRouter(cfg *config.Config, eng *engine.Engine, breakers *breaker.Registry) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	})

	// Initialize handlers
	taskHandler := handlers.NewTaskHandler(eng, cfg.Engine.MaxRetries)
	statusHandler := handlers.NewStatusHandler(eng)
	breakerHandler := handlers.NewBreakerHandler(breakers)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Task endpoints
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", taskHandler.SubmitTask)
			r.Get("/{id}", taskHandler.GetTask)
			r.Post("/{id}/cancel", taskHandler.CancelTask)
		})

		// Circuit breaker endpoints
		r.Route("/breakers", func(r chi.Router) {
			r.Get("/", breakerHandler.ListBreakers)
			r.Post("/{name}/reset", breakerHandler.ResetBreaker)
		})

		// System Status endpoint
		r.Get("/system/status", statusHandler.GetSystemStatus)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	return r
}
