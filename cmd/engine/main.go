// cmd/engine/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fawad-mazhar/paros/internal/api/routes"
	"github.com/fawad-mazhar/paros/internal/breaker"
	"github.com/fawad-mazhar/paros/internal/cache"
	"github.com/fawad-mazhar/paros/internal/config"
	"github.com/fawad-mazhar/paros/internal/engine"
	"github.com/fawad-mazhar/paros/internal/queue"
	"github.com/fawad-mazhar/paros/internal/storage/leveldb"
	"github.com/fawad-mazhar/paros/internal/storage/postgres"
	"github.com/fawad-mazhar/paros/internal/worker"
)

// registerHandlers installs the built-in step handlers plus the task-level
// handlers this deployment executes directly.
func registerHandlers(registry *worker.Registry) error {
	if err := worker.RegisterBuiltins(registry); err != nil {
		return err
	}

	extras := map[string]worker.Handler{
		"echo":        worker.Echo,
		"simple_task": worker.SimpleTask,
	}
	for name, h := range extras {
		if err := registry.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize PostgreSQL client
	db, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("Failed to ensure database schema: %v", err)
	}

	// Initialize LevelDB result cache
	cacheStore, err := leveldb.NewClient(cfg.LevelDB)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheStore.Close()

	// Initialize NATS JetStream client
	js, err := queue.NewClient(cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer js.Close()

	// Create handler registry
	registry := worker.NewRegistry()
	if err := registerHandlers(registry); err != nil {
		log.Fatalf("Failed to register handlers: %v", err)
	}

	// Create circuit breaker registry
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		RecoveryTimeout:  time.Duration(cfg.Breaker.RecoveryTimeout) * time.Second,
		CallTimeout:      time.Duration(cfg.Engine.SubTaskTimeout) * time.Second,
	})

	// Create execution engine
	results := cache.New(cacheStore)
	eng := engine.New(cfg, db, js, js, registry, results, breakers)
	log.Printf("Engine %s initialized", eng.ID())

	// Setup HTTP API
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      routes.SetupRouter(cfg, eng, breakers),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// Start HTTP API
	g.Go(func() error {
		log.Printf("HTTP API listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Start engine consume loop
	g.Go(func() error {
		return eng.Run(gctx)
	})

	// Wait for shutdown signal or component failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("Received shutdown signal: %v", sig)
	case <-gctx.Done():
		log.Printf("Component stopped, shutting down")
	}

	// Drain the engine first so in-flight tasks settle, then stop the API
	shutdownTimeout := time.Duration(cfg.Engine.ShutdownTimeout) * time.Second
	if err := eng.Shutdown(shutdownTimeout); err != nil {
		log.Printf("Error during engine shutdown: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during server shutdown: %v", err)
	}

	cancel()
	if err := g.Wait(); err != nil {
		log.Printf("Shutdown finished with error: %v", err)
	}

	log.Println("Engine shutdown complete")
}
