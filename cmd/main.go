// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/talentstage/event-registration/internal/config"
	"github.com/talentstage/event-registration/internal/database"
	"github.com/talentstage/event-registration/internal/handler"
	"github.com/talentstage/event-registration/internal/service"
	"github.com/talentstage/event-registration/internal/storage"
	"github.com/talentstage/event-registration/internal/storage/memory"
	"github.com/talentstage/event-registration/internal/storage/postgres"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	// ── 1. Pick a store backend ───────────────────────────────────────────
	var store storage.Store
	switch cfg.Store {
	case config.StoreMemory:
		store = memory.New(cfg.LockTimeout)
		logger.Info("using in-memory store")
	default:
		pool, err := database.NewPool(ctx, cfg.DSN(), logger)
		if err != nil {
			logger.Error("database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.Error("schema", "error", err)
			os.Exit(1)
		}
		store = postgres.New(pool, cfg.LockTimeout)
		logger.Info("connected to postgres", "host", cfg.DBHost, "db", cfg.DBName)
	}

	// ── 2. Wire up layers ─────────────────────────────────────────────────
	svc := service.New(store, logger)
	h := handler.NewEventHandler(svc)

	// ── 3. Build the router ───────────────────────────────────────────────
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(handler.Logger(logger))  // structured access log
	r.Use(handler.CORS)            // permissive CORS for demo

	r.Get("/health", handler.HealthCheck)

	r.Route("/events", func(r chi.Router) {
		r.Post("/", h.CreateEvent)
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.Patch("/{id}/registration", h.UpdateRegistrationSettings)
		r.Post("/{id}/register", h.Register)
		r.Post("/{id}/cancel", h.Cancel)
		r.Get("/{id}/registration-open", h.RegistrationOpen)
		r.Get("/{id}/capacity", h.Capacity)
		r.Get("/{id}/participations", h.ListParticipations)
		r.Post("/{id}/reconcile", h.Reconcile)
	})
	r.Delete("/participations/{id}", h.DeleteParticipation)

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server", "error", err)
			os.Exit(1)
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
