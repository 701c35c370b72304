package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/STageSub/orchestra-system-sub002/internal/core"
	"github.com/STageSub/orchestra-system-sub002/internal/server/handler"
	"github.com/STageSub/orchestra-system-sub002/internal/storage"
)

// NewRouter creates and configures a new HTTP router with middleware and API routes.
func NewRouter(orchestrator core.Orchestrator, store storage.Store, progress handler.ProgressReader, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Configure middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		respondHandler := handler.NewRespondHandler(orchestrator, logger)
		r.Get("/respond", respondHandler.View)
		r.Post("/respond", respondHandler.Respond)

		progressHandler := handler.NewProgressHandler(progress)
		r.Get("/send-progress", progressHandler.Get)

		needsHandler := handler.NewNeedsHandler(orchestrator, store, logger)
		r.Route("/needs/{id}", func(r chi.Router) {
			r.Get("/", needsHandler.Get)
			r.Post("/dispatch", needsHandler.Dispatch)
			r.Put("/quantity", needsHandler.UpdateQuantity)
			r.Post("/close", needsHandler.Close)
		})
	})

	return r
}
