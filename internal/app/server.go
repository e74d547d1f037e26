package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/docqa/docqa/internal/api/handlers"
	"github.com/docqa/docqa/internal/api/middlewares"
	"github.com/docqa/docqa/internal/chat"
	"github.com/docqa/docqa/internal/config"
	"github.com/docqa/docqa/internal/core"
	"github.com/docqa/docqa/internal/ingest"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes. Chat endpoints are public because
// document access rules, not routing, decide who may query what; document
// lifecycle endpoints require a user.
func NewServer(cfg *config.Config, db core.DbClient, obj core.ObjectClient,
	ingestPipeline *ingest.Pipeline, chatPipeline *chat.Pipeline, verifier *middlewares.JWTVerifier) *Server {

	docHandler := handlers.NewDocumentHandler(db, obj, ingestPipeline, cfg.BucketName)
	chatHandler := handlers.NewChatHandler(chatPipeline)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(api chi.Router) {
		// Chat is anonymous-friendly; streaming responses outlive the default
		// timeout so only the buffered route gets one.
		api.Group(func(pub chi.Router) {
			pub.With(middleware.Timeout(60*time.Second)).Post("/chat/query", chatHandler.Query)
			pub.Post("/chat/stream", chatHandler.Stream)
			pub.With(middleware.Timeout(30*time.Second)).Get("/documents/{slug}", docHandler.Get)
			pub.With(middleware.Timeout(30*time.Second)).Get("/documents", docHandler.List)
		})

		api.Group(func(protected chi.Router) {
			protected.Use(middleware.Timeout(60 * time.Second))
			protected.Use(middlewares.RequireAuth(verifier))
			protected.Post("/documents", docHandler.Upload)
			protected.Get("/uploads", docHandler.ListUploads)
			protected.Get("/uploads/{id}/status", docHandler.Status)
			protected.Get("/uploads/{id}/logs", docHandler.Logs)
			protected.Post("/uploads/{id}/retrain", docHandler.Retrain)
			protected.Delete("/documents/{slug}", docHandler.Delete)
			protected.Get("/admin/stuck", docHandler.Stuck)
		})
	})

	return &Server{
		httpServer: &http.Server{
			Addr:    ":" + cfg.Port,
			Handler: r,
		},
		logger: slog.Default(),
	}
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("server error", "error", err)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
