package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ragline/ragline/internal/api/handlers"
	appMiddleware "github.com/ragline/ragline/internal/api/middlewares"
	"github.com/ragline/ragline/internal/config"
	"github.com/ragline/ragline/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(
	cfg *config.Config,
	users *services.UserService,
	contexts *services.ContextService,
	chat *services.ChatService,
	logger *slog.Logger,
) *Server {
	authHandler := handlers.NewAuthHandler(users, cfg.JWTSecret)
	contextHandler := handlers.NewContextHandler(contexts)
	chatHandler := handlers.NewChatHandler(chat)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		// public endpoints
		api.Post("/signup", authHandler.Signup)
		api.Post("/login", authHandler.Login)

		// protected endpoints
		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))

			protected.Post("/contexts", contextHandler.Create)
			protected.Get("/contexts", contextHandler.List)
			protected.Get("/contexts/{context_id}/status", contextHandler.Status)
			protected.Post("/contexts/{context_id}/upload", contextHandler.Upload)
			protected.Post("/contexts/{context_id}/ingest", contextHandler.Ingest)
			protected.Post("/contexts/{context_id}/reprocess", contextHandler.Reprocess)
			protected.Post("/contexts/{context_id}/cancel", contextHandler.Cancel)
			protected.Delete("/contexts/{context_id}", contextHandler.Delete)

			protected.Post("/chat/sessions", chatHandler.CreateSession)
			protected.Post("/chat/sessions/{session_id}/ask", chatHandler.Ask)
			protected.Get("/chat/sessions/{session_id}/messages", chatHandler.History)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv, logger: logger}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}
