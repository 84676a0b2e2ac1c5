package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Server is the HTTP adapter over a Service.
type Server struct {
	app        *fiber.App
	listenAddr string
	logger     *slog.Logger
}

// NewServer builds the routes. askTimeout bounds each question; zero
// leaves it to the service.
func NewServer(service Service, addr string, askTimeout time.Duration) *Server {
	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})

	var (
		checkHandler = NewCheckHandler()
		handler      = NewHandler(service, askTimeout)
		check        = app.Group("/check")
		apiv1        = app.Group("/api/v1")
	)

	check.Get("/healthy", checkHandler.HandleHealthy)

	apiv1.Post("/collections/:collection/documents", handler.HandleIngest)
	apiv1.Get("/collections/:collection/documents", handler.HandleListDocuments)
	apiv1.Post("/collections/:collection/ask", handler.HandleAsk)
	apiv1.Get("/jobs/:id", handler.HandleGetJob)
	apiv1.Delete("/jobs/:id", handler.HandleCancelJob)
	apiv1.Post("/documents/:id/retry", handler.HandleRetryDocument)
	apiv1.Post("/answers/:id/feedback", handler.HandleFeedback)

	return &Server{
		app:        app,
		listenAddr: addr,
		logger:     slog.Default().With("component", "api"),
	}
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("server listening", "addr", s.listenAddr)
	return s.app.Listen(s.listenAddr)
}

// Shutdown stops accepting requests and waits for active ones until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.logger.Info("server stopped")
	return s.app.ShutdownWithContext(ctx)
}
