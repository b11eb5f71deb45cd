// Package server exposes the orchestrator over HTTP.
package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/sicko7947/agentflow"
)

// Orchestrator is the part of the engine the HTTP API drives
type Orchestrator interface {
	ExecuteTask(ctx context.Context, taskID string) (*agentflow.Execution, error)
	ValidateWorkflow(ctx context.Context, workflowID string) (*agentflow.ValidationReport, error)
	GetExecution(ctx context.Context, executionID string) (*agentflow.Execution, error)
	ListExecutions(ctx context.Context, filter agentflow.ExecutionFilter) ([]*agentflow.Execution, error)
	ListNodeExecutions(ctx context.Context, executionID string) ([]*agentflow.NodeExecution, error)
}

// Server is the fiber application serving the orchestrator API
type Server struct {
	orchestrator Orchestrator
	logger       zerolog.Logger
	gatherer     prometheus.Gatherer
	app          *fiber.App
}

// Option configures the server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics serves the collectors of gatherer on /metrics
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

// New builds the server and registers its routes
func New(orchestrator Orchestrator, opts ...Option) *Server {
	s := &Server{
		orchestrator: orchestrator,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{AppName: "agentflow"})
	app.Use(recoverer.New())
	app.Use(requestLogger(s.logger))

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if s.gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	e := app.Group("/executions")
	e.Get("/", s.listExecutions)
	e.Get("/:executionId", s.getExecution)
	e.Post("/:taskId/start", s.startExecution)

	w := app.Group("/workflows")
	w.Post("/:workflowId/validate", s.validateWorkflow)

	s.app = app
	return s
}

// App returns the underlying fiber application
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called
func (s *Server) Listen(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func requestLogger(logger zerolog.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		logger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")

		return err
	}
}
