// Package server exposes the object assembly pipeline over HTTP: a
// blocking generation endpoint, a live SSE endpoint that relays deltas and
// partial objects as they assemble, and read access to stored generation
// records.
package server

import (
	"errors"
	"fmt"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"go.uber.org/zap"

	"github.com/objstreamhq/objstream/pkg/modelcall"
	"github.com/objstreamhq/objstream/pkg/modelcall/provider"
	"github.com/objstreamhq/objstream/pkg/record"
	"github.com/objstreamhq/objstream/pkg/record/worker"
	"github.com/objstreamhq/objstream/pkg/telemetry"
)

// ErrorResponse is the JSON error body returned by every handler.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server generates structured objects via an upstream model provider and
// persists every outcome asynchronously through its worker pool.
type Server struct {
	config     Config
	client     *modelcall.Client
	store      record.Store
	workerPool *worker.Pool
	recorder   *telemetry.Recorder
	logger     *zap.Logger
	app        *fiber.App
}

// New creates a new Server. The record store is injected so it can be
// shared with other components; the telemetry recorder may be nil.
func New(config Config, store record.Store, recorder *telemetry.Recorder, logger *zap.Logger) (*Server, error) {
	if config.Provider == "" {
		return nil, errors.New("provider is required")
	}

	parser, err := provider.New(config.Provider)
	if err != nil {
		return nil, fmt.Errorf("could not create provider: %w", err)
	}

	client, err := modelcall.NewClient(modelcall.ClientConfig{
		BaseURL: config.Upstream,
		APIKey:  config.APIKey,
		Parser:  parser,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create model client: %w", err)
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		// Enable streaming
		StreamRequestBody: true,
	})

	// Add compression middleware to handle responses
	app.Use(compress.New())

	wp, err := worker.NewPool(&worker.Config{
		Store:      store,
		NumWorkers: config.NumWorkers,
		QueueSize:  config.QueueSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	s := &Server{
		config:     config,
		client:     client,
		store:      store,
		workerPool: wp,
		recorder:   recorder,
		logger:     logger,
		app:        app,
	}

	app.Get("/healthz", s.handleHealth)
	app.Post("/v1/object", s.handleGenerate)
	app.Post("/v1/object/stream", s.handleGenerateStream)
	app.Get("/v1/generations", s.handleListGenerations)
	app.Get("/v1/generations/:id", s.handleGetGeneration)

	return s, nil
}

// Run starts the server on the configured listening address.
func (s *Server) Run() error {
	s.logger.Info("starting server",
		zap.String("listen", s.config.ListenAddr),
		zap.String("provider", s.config.Provider),
		zap.String("upstream", s.config.Upstream),
	)

	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener starts the server using the provided listener.
func (s *Server) RunWithListener(listener net.Listener) error {
	s.logger.Info("starting server",
		zap.String("listen", listener.Addr().String()),
		zap.String("provider", s.config.Provider),
		zap.String("upstream", s.config.Upstream),
	)

	return s.app.Listener(listener)
}

// Close gracefully shuts down the server and waits for the worker pool to drain.
func (s *Server) Close() error {
	err := s.app.Shutdown()
	s.workerPool.Close()
	return err
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
