// Package server exposes definitions, runs and execution records over HTTP.
//
// Runs are streamed to the caller as Server-Sent Events using the stream
// package. The run keeps going when the client disconnects; its outcome is
// always available from the ledger afterwards.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/deepnoodle-ai/autopilot"
	"github.com/deepnoodle-ai/autopilot/slogger"
)

// Options holds the dependencies and settings of a Server.
type Options struct {
	// Required dependencies.
	Engine      *autopilot.Engine
	Definitions autopilot.DefinitionStore
	Ledger      autopilot.Ledger
	Logger      slogger.Logger

	// HTTP server settings. WriteTimeout does not apply to run streams.
	Addr                string
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
}

// Server is the autopilot HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     slogger.Logger
}

const defaultMaxRequestBodyBytes = 1 << 20

// New creates a server with all routes configured.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slogger.DefaultLogger
	}
	if opts.MaxRequestBodyBytes <= 0 {
		opts.MaxRequestBodyBytes = defaultMaxRequestBodyBytes
	}
	h := &handlers{
		engine:       opts.Engine,
		definitions:  opts.Definitions,
		ledger:       opts.Ledger,
		logger:       opts.Logger,
		maxBodyBytes: opts.MaxRequestBodyBytes,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/definitions", h.listDefinitions)
	mux.HandleFunc("GET /v1/definitions/{id}", h.getDefinition)
	mux.HandleFunc("PUT /v1/definitions/{id}", h.putDefinition)
	mux.HandleFunc("POST /v1/definitions/{id}/runs", h.runDefinition)
	mux.HandleFunc("GET /v1/definitions/{id}/executions", h.listExecutions)
	mux.HandleFunc("GET /v1/executions/{id}", h.getExecution)
	mux.HandleFunc("POST /v1/match", h.match)
	mux.HandleFunc("GET /health", h.health)

	// Outermost first: request ID, tracing, logging, recovery, handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(opts.Logger, handler)
	handler = loggingMiddleware(opts.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      handler,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		},
		handler: handler,
		logger:  opts.Logger,
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for open ones to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
