// Package server exposes the HTTP API of the quiz archive worker.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bobmcallan/quiz-archive-worker/internal/archiver"
	"github.com/bobmcallan/quiz-archive-worker/internal/common"
	"github.com/bobmcallan/quiz-archive-worker/internal/interfaces"
)

// Server wraps the HTTP server and its handler dependencies.
type Server struct {
	cfg       *common.Config
	logger    *common.Logger
	scheduler *archiver.Scheduler
	server    *http.Server

	// One host API factory per supported worker API version.
	quizArchiverFactory interfaces.HostAPIFactory
	archivingmodFactory interfaces.HostAPIFactory
}

// NewServer creates the HTTP API server.
func NewServer(
	cfg *common.Config,
	logger *common.Logger,
	scheduler *archiver.Scheduler,
	quizArchiverFactory interfaces.HostAPIFactory,
	archivingmodFactory interfaces.HostAPIFactory,
) *Server {
	s := &Server{
		cfg:                 cfg,
		logger:              logger,
		scheduler:           scheduler,
		quizArchiverFactory: quizArchiverFactory,
		archivingmodFactory: archivingmodFactory,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := applyMiddleware(mux, logger)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.server.Addr).
		Msg("Starting archive worker API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
