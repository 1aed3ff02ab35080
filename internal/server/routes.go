package server

import (
	"net/http"

	"github.com/bobmcallan/quiz-archive-worker/internal/metrics"
)

// registerRoutes sets up all API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/status", s.handleWorkerStatus)
	mux.HandleFunc("/status/", s.handleStatusJob)
	mux.HandleFunc("/jobs", s.handleJobs)
	mux.HandleFunc("/archive", s.handleArchiveQuizArchiver)
	mux.HandleFunc("/archive/v1", s.handleArchiveArchivingmod)
	mux.Handle("/metrics", metrics.Handler())
}
