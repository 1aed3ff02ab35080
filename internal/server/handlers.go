package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/bobmcallan/quiz-archive-worker/internal/archiver"
	"github.com/bobmcallan/quiz-archive-worker/internal/common"
	"github.com/bobmcallan/quiz-archive-worker/internal/metrics"
	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

// queueFullMessage is the exact error string host plugins match on when the
// worker is saturated.
const queueFullMessage = "Maximum number of queued jobs exceeded."

// indexResponse is the body of the index endpoint.
type indexResponse struct {
	App     string `json:"app"`
	Version string `json:"version"`
}

// statusResponse is the body of the worker status endpoint.
type statusResponse struct {
	Status   models.WorkerStatus `json:"status"`
	QueueLen int                 `json:"queue_len"`
}

// admissionResponse is the body returned for an accepted archive request. The
// host plugin reads the job ID from the jobid key.
type admissionResponse struct {
	JobID  uuid.UUID        `json:"jobid"`
	Status models.JobStatus `json:"status"`
}

// handleIndex reports the worker identity.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, indexResponse{
		App:     common.AppName,
		Version: common.Version,
	})
}

// handleVersion returns build information.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.Version,
		"build":   common.Build,
		"commit":  common.GitCommit,
	})
}

// handleWorkerStatus reports the worker load state and queue length.
func (s *Server) handleWorkerStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, statusResponse{
		Status:   s.scheduler.WorkerStatus(),
		QueueLen: s.scheduler.QueueLength(),
	})
}

// handleJobs returns summaries of all jobs in the history, oldest first.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobs := s.scheduler.Jobs()
	if jobs == nil {
		jobs = []models.JobSummary{}
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// handleStatusJob returns the summary of a single job.
func (s *Server) handleStatusJob(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id, err := uuid.Parse(PathParam(r, "/status/", ""))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := s.scheduler.GetJob(id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	WriteJSON(w, http.StatusOK, job.Summary())
}

// handleArchiveQuizArchiver admits a legacy quiz_archiver archive request
// (worker API version 7).
func (s *Server) handleArchiveQuizArchiver(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.QuizArchiverRequest
	if !DecodeJSON(w, r, &req) {
		metrics.JobsRejected.WithLabelValues("invalid_json").Inc()
		return
	}

	s.admitJob(w, r, func() (*archiver.JobDescriptor, error) {
		return archiver.DescriptorFromQuizArchiverRequest(&req, s.quizArchiverFactory)
	})
}

// handleArchiveArchivingmod admits a task-based archivingmod_quiz archive
// request (worker API version 1).
func (s *Server) handleArchiveArchivingmod(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.ArchivingmodRequest
	if !DecodeJSON(w, r, &req) {
		metrics.JobsRejected.WithLabelValues("invalid_json").Inc()
		return
	}

	s.admitJob(w, r, func() (*archiver.JobDescriptor, error) {
		return archiver.DescriptorFromArchivingmodRequest(&req, s.archivingmodFactory)
	})
}

// admitJob runs the shared admission sequence: validate the request, reject
// early when the queue is full, probe the host connection, then enqueue.
func (s *Server) admitJob(w http.ResponseWriter, r *http.Request, build func() (*archiver.JobDescriptor, error)) {
	desc, err := build()
	if err != nil {
		metrics.JobsRejected.WithLabelValues("invalid_request").Inc()
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Reject before probing the host, a probe on a saturated worker only
	// delays the inevitable 429.
	if s.scheduler.QueueFull() {
		metrics.JobsRejected.WithLabelValues("queue_full").Inc()
		WriteError(w, http.StatusTooManyRequests, queueFullMessage)
		return
	}

	if err := desc.API.CheckConnection(r.Context()); err != nil {
		s.logger.Warn().Err(err).Str("base_url", desc.API.BaseURL()).Msg("Host connection probe failed")
		metrics.JobsRejected.WithLabelValues("connection_failed").Inc()
		WriteError(w, http.StatusBadRequest, fmt.Sprintf(
			"Could not establish a connection to Moodle webservice API at %q using the provided wstoken.",
			desc.API.BaseURL(),
		))
		return
	}

	job := s.scheduler.NewJob(desc)
	if err := s.scheduler.Enqueue(job); err != nil {
		if errors.Is(err, archiver.ErrQueueFull) {
			metrics.JobsRejected.WithLabelValues("queue_full").Inc()
			WriteError(w, http.StatusTooManyRequests, queueFullMessage)
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	WriteJSON(w, http.StatusOK, admissionResponse{JobID: job.ID(), Status: job.Status()})
}
