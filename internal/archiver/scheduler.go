package archiver

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/quiz-archive-worker/internal/common"
	"github.com/bobmcallan/quiz-archive-worker/internal/interfaces"
	"github.com/bobmcallan/quiz-archive-worker/internal/metrics"
	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

// Scheduler owns the bounded job queue and executes jobs one at a time. Each
// job runs under the configured request timeout, jobs that exceed it are
// terminated and reported as timed out.
type Scheduler struct {
	cfg      *common.Config
	logger   *common.Logger
	renderer interfaces.ReportRenderer
	postproc interfaces.ArtifactPostProcessor

	queue   chan *Job
	history *History

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler with the configured queue and history
// capacity.
func NewScheduler(cfg *common.Config, logger *common.Logger, renderer interfaces.ReportRenderer, postproc interfaces.ArtifactPostProcessor) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		logger:   logger,
		renderer: renderer,
		postproc: postproc,
		queue:    make(chan *Job, cfg.Worker.QueueSize),
		history:  NewHistory(cfg.Worker.HistorySize),
	}
}

// NewJob wraps a descriptor into a job bound to this scheduler's
// configuration and rendering backends.
func (s *Scheduler) NewJob(desc *JobDescriptor) *Job {
	return NewJob(desc, s.cfg, s.logger, s.renderer, s.postproc)
}

// safeGo launches a goroutine with panic recovery and logging.
func (s *Scheduler) safeGo(name string, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in scheduler goroutine")
			}
		}()
		fn()
	}()
}

// Start launches the processing loop. Safe to call multiple times, any
// existing loop is stopped first.
func (s *Scheduler) Start() {
	if s.cancel != nil {
		s.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.safeGo("processor", func() { s.processLoop(ctx) })

	s.logger.Info().
		Int("queue_size", s.cfg.Worker.QueueSize).
		Dur("request_timeout", s.cfg.Worker.RequestTimeout()).
		Msg("Job scheduler started")
}

// Stop cancels the processing loop and waits for the running job to
// terminate.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()
	s.logger.Info().Msg("Job scheduler stopped")
}

// Enqueue admits a job into the queue without blocking. The job is recorded
// in the history and moves to AWAITING_PROCESSING on success.
func (s *Scheduler) Enqueue(job *Job) error {
	select {
	case s.queue <- job:
	default:
		return ErrQueueFull
	}

	s.history.Append(job)
	job.setStatus(context.Background(), models.JobStatusAwaitingProcessing, false, nil)
	metrics.QueueLength.Set(float64(len(s.queue)))

	s.logger.Info().
		Str("job_id", job.ID().String()).
		Int("queue_length", len(s.queue)).
		Msg("Enqueued archive job")
	return nil
}

// QueueFull reports whether the queue has no free slot left.
func (s *Scheduler) QueueFull() bool {
	return len(s.queue) == cap(s.queue)
}

// QueueLength returns the number of jobs waiting in the queue.
func (s *Scheduler) QueueLength() int {
	return len(s.queue)
}

// WorkerStatus derives the coarse worker state from queue occupancy alone. An
// empty queue reports IDLE even while a dequeued job is still executing.
func (s *Scheduler) WorkerStatus() models.WorkerStatus {
	switch {
	case s.QueueFull():
		return models.WorkerStatusBusy
	case len(s.queue) == 0:
		return models.WorkerStatusIdle
	default:
		return models.WorkerStatusActive
	}
}

// GetJob returns a job from the history by its ID.
func (s *Scheduler) GetJob(id uuid.UUID) (*Job, error) {
	return s.history.Find(id)
}

// Jobs returns summaries of all jobs in the history, oldest first.
func (s *Scheduler) Jobs() []models.JobSummary {
	return s.history.Summaries()
}

// processLoop drains the queue one job at a time.
func (s *Scheduler) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			metrics.QueueLength.Set(float64(len(s.queue)))
			s.runJob(ctx, job)
		}
	}
}

// runJob executes a single job under the request timeout.
func (s *Scheduler) runJob(ctx context.Context, job *Job) {
	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.Worker.RequestTimeout())
	defer cancel()

	start := time.Now()
	err := job.Execute(jobCtx)
	elapsed := time.Since(start)

	metrics.JobDuration.Observe(elapsed.Seconds())
	metrics.JobsCompleted.WithLabelValues(string(job.Status())).Inc()

	if err != nil {
		s.logger.Warn().
			Str("job_id", job.ID().String()).
			Str("status", string(job.Status())).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("Archive job did not complete")
		return
	}
	s.logger.Debug().
		Str("job_id", job.ID().String()).
		Dur("elapsed", elapsed).
		Msg("Archive job completed")
}
