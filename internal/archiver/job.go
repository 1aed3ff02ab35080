package archiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/quiz-archive-worker/internal/common"
	"github.com/bobmcallan/quiz-archive-worker/internal/interfaces"
	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

// Job is a single archive job moving through the worker pipeline. All status
// transitions happen on the scheduler goroutine, reads may come from any HTTP
// handler.
type Job struct {
	desc     *JobDescriptor
	cfg      *common.Config
	logger   *common.Logger
	renderer interfaces.ReportRenderer
	postproc interfaces.ArtifactPostProcessor

	mu           sync.RWMutex
	status       models.JobStatus
	lastReported time.Time

	// archivedAttempts maps attempt IDs to their folder inside the archive,
	// written during rendering and read during metadata export.
	archivedAttempts map[int64]string
}

// NewJob wraps a validated descriptor into an executable job. In demo mode
// the workload is truncated to demo limits.
func NewJob(desc *JobDescriptor, cfg *common.Config, logger *common.Logger, renderer interfaces.ReportRenderer, postproc interfaces.ArtifactPostProcessor) *Job {
	jobLogger := &common.Logger{Logger: logger.With().Str("job_id", desc.ID.String()).Logger()}

	if cfg.DemoMode {
		for _, truncation := range desc.ApplyDemoMode() {
			jobLogger.Warn().Msg("Demo mode: " + truncation)
		}
	}

	return &Job{
		desc:             desc,
		cfg:              cfg,
		logger:           jobLogger,
		renderer:         renderer,
		postproc:         postproc,
		status:           models.JobStatusUninitialized,
		archivedAttempts: make(map[int64]string),
	}
}

// ID returns the job's UUID.
func (j *Job) ID() uuid.UUID {
	return j.desc.ID
}

// Status returns the job's current status.
func (j *Job) Status() models.JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Summary returns the wire representation used by the status endpoints.
func (j *Job) Summary() models.JobSummary {
	return models.JobSummary{ID: j.desc.ID, Status: j.Status()}
}

// setStatus updates the local status and, when notify is set, pushes it to
// the host. Host notification failures are logged but never fatal.
func (j *Job) setStatus(ctx context.Context, status models.JobStatus, notify bool, extras *models.StatusExtras) {
	j.mu.Lock()
	j.status = status
	j.mu.Unlock()

	if !notify {
		return
	}
	if err := j.desc.API.UpdateJobStatus(ctx, j.desc.ID, status, extras); err != nil {
		j.logger.Warn().Err(err).Str("status", string(status)).Msg("Failed to push job status to host")
	}
}

// reportProgress pushes the current completion percentage to the host,
// rate-limited to one update per status reporting interval.
func (j *Job) reportProgress(ctx context.Context, progress int) {
	j.mu.Lock()
	if time.Since(j.lastReported) < j.cfg.Worker.StatusReportingInterval() {
		j.mu.Unlock()
		return
	}
	j.lastReported = time.Now()
	status := j.status
	j.mu.Unlock()

	if err := j.desc.API.UpdateJobStatus(ctx, j.desc.ID, status, &models.StatusExtras{Progress: progress}); err != nil {
		j.logger.Warn().Err(err).Int("progress", progress).Msg("Failed to push job progress to host")
	}
}

// Execute runs the full archive pipeline. The final status is always set
// before returning: TIMEOUT when ctx expired, FAILED on any other error,
// FINISHED on success. FINISHED is never pushed to the host, which marks the
// job as completed on its own once the artifact has been processed.
func (j *Job) Execute(ctx context.Context) error {
	j.logger.Info().Msg("Processing archive job")
	j.setStatus(ctx, models.JobStatusRunning, true, &models.StatusExtras{Progress: 0})

	err := j.run(ctx)
	if err != nil {
		// The host is notified on a context detached from the expired job
		// deadline, otherwise the final status update could never get out.
		notifyCtx := context.WithoutCancel(ctx)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			j.logger.Warn().Msg("Job termination requested. Terminated gracefully")
			j.setStatus(notifyCtx, models.JobStatusTimeout, true, nil)
		} else {
			j.logger.Error().Err(err).Msg("Job failed")
			j.setStatus(notifyCtx, models.JobStatusFailed, true, nil)
		}
		return err
	}

	j.setStatus(ctx, models.JobStatusFinished, false, nil)
	j.logger.Info().Msg("Finished job")
	return nil
}

func (j *Job) run(ctx context.Context) error {
	workdir, err := os.MkdirTemp("", "quiz-archive-*")
	if err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	defer os.RemoveAll(workdir)
	j.logger.Debug().Str("workdir", workdir).Msg("Using temporary working directory")

	if j.desc.Attempts != nil {
		if err := j.processAttempts(ctx, workdir); err != nil {
			return err
		}
		if j.desc.Attempts.FetchMetadata {
			if err := j.exportAttemptsMetadata(ctx, workdir); err != nil {
				return err
			}
		}
	}

	if len(j.desc.Backups) > 0 {
		j.setStatus(ctx, models.JobStatusWaitingForBackup, true, nil)
		if err := j.processBackups(ctx, workdir); err != nil {
			return err
		}
	}

	j.setStatus(ctx, models.JobStatusFinalizing, true, nil)

	j.logger.Info().Msg("Calculating file hashes")
	if err := writeHashSidecars(ctx, workdir); err != nil {
		return err
	}

	j.logger.Info().Msg("Generating final archive")
	stagingDir, err := os.MkdirTemp("", "quiz-archive-artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create artifact staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	artifactPath := filepath.Join(stagingDir, j.desc.ArchiveFilename+".tar.gz")
	if err := packArchive(ctx, workdir, artifactPath); err != nil {
		return err
	}

	sha256sum, err := common.HashFileSHA256(artifactPath)
	if err != nil {
		return fmt.Errorf("failed to hash artifact: %w", err)
	}

	upload, err := j.desc.API.UploadArtifact(ctx, artifactPath)
	if err != nil {
		return err
	}
	if err := j.desc.API.ProcessUploadedArtifact(ctx, j.desc.ID, upload, sha256sum); err != nil {
		return err
	}
	j.logger.Info().Msg("Processed uploaded artifact successfully")

	return nil
}
