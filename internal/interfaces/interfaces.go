// Package interfaces defines the service contracts of the quiz archive worker
package interfaces

import (
	"context"

	"github.com/google/uuid"

	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

// HostAPI is the versioned adapter for one LMS host connection. An instance
// is bound to a single job's endpoints, credentials and archive target at
// construction time.
type HostAPI interface {
	// CheckConnection probes the host webservice with the job's token. It
	// returns nil only when the host answers the probe in a way that proves
	// the token is usable.
	CheckConnection(ctx context.Context) error

	// UpdateJobStatus pushes a job status to the host. Failures are returned
	// but callers treat them as non-fatal.
	UpdateJobStatus(ctx context.Context, jobid uuid.UUID, status models.JobStatus, extras *models.StatusExtras) error

	// GetAttemptData fetches the rendered report source and attachment list
	// for one attempt.
	GetAttemptData(ctx context.Context, jobid uuid.UUID, attemptid int64, opts models.AttemptReportOptions) (*models.AttemptReport, error)

	// GetAttemptsMetadata fetches the metadata rows for all listed attempts,
	// batching requests as needed.
	GetAttemptsMetadata(ctx context.Context, jobid uuid.UUID, attemptids []int64) ([]models.AttemptMetadata, error)

	// GetBackupStatus polls the state of one course backup.
	GetBackupStatus(ctx context.Context, jobid uuid.UUID, backupid string) (models.BackupStatus, error)

	// RemoteFileMetadata issues a HEAD request for a downloadable file and
	// returns its content type and length. Length is -1 when the host did
	// not provide one.
	RemoteFileMetadata(ctx context.Context, downloadURL string) (contentType string, contentLength int64, err error)

	// DownloadFile streams a host file to disk, enforcing the size cap and
	// verifying the optional SHA-1 checksum. Returns the number of bytes
	// written.
	DownloadFile(ctx context.Context, req models.DownloadRequest) (int64, error)

	// UploadArtifact pushes the finished archive to the host upload endpoint
	// and returns the file handle assigned by the host.
	UploadArtifact(ctx context.Context, path string) (*models.UploadMetadata, error)

	// ProcessUploadedArtifact triggers host-side processing of an uploaded
	// artifact, echoing the upload handle and the artifact checksum.
	ProcessUploadedArtifact(ctx context.Context, jobid uuid.UUID, upload *models.UploadMetadata, sha256sum string) error

	// BaseURL returns the host base URL the adapter was constructed with.
	BaseURL() string
}

// HostAPIFactory builds a HostAPI for a decoded request. Each worker API
// version supplies its own factory.
type HostAPIFactory func(conn models.HostConnection, target models.ArchiveTarget) (HostAPI, error)

// ReportRenderer drives a headless browser. One session is created per job
// and renders all of the job's attempt pages.
type ReportRenderer interface {
	NewSession(ctx context.Context, opts models.RenderOptions) (RenderSession, error)
}

// RenderSession renders report pages into PDF files until closed.
type RenderSession interface {
	RenderPage(ctx context.Context, req models.RenderPageRequest) error
	Close() error
}

// ArtifactPostProcessor transforms rendered PDFs after export, e.g. image
// recompression.
type ArtifactPostProcessor interface {
	OptimizePDF(ctx context.Context, path string, opts models.ImageOptimize) error
}
