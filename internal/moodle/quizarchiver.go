package moodle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/bobmcallan/quiz-archive-worker/internal/interfaces"
	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

// Webservice function names of the legacy quiz_archiver host plugin.
const (
	qaWSFuncArchive             = "quiz_archiver_generate_attempt_report"
	qaWSFuncProcessUpload       = "quiz_archiver_process_uploaded_artifact"
	qaWSFuncGetBackupStatus     = "quiz_archiver_get_backup_status"
	qaWSFuncUpdateJobStatus     = "quiz_archiver_update_job_status"
	qaWSFuncGetAttemptsMetadata = "quiz_archiver_get_attempts_metadata"
)

// QuizArchiver is the host API adapter for the legacy quiz_archiver plugin
// (worker API version 7). It addresses the quiz by the courseid, cmid and
// quizid triple.
type QuizArchiver struct {
	*client
}

// NewQuizArchiver creates an adapter bound to one job's connection and
// archive target.
func NewQuizArchiver(conn models.HostConnection, target models.ArchiveTarget, opts ...ClientOption) (*QuizArchiver, error) {
	c, err := newClient(conn, target, opts...)
	if err != nil {
		return nil, err
	}
	return &QuizArchiver{client: c}, nil
}

// CheckConnection probes the host webservice with the job's token.
func (a *QuizArchiver) CheckConnection(ctx context.Context) error {
	return a.checkConnection(ctx, qaWSFuncUpdateJobStatus)
}

// UpdateJobStatus pushes a job status to the host, optionally with progress
// extras.
func (a *QuizArchiver) UpdateJobStatus(ctx context.Context, jobid uuid.UUID, status models.JobStatus, extras *models.StatusExtras) error {
	params := a.wsParams(qaWSFuncUpdateJobStatus)
	params.Set("jobid", jobid.String())
	params.Set("status", string(status))

	if extras != nil {
		encoded, err := json.Marshal(extras)
		if err != nil {
			return fmt.Errorf("failed to encode statusextras: %w", err)
		}
		params.Set("statusextras", string(encoded))
	}

	var resp statusResponse
	if err := a.call(ctx, DefaultTimeout, params, &resp); err != nil {
		return err
	}
	if resp.Status != "OK" {
		return fmt.Errorf("host rejected job status update to %s", status)
	}
	return nil
}

// GetBackupStatus polls the state of one course backup.
func (a *QuizArchiver) GetBackupStatus(ctx context.Context, jobid uuid.UUID, backupid string) (models.BackupStatus, error) {
	params := a.wsParams(qaWSFuncGetBackupStatus)
	params.Set("jobid", jobid.String())
	params.Set("backupid", backupid)

	body, err := a.callRaw(ctx, DefaultTimeout, params)
	if err != nil {
		return "", fmt.Errorf("failed to get status of backup %s for job %s: %w", backupid, jobid, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("failed to get status of backup %s for job %s: invalid JSON", backupid, jobid)
	}
	if err := hostError(qaWSFuncGetBackupStatus, raw); err != nil {
		return "", err
	}

	status, _ := raw["status"].(string)
	switch models.BackupStatus(status) {
	case models.BackupStatusPending, models.BackupStatusSuccess, models.BackupStatusFailed:
		return models.BackupStatus(status), nil
	}
	return "", fmt.Errorf("retrieving status of backup %q failed with %q", backupid, status)
}

// GetAttemptsMetadata fetches the metadata rows for all listed attempts in
// batches. The host must echo the archive target of this job.
func (a *QuizArchiver) GetAttemptsMetadata(ctx context.Context, jobid uuid.UUID, attemptids []int64) ([]models.AttemptMetadata, error) {
	var metadata []models.AttemptMetadata

	for _, batch := range batchAttemptIDs(attemptids) {
		params := a.wsParams(qaWSFuncGetAttemptsMetadata)
		params.Set("jobid", jobid.String())
		params.Set("courseid", fmt.Sprintf("%d", a.target.CourseID))
		params.Set("cmid", fmt.Sprintf("%d", a.target.CmID))
		params.Set("quizid", fmt.Sprintf("%d", a.target.QuizID))
		for _, id := range batch {
			params.Add("attemptids[]", fmt.Sprintf("%d", id))
		}

		body, err := a.callRaw(ctx, DefaultTimeout, params)
		if err != nil {
			return nil, fmt.Errorf("call to webservice function %s failed: %w", qaWSFuncGetAttemptsMetadata, err)
		}

		page, err := parseMetadataPage(qaWSFuncGetAttemptsMetadata, body)
		if err != nil {
			return nil, err
		}

		if page.CourseID != a.target.CourseID || page.CmID != a.target.CmID || page.QuizID != a.target.QuizID {
			return nil, fmt.Errorf("webservice function %s returned an invalid response", qaWSFuncGetAttemptsMetadata)
		}

		metadata = append(metadata, page.Attempts...)
		a.logger.Debug().
			Int("fetched", len(metadata)).
			Int("total", len(attemptids)).
			Msg("Fetched attempt metadata batch")
	}

	return metadata, nil
}

// GetAttemptData fetches the report source and attachment list for one
// attempt. The host must echo the archive target of this job.
func (a *QuizArchiver) GetAttemptData(ctx context.Context, jobid uuid.UUID, attemptid int64, opts models.AttemptReportOptions) (*models.AttemptReport, error) {
	params := a.wsParams(qaWSFuncArchive)
	params.Set("jobid", jobid.String())
	params.Set("courseid", fmt.Sprintf("%d", a.target.CourseID))
	params.Set("cmid", fmt.Sprintf("%d", a.target.CmID))
	params.Set("quizid", fmt.Sprintf("%d", a.target.QuizID))
	applyAttemptParams(params, attemptid, opts)

	body, err := a.callRaw(ctx, DefaultTimeout, params)
	if err != nil {
		return nil, fmt.Errorf("call to webservice function %s failed: %w", qaWSFuncArchive, err)
	}

	data, err := parseAttemptReport(qaWSFuncArchive, body, attemptid, "cmid", "courseid", "quizid")
	if err != nil {
		return nil, err
	}

	if data.CourseID != a.target.CourseID || data.CmID != a.target.CmID || data.QuizID != a.target.QuizID {
		return nil, fmt.Errorf("webservice function %s returned an invalid response", qaWSFuncArchive)
	}

	return &models.AttemptReport{
		AttemptID:   data.AttemptID,
		FolderName:  data.FolderName,
		FileName:    data.Filename,
		HTML:        data.Report,
		Attachments: data.Attachments,
	}, nil
}

// ProcessUploadedArtifact triggers host-side processing of the uploaded
// archive.
func (a *QuizArchiver) ProcessUploadedArtifact(ctx context.Context, jobid uuid.UUID, upload *models.UploadMetadata, sha256sum string) error {
	params := a.wsParams(qaWSFuncProcessUpload)
	params.Set("jobid", jobid.String())
	params.Set("artifact_component", upload.Component)
	params.Set("artifact_contextid", fmt.Sprintf("%d", upload.ContextID))
	params.Set("artifact_userid", fmt.Sprintf("%d", upload.UserID))
	params.Set("artifact_filearea", upload.FileArea)
	params.Set("artifact_filename", upload.Filename)
	params.Set("artifact_filepath", upload.FilePath)
	params.Set("artifact_itemid", fmt.Sprintf("%d", upload.ItemID))
	params.Set("artifact_sha256sum", sha256sum)

	body, err := a.callRaw(ctx, ExtendedTimeout, params)
	if err != nil {
		return fmt.Errorf("failed to call upload processing hook %s: %w", qaWSFuncProcessUpload, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("upload processing hook %s returned invalid JSON", qaWSFuncProcessUpload)
	}
	if err := hostError(qaWSFuncProcessUpload, raw); err != nil {
		return err
	}

	if status, _ := raw["status"].(string); status != "OK" {
		return fmt.Errorf("host failed to process uploaded artifact with status %q", status)
	}
	return nil
}

var _ interfaces.HostAPI = (*QuizArchiver)(nil)
