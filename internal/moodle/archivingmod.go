package moodle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/bobmcallan/quiz-archive-worker/internal/interfaces"
	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

// Webservice function names of the task-based archivingmod_quiz host plugin.
const (
	amWSFuncArchive             = "archivingmod_quiz_generate_attempt_report"
	amWSFuncProcessUpload       = "archivingmod_quiz_process_uploaded_artifact"
	amWSFuncUpdateTaskStatus    = "archivingmod_quiz_update_task_status"
	amWSFuncGetAttemptsMetadata = "archivingmod_quiz_get_attempts_metadata"
)

// taskStatusCodes translates job statuses into the numeric activity
// archiving task status values of the task-based host API.
var taskStatusCodes = map[models.JobStatus]int{
	models.JobStatusUninitialized:      20,
	models.JobStatusAwaitingProcessing: 40,
	models.JobStatusRunning:            100,
	models.JobStatusWaitingForBackup:   200,
	models.JobStatusFinalizing:         200,
	models.JobStatusFinished:           220,
	models.JobStatusFailed:             250,
	models.JobStatusTimeout:            251,
}

// Archivingmod is the host API adapter for the task-based archivingmod_quiz
// plugin (worker API version 1). It addresses the quiz by an opaque task ID
// and does not support course backups.
type Archivingmod struct {
	*client
}

// NewArchivingmod creates an adapter bound to one job's connection and task.
func NewArchivingmod(conn models.HostConnection, target models.ArchiveTarget, opts ...ClientOption) (*Archivingmod, error) {
	c, err := newClient(conn, target, opts...)
	if err != nil {
		return nil, err
	}
	return &Archivingmod{client: c}, nil
}

// CheckConnection probes the host webservice with the job's token.
func (a *Archivingmod) CheckConnection(ctx context.Context) error {
	return a.checkConnection(ctx, amWSFuncUpdateTaskStatus)
}

// UpdateJobStatus pushes the numeric task status translation of a job
// status to the host.
func (a *Archivingmod) UpdateJobStatus(ctx context.Context, jobid uuid.UUID, status models.JobStatus, extras *models.StatusExtras) error {
	code, ok := taskStatusCodes[status]
	if !ok {
		code = 255
	}

	params := a.wsParams(amWSFuncUpdateTaskStatus)
	params.Set("uuid", jobid.String())
	params.Set("taskid", fmt.Sprintf("%d", a.target.TaskID))
	params.Set("status", fmt.Sprintf("%d", code))
	if extras != nil {
		params.Set("progress", fmt.Sprintf("%d", extras.Progress))
	}

	var resp statusResponse
	if err := a.call(ctx, DefaultTimeout, params, &resp); err != nil {
		return err
	}
	if resp.Status != "OK" {
		return fmt.Errorf("host rejected task status update to %s", status)
	}
	return nil
}

// GetBackupStatus is unsupported, the task-based host API carries no course
// backup tasks.
func (a *Archivingmod) GetBackupStatus(ctx context.Context, jobid uuid.UUID, backupid string) (models.BackupStatus, error) {
	return "", fmt.Errorf("the archivingmod_quiz host API does not support course backups")
}

// GetAttemptsMetadata fetches the metadata rows for all listed attempts in
// batches.
func (a *Archivingmod) GetAttemptsMetadata(ctx context.Context, jobid uuid.UUID, attemptids []int64) ([]models.AttemptMetadata, error) {
	var metadata []models.AttemptMetadata

	for _, batch := range batchAttemptIDs(attemptids) {
		params := a.wsParams(amWSFuncGetAttemptsMetadata)
		params.Set("uuid", jobid.String())
		params.Set("taskid", fmt.Sprintf("%d", a.target.TaskID))
		for _, id := range batch {
			params.Add("attemptids[]", fmt.Sprintf("%d", id))
		}

		body, err := a.callRaw(ctx, DefaultTimeout, params)
		if err != nil {
			return nil, fmt.Errorf("call to webservice function %s failed: %w", amWSFuncGetAttemptsMetadata, err)
		}

		page, err := parseMetadataPage(amWSFuncGetAttemptsMetadata, body)
		if err != nil {
			return nil, err
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
// attempt.
func (a *Archivingmod) GetAttemptData(ctx context.Context, jobid uuid.UUID, attemptid int64, opts models.AttemptReportOptions) (*models.AttemptReport, error) {
	params := a.wsParams(amWSFuncArchive)
	params.Set("uuid", jobid.String())
	params.Set("taskid", fmt.Sprintf("%d", a.target.TaskID))
	applyAttemptParams(params, attemptid, opts)

	body, err := a.callRaw(ctx, DefaultTimeout, params)
	if err != nil {
		return nil, fmt.Errorf("call to webservice function %s failed: %w", amWSFuncArchive, err)
	}

	data, err := parseAttemptReport(amWSFuncArchive, body, attemptid)
	if err != nil {
		return nil, err
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
func (a *Archivingmod) ProcessUploadedArtifact(ctx context.Context, jobid uuid.UUID, upload *models.UploadMetadata, sha256sum string) error {
	params := a.wsParams(amWSFuncProcessUpload)
	params.Set("uuid", jobid.String())
	params.Set("taskid", fmt.Sprintf("%d", a.target.TaskID))
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
		return fmt.Errorf("failed to call upload processing hook %s: %w", amWSFuncProcessUpload, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("upload processing hook %s returned invalid JSON", amWSFuncProcessUpload)
	}
	if err := hostError(amWSFuncProcessUpload, raw); err != nil {
		return err
	}

	if status, _ := raw["status"].(string); status != "OK" {
		return fmt.Errorf("host failed to process uploaded artifact with status %q", status)
	}
	return nil
}

var _ interfaces.HostAPI = (*Archivingmod)(nil)
