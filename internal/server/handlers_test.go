package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/quiz-archive-worker/internal/archiver"
	"github.com/bobmcallan/quiz-archive-worker/internal/common"
	"github.com/bobmcallan/quiz-archive-worker/internal/interfaces"
	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

// stubHostAPI satisfies the host API contract for admission tests. Only the
// connection probe is exercised by the handlers.
type stubHostAPI struct {
	checkErr error
}

func (s *stubHostAPI) CheckConnection(ctx context.Context) error { return s.checkErr }
func (s *stubHostAPI) BaseURL() string                           { return "http://moodle.example" }
func (s *stubHostAPI) UpdateJobStatus(ctx context.Context, jobid uuid.UUID, status models.JobStatus, extras *models.StatusExtras) error {
	return nil
}
func (s *stubHostAPI) GetAttemptData(ctx context.Context, jobid uuid.UUID, attemptid int64, opts models.AttemptReportOptions) (*models.AttemptReport, error) {
	return nil, nil
}
func (s *stubHostAPI) GetAttemptsMetadata(ctx context.Context, jobid uuid.UUID, attemptids []int64) ([]models.AttemptMetadata, error) {
	return nil, nil
}
func (s *stubHostAPI) GetBackupStatus(ctx context.Context, jobid uuid.UUID, backupid string) (models.BackupStatus, error) {
	return models.BackupStatusSuccess, nil
}
func (s *stubHostAPI) RemoteFileMetadata(ctx context.Context, downloadURL string) (string, int64, error) {
	return "", -1, nil
}
func (s *stubHostAPI) DownloadFile(ctx context.Context, req models.DownloadRequest) (int64, error) {
	return 0, nil
}
func (s *stubHostAPI) UploadArtifact(ctx context.Context, path string) (*models.UploadMetadata, error) {
	return nil, nil
}
func (s *stubHostAPI) ProcessUploadedArtifact(ctx context.Context, jobid uuid.UUID, upload *models.UploadMetadata, sha256sum string) error {
	return nil
}

type stubRenderer struct{}

func (stubRenderer) NewSession(ctx context.Context, opts models.RenderOptions) (interfaces.RenderSession, error) {
	return stubSession{}, nil
}

type stubSession struct{}

func (stubSession) RenderPage(ctx context.Context, req models.RenderPageRequest) error { return nil }
func (stubSession) Close() error                                                       { return nil }

type stubPostproc struct{}

func (stubPostproc) OptimizePDF(ctx context.Context, path string, opts models.ImageOptimize) error {
	return nil
}

func newTestServer(t *testing.T, api interfaces.HostAPI, mutateCfg func(*common.Config)) *Server {
	t.Helper()

	cfg := common.NewDefaultConfig()
	if mutateCfg != nil {
		mutateCfg(cfg)
	}
	logger := common.NewSilentLogger()
	scheduler := archiver.NewScheduler(cfg, logger, stubRenderer{}, stubPostproc{})

	factory := func(conn models.HostConnection, target models.ArchiveTarget) (interfaces.HostAPI, error) {
		return api, nil
	}
	return NewServer(cfg, logger, scheduler, factory, factory)
}

const quizArchiverRequestBody = `{
	"api_version": 7,
	"moodle_base_url": "http://moodle.example",
	"moodle_ws_url": "http://moodle.example/webservice/rest/server.php",
	"moodle_upload_url": "http://moodle.example/webservice/upload.php",
	"wstoken": "token",
	"courseid": 3,
	"cmid": 7,
	"quizid": 11,
	"archive_filename": "quiz-archive-cid3-quizid11",
	"task_archive_quiz_attempts": {
		"attemptids": [1, 2],
		"sections": {"header": "1", "question": true, "attachments": 1},
		"fetch_metadata": true,
		"paper_format": "A4",
		"keep_html_files": false,
		"foldername_pattern": "${username}/${attemptid}",
		"filename_pattern": "attempt-${attemptid}",
		"image_optimize": false
	},
	"task_moodle_backups": [
		{"backupid": "b1", "filename": "backup.mbz", "file_download_url": "http://moodle.example/pluginfile/backup.mbz"}
	]
}`

const archivingmodRequestBody = `{
	"api_version": 1,
	"moodle_api": {
		"base_url": "http://moodle.example",
		"webservice_url": "http://moodle.example/webservice/rest/server.php",
		"upload_url": "http://moodle.example/webservice/upload.php",
		"wstoken": "token"
	},
	"taskid": 1337,
	"job": {
		"archive_filename": "quiz-archive",
		"attemptids": [4],
		"report_sections": {"header": true},
		"fetch_metadata": false,
		"fetch_attachments": true,
		"paper_format": "Letter",
		"keep_html_files": false,
		"foldername_pattern": "${attemptid}",
		"filename_pattern": "attempt-${attemptid}",
		"image_optimize": false
	}
}`

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleIndex(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, nil)

	rec := doRequest(t, s, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp indexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, common.AppName, resp.App)
	assert.Equal(t, common.Version, resp.Version)
}

func TestHandleIndex_UnknownPath(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleVersion(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "version")
}

func TestHandleStatus_IdleWorker(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.WorkerStatusIdle, resp.Status)
	assert.Zero(t, resp.QueueLen)
	assert.Contains(t, rec.Body.String(), `"queue_len"`)
}

func TestHandleJobs_Empty(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandleArchive_Success(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, nil)

	rec := doRequest(t, s, http.MethodPost, "/archive", quizArchiverRequestBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The host plugin reads the job ID from the jobid key.
	assert.Contains(t, rec.Body.String(), `"jobid"`)

	var resp admissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, uuid.Nil, resp.JobID)
	assert.Equal(t, models.JobStatusAwaitingProcessing, resp.Status)

	// The admitted job is visible on the job endpoints.
	rec = doRequest(t, s, http.MethodGet, "/status/"+resp.JobID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/jobs", "")
	var list []models.JobSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, resp.JobID, list[0].ID)
}

func TestHandleArchive_InvalidJSON(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, nil)
	rec := doRequest(t, s, http.MethodPost, "/archive", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleArchive_APIVersionMismatch(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, nil)
	body := strings.Replace(quizArchiverRequestBody, `"api_version": 7`, `"api_version": 3`, 1)
	rec := doRequest(t, s, http.MethodPost, "/archive", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "API version mismatch")
}

func TestHandleArchive_ConnectionProbeFails(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{checkErr: assert.AnError}, nil)
	rec := doRequest(t, s, http.MethodPost, "/archive", quizArchiverRequestBody)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Could not establish a connection to Moodle webservice API")

	// Nothing may be queued after a failed probe.
	rec = doRequest(t, s, http.MethodGet, "/jobs", "")
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandleArchive_QueueFull(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, func(cfg *common.Config) {
		cfg.Worker.QueueSize = 1
	})

	rec := doRequest(t, s, http.MethodPost, "/archive", quizArchiverRequestBody)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/archive", quizArchiverRequestBody)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), queueFullMessage)
}

func TestHandleArchiveV1_Success(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, nil)

	rec := doRequest(t, s, http.MethodPost, "/archive/v1", archivingmodRequestBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp admissionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, uuid.Nil, resp.JobID)
	assert.Equal(t, models.JobStatusAwaitingProcessing, resp.Status)
}

func TestHandleArchiveV1_WrongVersion(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, nil)
	body := strings.Replace(archivingmodRequestBody, `"api_version": 1`, `"api_version": 7`, 1)
	rec := doRequest(t, s, http.MethodPost, "/archive/v1", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStatusJob_NotFound(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/status/"+uuid.New().String(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Job not found")
}

func TestHandleStatusJob_InvalidID(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/status/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, nil)

	rec := doRequest(t, s, http.MethodGet, "/archive", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quiz_archive_worker")
}

func TestWorkerStatusTransitions(t *testing.T) {
	s := newTestServer(t, &stubHostAPI{}, func(cfg *common.Config) {
		cfg.Worker.QueueSize = 1
	})

	rec := doRequest(t, s, http.MethodGet, "/status", "")
	assert.JSONEq(t, `{"status": "IDLE", "queue_len": 0}`, rec.Body.String())

	doRequest(t, s, http.MethodPost, "/archive", quizArchiverRequestBody)

	rec = doRequest(t, s, http.MethodGet, "/status", "")
	assert.JSONEq(t, `{"status": "BUSY", "queue_len": 1}`, rec.Body.String())
}
