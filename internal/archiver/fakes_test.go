package archiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/bobmcallan/quiz-archive-worker/internal/common"
	"github.com/bobmcallan/quiz-archive-worker/internal/interfaces"
	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

func testConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Worker.StatusReportingIntervalSec = 0
	cfg.Worker.BackupStatusRetrySec = 0
	return cfg
}

func testLogger() *common.Logger {
	return common.NewSilentLogger()
}

type statusUpdate struct {
	Status models.JobStatus
	Extras *models.StatusExtras
}

// fakeHostAPI is an in-memory HostAPI with per-method hooks. The zero value
// serves a single-attempt quiz without attachments or backups.
type fakeHostAPI struct {
	mu sync.Mutex

	attemptDataFn  func(attemptid int64) (*models.AttemptReport, error)
	metadata       []models.AttemptMetadata
	backupStatuses []models.BackupStatus
	backupPolls    int
	contentType    string
	contentLength  int64
	downloadBody   []byte
	uploadErr      error
	processErr     error

	statusUpdates []statusUpdate
	artifact      []byte
	processedSHA  string
}

func (f *fakeHostAPI) CheckConnection(ctx context.Context) error { return nil }

func (f *fakeHostAPI) BaseURL() string { return "http://moodle.example" }

func (f *fakeHostAPI) UpdateJobStatus(ctx context.Context, jobid uuid.UUID, status models.JobStatus, extras *models.StatusExtras) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusUpdates = append(f.statusUpdates, statusUpdate{Status: status, Extras: extras})
	return nil
}

func (f *fakeHostAPI) notifiedStatuses() []models.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.JobStatus, len(f.statusUpdates))
	for i, u := range f.statusUpdates {
		out[i] = u.Status
	}
	return out
}

func (f *fakeHostAPI) GetAttemptData(ctx context.Context, jobid uuid.UUID, attemptid int64, opts models.AttemptReportOptions) (*models.AttemptReport, error) {
	if f.attemptDataFn != nil {
		return f.attemptDataFn(attemptid)
	}
	return &models.AttemptReport{
		AttemptID:  attemptid,
		FolderName: fmt.Sprintf("student one/attempt %d", attemptid),
		FileName:   fmt.Sprintf("attempt-%d", attemptid),
		HTML:       "<html><body>report</body></html>",
	}, nil
}

func (f *fakeHostAPI) GetAttemptsMetadata(ctx context.Context, jobid uuid.UUID, attemptids []int64) ([]models.AttemptMetadata, error) {
	if f.metadata != nil {
		return f.metadata, nil
	}
	out := make([]models.AttemptMetadata, len(attemptids))
	for i, id := range attemptids {
		out[i] = models.AttemptMetadata{
			"attemptid": float64(id),
			"username":  "student one",
			"timestart": float64(1700000000 + id),
		}
	}
	return out, nil
}

func (f *fakeHostAPI) GetBackupStatus(ctx context.Context, jobid uuid.UUID, backupid string) (models.BackupStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.backupStatuses) == 0 {
		return models.BackupStatusSuccess, nil
	}
	status := f.backupStatuses[0]
	if len(f.backupStatuses) > 1 {
		f.backupStatuses = f.backupStatuses[1:]
	}
	f.backupPolls++
	return status, nil
}

func (f *fakeHostAPI) RemoteFileMetadata(ctx context.Context, downloadURL string) (string, int64, error) {
	contentType := f.contentType
	if contentType == "" {
		contentType = "application/vnd.moodle.backup"
	}
	if f.contentLength == 0 {
		return contentType, int64(len(f.body())), nil
	}
	return contentType, f.contentLength, nil
}

func (f *fakeHostAPI) body() []byte {
	if f.downloadBody != nil {
		return f.downloadBody
	}
	return []byte("file-content")
}

func (f *fakeHostAPI) DownloadFile(ctx context.Context, req models.DownloadRequest) (int64, error) {
	if err := os.MkdirAll(req.TargetDir, 0755); err != nil {
		return 0, err
	}
	body := f.body()
	if err := os.WriteFile(filepath.Join(req.TargetDir, req.Filename), body, 0644); err != nil {
		return 0, err
	}
	return int64(len(body)), nil
}

func (f *fakeHostAPI) UploadArtifact(ctx context.Context, path string) (*models.UploadMetadata, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.artifact = data
	f.mu.Unlock()
	return &models.UploadMetadata{
		Component: "user",
		ContextID: 1,
		UserID:    2,
		FileArea:  "draft",
		Filename:  filepath.Base(path),
		FilePath:  "/",
		ItemID:    42,
	}, nil
}

func (f *fakeHostAPI) ProcessUploadedArtifact(ctx context.Context, jobid uuid.UUID, upload *models.UploadMetadata, sha256sum string) error {
	if f.processErr != nil {
		return f.processErr
	}
	f.mu.Lock()
	f.processedSHA = sha256sum
	f.mu.Unlock()
	return nil
}

var _ interfaces.HostAPI = (*fakeHostAPI)(nil)

// fakeRenderer writes a PDF stub for every rendered page.
type fakeRenderer struct {
	mu       sync.Mutex
	rendered int
	failErr  error
}

func (r *fakeRenderer) NewSession(ctx context.Context, opts models.RenderOptions) (interfaces.RenderSession, error) {
	return &fakeSession{renderer: r}, nil
}

type fakeSession struct {
	renderer *fakeRenderer
}

func (s *fakeSession) RenderPage(ctx context.Context, req models.RenderPageRequest) error {
	if s.renderer.failErr != nil {
		return s.renderer.failErr
	}
	s.renderer.mu.Lock()
	s.renderer.rendered++
	s.renderer.mu.Unlock()
	return os.WriteFile(req.PDFPath, []byte("%PDF-1.4 stub"), 0644)
}

func (s *fakeSession) Close() error { return nil }

// fakePostproc records PDF optimization calls.
type fakePostproc struct {
	mu        sync.Mutex
	optimized []string
}

func (p *fakePostproc) OptimizePDF(ctx context.Context, path string, opts models.ImageOptimize) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.optimized = append(p.optimized, path)
	return nil
}
