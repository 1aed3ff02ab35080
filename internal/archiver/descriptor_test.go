package archiver

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/quiz-archive-worker/internal/interfaces"
	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

func intptr(v int) *int { return &v }

func stubFactory(api interfaces.HostAPI) interfaces.HostAPIFactory {
	return func(conn models.HostConnection, target models.ArchiveTarget) (interfaces.HostAPI, error) {
		return api, nil
	}
}

func validQuizArchiverRequest() *models.QuizArchiverRequest {
	return &models.QuizArchiverRequest{
		APIVersion:      intptr(models.QuizArchiverAPIVersion),
		MoodleBaseURL:   "http://moodle.example",
		MoodleWSURL:     "http://moodle.example/webservice/rest/server.php",
		MoodleUploadURL: "http://moodle.example/webservice/upload.php",
		WSToken:         "token",
		CourseID:        3,
		CmID:            7,
		QuizID:          11,
		ArchiveFilename: "quiz-archive-cid3-quizid11",
		AttemptsTask: &models.QuizAttemptsTaskSpec{
			AttemptIDs:        []int64{1, 2, 3},
			Sections:          models.ReportSections{"header": true, "attachments": true},
			FetchMetadata:     true,
			PaperFormat:       "A4",
			KeepHTMLFiles:     false,
			FoldernamePattern: "${username}/${attemptid}",
			FilenamePattern:   "attempt-${attemptid}",
		},
		BackupTasks: []models.BackupTaskSpec{
			{BackupID: "b1", Filename: "course-backup.mbz", FileDownloadURL: "http://moodle.example/pluginfile/backup.mbz"},
		},
	}
}

func TestDescriptorFromQuizArchiverRequest(t *testing.T) {
	api := &fakeHostAPI{}
	desc, err := DescriptorFromQuizArchiverRequest(validQuizArchiverRequest(), stubFactory(api))
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, desc.ID)
	assert.Equal(t, int64(3), desc.Target.CourseID)
	assert.Equal(t, int64(11), desc.Target.QuizID)
	assert.Zero(t, desc.Target.TaskID)
	require.NotNil(t, desc.Attempts)
	assert.True(t, desc.Attempts.FetchAttachments, "attachment fetching derives from the attachments section")
	assert.Equal(t, models.PaperFormatA4, desc.Attempts.PaperFormat)
	require.Len(t, desc.Backups, 1)
	assert.Equal(t, "b1", desc.Backups[0].BackupID)
}

func TestDescriptorFromQuizArchiverRequest_BackupFilenameWithExtension(t *testing.T) {
	req := validQuizArchiverRequest()
	req.BackupTasks[0].Filename = "backup_2026-08-26.mbz"

	desc, err := DescriptorFromQuizArchiverRequest(req, stubFactory(&fakeHostAPI{}))
	require.NoError(t, err)
	assert.Equal(t, "backup_2026-08-26.mbz", desc.Backups[0].Filename)
}

func TestDescriptorFromQuizArchiverRequest_EmptyJob(t *testing.T) {
	req := validQuizArchiverRequest()
	req.AttemptsTask = nil
	req.BackupTasks = nil

	desc, err := DescriptorFromQuizArchiverRequest(req, stubFactory(&fakeHostAPI{}))
	require.NoError(t, err)
	assert.Nil(t, desc.Attempts)
	assert.Empty(t, desc.Backups)
}

func TestDescriptorFromQuizArchiverRequest_NoAttachmentsSection(t *testing.T) {
	req := validQuizArchiverRequest()
	req.AttemptsTask.Sections = models.ReportSections{"header": true, "attachments": false}

	desc, err := DescriptorFromQuizArchiverRequest(req, stubFactory(&fakeHostAPI{}))
	require.NoError(t, err)
	assert.False(t, desc.Attempts.FetchAttachments)
}

func TestDescriptorFromQuizArchiverRequest_APIVersionMismatch(t *testing.T) {
	req := validQuizArchiverRequest()
	req.APIVersion = intptr(5)

	_, err := DescriptorFromQuizArchiverRequest(req, stubFactory(&fakeHostAPI{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API version mismatch")
}

func TestDescriptorFromQuizArchiverRequest_MissingAPIVersion(t *testing.T) {
	req := validQuizArchiverRequest()
	req.APIVersion = nil

	_, err := DescriptorFromQuizArchiverRequest(req, stubFactory(&fakeHostAPI{}))
	assert.Error(t, err)
}

func TestDescriptorFromQuizArchiverRequest_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.QuizArchiverRequest)
	}{
		{"bad archive filename", func(r *models.QuizArchiverRequest) { r.ArchiveFilename = "archive/../../etc" }},
		{"missing target", func(r *models.QuizArchiverRequest) { r.CourseID = 0 }},
		{"empty attempt list", func(r *models.QuizArchiverRequest) { r.AttemptsTask.AttemptIDs = nil }},
		{"bad paper format", func(r *models.QuizArchiverRequest) { r.AttemptsTask.PaperFormat = "A11" }},
		{"empty foldername pattern", func(r *models.QuizArchiverRequest) { r.AttemptsTask.FoldernamePattern = "" }},
		{"bad image optimize", func(r *models.QuizArchiverRequest) {
			r.AttemptsTask.ImageOptimize = models.ImageOptimize{Enabled: true, Width: 0, Height: 100, Quality: 80}
		}},
		{"backup filename with path", func(r *models.QuizArchiverRequest) { r.BackupTasks[0].Filename = "../backup.mbz" }},
		{"backup url off host", func(r *models.QuizArchiverRequest) {
			r.BackupTasks[0].FileDownloadURL = "http://evil.example/backup.mbz"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validQuizArchiverRequest()
			tt.mutate(req)
			_, err := DescriptorFromQuizArchiverRequest(req, stubFactory(&fakeHostAPI{}))
			assert.Error(t, err)
		})
	}
}

func TestDescriptorFromArchivingmodRequest(t *testing.T) {
	req := &models.ArchivingmodRequest{
		APIVersion: intptr(models.ArchivingmodAPIVersion),
		MoodleAPI: models.MoodleAPISpec{
			BaseURL:       "http://moodle.example",
			WebserviceURL: "http://moodle.example/webservice/rest/server.php",
			UploadURL:     "http://moodle.example/webservice/upload.php",
			WSToken:       "token",
		},
		TaskID: 1337,
		Job: models.ArchivingmodJobSpec{
			ArchiveFilename:   "quiz-archive",
			AttemptIDs:        []int64{4, 5},
			ReportSections:    models.ReportSections{"header": true},
			FetchMetadata:     true,
			FetchAttachments:  true,
			PaperFormat:       "Letter",
			FoldernamePattern: "${attemptid}",
			FilenamePattern:   "attempt-${attemptid}",
		},
	}

	desc, err := DescriptorFromArchivingmodRequest(req, stubFactory(&fakeHostAPI{}))
	require.NoError(t, err)
	assert.Equal(t, int64(1337), desc.Target.TaskID)
	assert.Zero(t, desc.Target.CourseID)
	assert.True(t, desc.Attempts.FetchAttachments)
	assert.Empty(t, desc.Backups)
}

func TestDescriptorFromArchivingmodRequest_APIVersionMismatch(t *testing.T) {
	req := &models.ArchivingmodRequest{APIVersion: intptr(7), TaskID: 1}
	_, err := DescriptorFromArchivingmodRequest(req, stubFactory(&fakeHostAPI{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API version mismatch")
}

func TestDescriptorValidate_TargetExclusivity(t *testing.T) {
	desc, err := DescriptorFromQuizArchiverRequest(validQuizArchiverRequest(), stubFactory(&fakeHostAPI{}))
	require.NoError(t, err)

	// Both addressing modes set at once is as invalid as neither.
	desc.Target.TaskID = 99
	assert.Error(t, desc.Validate())
}

func TestApplyDemoMode(t *testing.T) {
	desc, err := DescriptorFromQuizArchiverRequest(validQuizArchiverRequest(), stubFactory(&fakeHostAPI{}))
	require.NoError(t, err)
	desc.Attempts.AttemptIDs = make([]int64, 25)

	applied := desc.ApplyDemoMode()
	assert.Len(t, desc.Attempts.AttemptIDs, demoModeMaxAttempts)
	assert.Len(t, applied, 2)
}

func TestHistory_EvictsOldest(t *testing.T) {
	h := NewHistory(2)
	jobs := make([]*Job, 3)
	for i := range jobs {
		desc, err := DescriptorFromQuizArchiverRequest(validQuizArchiverRequest(), stubFactory(&fakeHostAPI{}))
		require.NoError(t, err)
		jobs[i] = NewJob(desc, testConfig(), testLogger(), &fakeRenderer{}, &fakePostproc{})
		h.Append(jobs[i])
	}

	assert.Equal(t, 2, h.Len())

	_, err := h.Find(jobs[0].ID())
	assert.ErrorIs(t, err, ErrJobNotFound)

	found, err := h.Find(jobs[2].ID())
	require.NoError(t, err)
	assert.Same(t, jobs[2], found)

	summaries := h.Summaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, jobs[1].ID(), summaries[0].ID)
}

func TestJobSummary(t *testing.T) {
	desc, err := DescriptorFromQuizArchiverRequest(validQuizArchiverRequest(), stubFactory(&fakeHostAPI{}))
	require.NoError(t, err)

	job := NewJob(desc, testConfig(), testLogger(), &fakeRenderer{}, &fakePostproc{})
	assert.Equal(t, models.JobStatusUninitialized, job.Status())

	job.setStatus(context.Background(), models.JobStatusAwaitingProcessing, false, nil)
	summary := job.Summary()
	assert.Equal(t, desc.ID, summary.ID)
	assert.Equal(t, models.JobStatusAwaitingProcessing, summary.Status)
}
