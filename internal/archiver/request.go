package archiver

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/bobmcallan/quiz-archive-worker/internal/interfaces"
	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

func newJobID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to generate job ID: %w", err)
	}
	return id, nil
}

func checkAPIVersion(got *int, want int) error {
	if got == nil {
		return fmt.Errorf("request is missing the API version")
	}
	if *got != want {
		return fmt.Errorf("API version mismatch. Expected: %d, Got: %d", want, *got)
	}
	return nil
}

// DescriptorFromQuizArchiverRequest validates a legacy quiz_archiver request
// and turns it into a job descriptor with a freshly created host API adapter.
func DescriptorFromQuizArchiverRequest(req *models.QuizArchiverRequest, factory interfaces.HostAPIFactory) (*JobDescriptor, error) {
	if err := checkAPIVersion(req.APIVersion, models.QuizArchiverAPIVersion); err != nil {
		return nil, err
	}

	conn := models.HostConnection{
		BaseURL:   req.MoodleBaseURL,
		WSURL:     req.MoodleWSURL,
		UploadURL: req.MoodleUploadURL,
		WSToken:   req.WSToken,
	}
	target := models.ArchiveTarget{
		CourseID: req.CourseID,
		CmID:     req.CmID,
		QuizID:   req.QuizID,
	}

	api, err := factory(conn, target)
	if err != nil {
		return nil, err
	}

	id, err := newJobID()
	if err != nil {
		return nil, err
	}

	desc := &JobDescriptor{
		ID:              id,
		API:             api,
		Connection:      conn,
		Target:          target,
		ArchiveFilename: req.ArchiveFilename,
	}

	if req.AttemptsTask != nil {
		t := req.AttemptsTask
		desc.Attempts = &QuizAttemptsTask{
			AttemptIDs:    t.AttemptIDs,
			Sections:      t.Sections,
			FetchMetadata: t.FetchMetadata,
			// The legacy API encodes attachment fetching as a report section.
			FetchAttachments:  t.Sections["attachments"],
			PaperFormat:       models.PaperFormat(t.PaperFormat),
			KeepHTMLFiles:     t.KeepHTMLFiles,
			FoldernamePattern: t.FoldernamePattern,
			FilenamePattern:   t.FilenamePattern,
			ImageOptimize:     t.ImageOptimize,
		}
	}

	for _, b := range req.BackupTasks {
		desc.Backups = append(desc.Backups, BackupTask{
			BackupID:    b.BackupID,
			Filename:    b.Filename,
			DownloadURL: b.FileDownloadURL,
		})
	}

	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}

// DescriptorFromArchivingmodRequest validates a task-based archivingmod_quiz
// request and turns it into a job descriptor with a freshly created host API
// adapter.
func DescriptorFromArchivingmodRequest(req *models.ArchivingmodRequest, factory interfaces.HostAPIFactory) (*JobDescriptor, error) {
	if err := checkAPIVersion(req.APIVersion, models.ArchivingmodAPIVersion); err != nil {
		return nil, err
	}

	conn := models.HostConnection{
		BaseURL:   req.MoodleAPI.BaseURL,
		WSURL:     req.MoodleAPI.WebserviceURL,
		UploadURL: req.MoodleAPI.UploadURL,
		WSToken:   req.MoodleAPI.WSToken,
	}
	target := models.ArchiveTarget{TaskID: req.TaskID}

	api, err := factory(conn, target)
	if err != nil {
		return nil, err
	}

	id, err := newJobID()
	if err != nil {
		return nil, err
	}

	job := req.Job
	desc := &JobDescriptor{
		ID:              id,
		API:             api,
		Connection:      conn,
		Target:          target,
		ArchiveFilename: job.ArchiveFilename,
		Attempts: &QuizAttemptsTask{
			AttemptIDs:        job.AttemptIDs,
			Sections:          job.ReportSections,
			FetchMetadata:     job.FetchMetadata,
			FetchAttachments:  job.FetchAttachments,
			PaperFormat:       models.PaperFormat(job.PaperFormat),
			KeepHTMLFiles:     job.KeepHTMLFiles,
			FoldernamePattern: job.FoldernamePattern,
			FilenamePattern:   job.FilenamePattern,
			ImageOptimize:     job.ImageOptimize,
		},
	}

	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}
