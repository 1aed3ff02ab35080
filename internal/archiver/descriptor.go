package archiver

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bobmcallan/quiz-archive-worker/internal/interfaces"
	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

// demoModeMaxAttempts caps the number of attempts rendered per job when the
// worker runs in demo mode.
const demoModeMaxAttempts = 10

// QuizAttemptsTask is the validated attempt rendering task of a job.
type QuizAttemptsTask struct {
	AttemptIDs        []int64
	Sections          models.ReportSections
	FetchMetadata     bool
	FetchAttachments  bool
	PaperFormat       models.PaperFormat
	KeepHTMLFiles     bool
	FoldernamePattern string
	FilenamePattern   string
	ImageOptimize     models.ImageOptimize
}

// BackupTask is the validated descriptor of one course backup to fetch into
// the archive.
type BackupTask struct {
	BackupID    string
	Filename    string
	DownloadURL string
}

// JobDescriptor is the validated, internal form of an archive request. It
// binds the job ID to the host API adapter created for it.
type JobDescriptor struct {
	ID              uuid.UUID
	API             interfaces.HostAPI
	Connection      models.HostConnection
	Target          models.ArchiveTarget
	ArchiveFilename string
	Attempts        *QuizAttemptsTask
	Backups         []BackupTask
}

// Validate checks the descriptor's internal consistency. The host connection
// itself is validated by the API adapter at construction time.
func (d *JobDescriptor) Validate() error {
	if !models.ValidArchiveFilename(d.ArchiveFilename) {
		return fmt.Errorf("requested archive filename %q is invalid", d.ArchiveFilename)
	}

	byTask := d.Target.TaskID > 0
	byQuiz := d.Target.CourseID > 0 && d.Target.CmID > 0 && d.Target.QuizID > 0
	if byTask == byQuiz {
		return fmt.Errorf("archive target must be either a task ID or a courseid, cmid and quizid triple")
	}

	// A request without any task is still a valid job. It produces an
	// archive containing only the generated side files.
	if d.Attempts != nil {
		if err := d.Attempts.validate(); err != nil {
			return err
		}
	}

	for _, backup := range d.Backups {
		if err := backup.validate(d.Connection.BaseURL); err != nil {
			return err
		}
	}

	return nil
}

func (t *QuizAttemptsTask) validate() error {
	if len(t.AttemptIDs) == 0 {
		return fmt.Errorf("attempt task contains no attempt IDs")
	}
	if !t.PaperFormat.Valid() {
		return fmt.Errorf("paper format %q is invalid", t.PaperFormat)
	}
	if t.FoldernamePattern == "" {
		return fmt.Errorf("foldername pattern must not be empty")
	}
	if t.FilenamePattern == "" {
		return fmt.Errorf("filename pattern must not be empty")
	}
	return t.ImageOptimize.Validate()
}

func (b *BackupTask) validate(baseURL string) error {
	if b.BackupID == "" {
		return fmt.Errorf("backup task is missing a backup ID")
	}
	if !models.ValidBackupFilename(b.Filename) {
		return fmt.Errorf("backup filename %q is invalid", b.Filename)
	}
	if !strings.HasPrefix(b.DownloadURL, baseURL) {
		return fmt.Errorf("backup download URL must point to the host base URL")
	}
	return nil
}

// ApplyDemoMode truncates the descriptor's workload to demo limits. It
// returns a description of every truncation applied so callers can log them.
func (d *JobDescriptor) ApplyDemoMode() []string {
	var applied []string
	if d.Attempts != nil && len(d.Attempts.AttemptIDs) > demoModeMaxAttempts {
		d.Attempts.AttemptIDs = d.Attempts.AttemptIDs[:demoModeMaxAttempts]
		applied = append(applied, fmt.Sprintf("attempt list truncated to %d entries", demoModeMaxAttempts))
	}
	if len(d.Backups) > 0 {
		applied = append(applied, "course backups replaced by placeholder files")
	}
	return applied
}
