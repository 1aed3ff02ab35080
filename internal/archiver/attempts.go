package archiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bobmcallan/quiz-archive-worker/internal/interfaces"
	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

// processAttempts renders every requested quiz attempt into the working
// directory. One browser session is shared across all attempts of the job.
func (j *Job) processAttempts(ctx context.Context, workdir string) error {
	task := j.desc.Attempts
	attemptsDir := filepath.Join(workdir, "attempts")
	if err := os.MkdirAll(attemptsDir, 0755); err != nil {
		return fmt.Errorf("failed to create attempts directory: %w", err)
	}

	session, err := j.renderer.NewSession(ctx, models.RenderOptions{
		BaseURL:                   j.desc.Connection.BaseURL,
		ViewportWidth:             j.cfg.Report.BaseViewportWidth,
		PaperFormat:               task.PaperFormat,
		PageMargin:                j.cfg.Report.PageMargin,
		NavigationTimeoutSec:      j.cfg.Report.WaitForNavigationTimeoutSec,
		WaitForReadySignal:        j.cfg.Report.WaitForReadySignal,
		ReadySignalTimeoutSec:     j.cfg.Report.WaitForReadySignalTimeoutSec,
		ContinueAfterReadyTimeout: j.cfg.Report.ContinueAfterReadySignalFailed,
		PreventRedirectToLogin:    j.cfg.Report.PreventRedirectToLogin,
		DemoWatermark:             j.cfg.DemoMode,
	})
	if err != nil {
		return fmt.Errorf("failed to start browser session: %w", err)
	}
	defer session.Close()
	j.logger.Debug().Msg("Spawned browser rendering session")

	opts := models.AttemptReportOptions{
		FoldernamePattern: task.FoldernamePattern,
		FilenamePattern:   task.FilenamePattern,
		FetchAttachments:  task.FetchAttachments,
		Sections:          task.Sections,
	}

	for i, attemptid := range task.AttemptIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := j.renderAttempt(ctx, session, attemptsDir, attemptid, opts); err != nil {
			return err
		}
		j.reportProgress(ctx, (i+1)*100/len(task.AttemptIDs))
	}

	return nil
}

// renderAttempt fetches one attempt from the host, renders it to PDF and
// downloads its attachments.
func (j *Job) renderAttempt(ctx context.Context, session interfaces.RenderSession, attemptsDir string, attemptid int64, opts models.AttemptReportOptions) error {
	report, err := j.desc.API.GetAttemptData(ctx, j.desc.ID, attemptid, opts)
	if err != nil {
		return err
	}

	// Folder names may contain slashes to group attempts, e.g. by user.
	attemptDir := filepath.Join(attemptsDir, filepath.FromSlash(report.FolderName))
	if err := os.MkdirAll(attemptDir, 0755); err != nil {
		return fmt.Errorf("failed to create attempt directory: %w", err)
	}

	if j.desc.Attempts.KeepHTMLFiles {
		htmlPath := filepath.Join(attemptDir, report.FileName+".html")
		if err := os.WriteFile(htmlPath, []byte(report.HTML), 0644); err != nil {
			return fmt.Errorf("failed to save attempt HTML: %w", err)
		}
		j.logger.Debug().Int64("attemptid", attemptid).Str("path", htmlPath).Msg("Saved HTML DOM of quiz attempt")
	}

	pdfPath := filepath.Join(attemptDir, report.FileName+".pdf")
	if err := session.RenderPage(ctx, models.RenderPageRequest{HTML: report.HTML, PDFPath: pdfPath}); err != nil {
		return fmt.Errorf("failed to render attempt %d: %w", attemptid, err)
	}

	if j.desc.Attempts.ImageOptimize.Enabled {
		if err := j.postproc.OptimizePDF(ctx, pdfPath, j.desc.Attempts.ImageOptimize); err != nil {
			return fmt.Errorf("failed to optimize images of attempt %d: %w", attemptid, err)
		}
	}

	j.logger.Info().Str("name", report.FileName).Msg("Generated attempt report")

	if j.desc.Attempts.FetchAttachments && len(report.Attachments) > 0 {
		if err := j.downloadAttachments(ctx, attemptDir, report.Attachments); err != nil {
			return err
		}
	}

	j.mu.Lock()
	j.archivedAttempts[attemptid] = report.FolderName
	j.mu.Unlock()
	return nil
}

// downloadAttachments fetches all attachment files of one attempt, grouped
// by question slot, verifying each against its host-provided checksum.
func (j *Job) downloadAttachments(ctx context.Context, attemptDir string, attachments []models.Attachment) error {
	j.logger.Debug().Int("count", len(attachments)).Msg("Saving attachments")

	for _, att := range attachments {
		targetDir := filepath.Join(attemptDir, "attachments", fmt.Sprintf("%d", att.Slot))
		written, err := j.desc.API.DownloadFile(ctx, models.DownloadRequest{
			URL:          att.DownloadURL,
			TargetDir:    targetDir,
			Filename:     att.Filename,
			ExpectedSHA1: att.ContentHash,
			MaxBytes:     j.cfg.Download.QuestionAttachmentMaxFilesizeBytes,
		})
		if err != nil {
			return fmt.Errorf("failed to download attachment %q: %w", att.Filename, err)
		}
		j.logger.Info().
			Int64("slot", att.Slot).
			Str("filename", att.Filename).
			Int64("bytes", written).
			Msg("Downloaded attempt attachment")
	}
	return nil
}
