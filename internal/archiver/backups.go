package archiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

// backupContentType is the only Content-Type accepted for course backup
// downloads. Anything else indicates an error page or an API response.
const backupContentType = "application/vnd.moodle.backup"

// demoBackupPlaceholder is written in place of real course backups when the
// worker runs in demo mode.
const demoBackupPlaceholder = "DEMO MODE\n\nThis is a placeholder file. Course backups are not downloaded in demo mode.\n"

// processBackups waits for all course backups to finish on the host and
// downloads them concurrently into the backups directory.
func (j *Job) processBackups(ctx context.Context, workdir string) error {
	backupsDir := filepath.Join(workdir, "backups")
	if err := os.MkdirAll(backupsDir, 0755); err != nil {
		return fmt.Errorf("failed to create backups directory: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, backup := range j.desc.Backups {
		g.Go(func() error {
			return j.processBackup(gctx, backupsDir, backup)
		})
	}
	return g.Wait()
}

// processBackup polls a single backup until completion, then downloads it.
func (j *Job) processBackup(ctx context.Context, backupsDir string, backup BackupTask) error {
	j.logger.Debug().Str("backupid", backup.BackupID).Msg("Processing course backup")

	if j.cfg.DemoMode {
		placeholder := filepath.Join(backupsDir, backup.Filename)
		if err := os.WriteFile(placeholder, []byte(demoBackupPlaceholder), 0644); err != nil {
			return fmt.Errorf("failed to write backup placeholder: %w", err)
		}
		j.logger.Info().Str("backupid", backup.BackupID).Msg("Demo mode: wrote backup placeholder file")
		return nil
	}

	for {
		status, err := j.desc.API.GetBackupStatus(ctx, j.desc.ID, backup.BackupID)
		if err != nil {
			return err
		}
		if status == models.BackupStatusFailed {
			return fmt.Errorf("backup %s failed on the host", backup.BackupID)
		}
		if status == models.BackupStatusSuccess {
			break
		}

		j.logger.Info().
			Str("backupid", backup.BackupID).
			Dur("retry_in", j.cfg.Worker.BackupStatusRetry()).
			Msg("Backup not finished yet. Waiting before retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(j.cfg.Worker.BackupStatusRetry()):
		}
	}

	contentType, contentLength, err := j.desc.API.RemoteFileMetadata(ctx, backup.DownloadURL)
	if err != nil {
		return fmt.Errorf("failed to inspect backup %s: %w", backup.BackupID, err)
	}
	if contentType != backupContentType {
		return fmt.Errorf("backup Content-Type invalid. Expected %q but got %q", backupContentType, contentType)
	}
	if contentLength < 0 {
		// Some hosts stream backups without a Content-Length header. The
		// download size cap still applies while streaming.
		j.logger.Warn().Str("backupid", backup.BackupID).Msg("Backup filesize could not be determined before download")
	} else if contentLength > j.cfg.Download.BackupMaxFilesizeBytes {
		return fmt.Errorf("backup filesize of %d bytes exceeds maximum allowed filesize of %d bytes", contentLength, j.cfg.Download.BackupMaxFilesizeBytes)
	}

	written, err := j.desc.API.DownloadFile(ctx, models.DownloadRequest{
		URL:       backup.DownloadURL,
		TargetDir: backupsDir,
		Filename:  backup.Filename,
		MaxBytes:  j.cfg.Download.BackupMaxFilesizeBytes,
	})
	if err != nil {
		return fmt.Errorf("failed to download backup %s: %w", backup.BackupID, err)
	}

	j.logger.Info().
		Str("backupid", backup.BackupID).
		Int64("bytes", written).
		Msg("Downloaded course backup")
	return nil
}
