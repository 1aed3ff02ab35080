// Package models defines the data types shared across the quiz archive worker
package models

import "github.com/google/uuid"

// JobStatus represents the lifecycle state of a single archive job
type JobStatus string

const (
	JobStatusUninitialized      JobStatus = "UNINITIALIZED"
	JobStatusAwaitingProcessing JobStatus = "AWAITING_PROCESSING"
	JobStatusRunning            JobStatus = "RUNNING"
	JobStatusWaitingForBackup   JobStatus = "WAITING_FOR_BACKUP"
	JobStatusFinalizing         JobStatus = "FINALIZING"
	JobStatusFinished           JobStatus = "FINISHED"
	JobStatusFailed             JobStatus = "FAILED"
	JobStatusTimeout            JobStatus = "TIMEOUT"
)

// Terminal reports whether the status is a final state that can never change.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusFinished, JobStatusFailed, JobStatusTimeout:
		return true
	}
	return false
}

// WorkerStatus represents the load state of the whole worker
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "IDLE"
	WorkerStatusActive  WorkerStatus = "ACTIVE"
	WorkerStatusBusy    WorkerStatus = "BUSY"
	WorkerStatusUnknown WorkerStatus = "UNKNOWN"
)

// BackupStatus represents the state of a course backup on the host.
// The values are the host wire encoding and must not be changed.
type BackupStatus string

const (
	BackupStatusPending BackupStatus = "E_BACKUP_PENDING"
	BackupStatusFailed  BackupStatus = "E_BACKUP_FAILED"
	BackupStatusSuccess BackupStatus = "SUCCESS"
)

// ReportSignal values are emitted on the browser console by the injected
// report page JS.
type ReportSignal string

const (
	SignalReadyForExport          ReportSignal = "x-quiz-archiver-page-ready-for-export"
	SignalMathJaxFound            ReportSignal = "x-quiz-archiver-mathjax-found"
	SignalMathJaxNotFound         ReportSignal = "x-quiz-archiver-mathjax-not-found"
	SignalMathJaxNoFormulasOnPage ReportSignal = "x-quiz-archiver-mathjax-no-formulas-on-page"
)

// JobSummary is the external representation of a job, exposed via the status
// endpoints and the enqueue response.
type JobSummary struct {
	ID     uuid.UUID `json:"id"`
	Status JobStatus `json:"status"`
}

// StatusExtras carries optional progress information alongside a job status
// update pushed to the host.
type StatusExtras struct {
	Progress int `json:"progress"`
}

// ArchiveTarget identifies the quiz a job operates on. Either TaskID or the
// full CourseID/CmID/QuizID triple is set, depending on the host API variant.
type ArchiveTarget struct {
	TaskID   int64
	CourseID int64
	CmID     int64
	QuizID   int64
}

// HostConnection holds the endpoints and credentials for one host instance.
type HostConnection struct {
	BaseURL   string
	WSURL     string
	UploadURL string
	WSToken   string
}
