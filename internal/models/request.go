package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// API versions spoken by the two supported host plugins.
const (
	QuizArchiverAPIVersion = 7
	ArchivingmodAPIVersion = 1
)

// ReportSections maps report section names to their enabled state. The wire
// encodes values as "1"/"0" strings, numbers or booleans depending on the
// host version, all of which are accepted.
type ReportSections map[string]bool

// UnmarshalJSON accepts the mixed boolean encodings used by the host.
func (s *ReportSections) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(ReportSections, len(raw))
	for key, value := range raw {
		enabled, err := sectionEnabled(value)
		if err != nil {
			return fmt.Errorf("section %q: %w", key, err)
		}
		out[key] = enabled
	}
	*s = out
	return nil
}

func sectionEnabled(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return v == "1" || strings.EqualFold(v, "true"), nil
	case float64:
		return v != 0, nil
	}
	return false, fmt.Errorf("unsupported value type %T", value)
}

// ImageOptimize holds the optional image post-processing settings of a job.
// The wire encodes it as either the literal false or an object with the
// three target parameters.
type ImageOptimize struct {
	Enabled bool
	Width   int
	Height  int
	Quality int
}

// UnmarshalJSON accepts false, null, or a {width, height, quality} object.
func (o *ImageOptimize) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "false" || trimmed == "null" {
		*o = ImageOptimize{}
		return nil
	}
	if trimmed == "true" {
		return fmt.Errorf("image_optimize must be false or an object")
	}

	var obj struct {
		Width   int `json:"width"`
		Height  int `json:"height"`
		Quality int `json:"quality"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	*o = ImageOptimize{
		Enabled: true,
		Width:   obj.Width,
		Height:  obj.Height,
		Quality: obj.Quality,
	}
	return nil
}

// Validate checks the parameter ranges when optimization is enabled.
func (o ImageOptimize) Validate() error {
	if !o.Enabled {
		return nil
	}
	if o.Width < 1 {
		return fmt.Errorf("image optimization width is invalid")
	}
	if o.Height < 1 {
		return fmt.Errorf("image optimization height is invalid")
	}
	if o.Quality < 0 || o.Quality > 100 {
		return fmt.Errorf("image optimization quality is invalid")
	}
	return nil
}

// QuizArchiverRequest is the decoded POST /archive payload of the legacy
// quiz_archiver host plugin (API version 7).
type QuizArchiverRequest struct {
	APIVersion      *int                  `json:"api_version"`
	MoodleBaseURL   string                `json:"moodle_base_url"`
	MoodleWSURL     string                `json:"moodle_ws_url"`
	MoodleUploadURL string                `json:"moodle_upload_url"`
	WSToken         string                `json:"wstoken"`
	CourseID        int64                 `json:"courseid"`
	CmID            int64                 `json:"cmid"`
	QuizID          int64                 `json:"quizid"`
	ArchiveFilename string                `json:"archive_filename"`
	AttemptsTask    *QuizAttemptsTaskSpec `json:"task_archive_quiz_attempts"`
	BackupTasks     []BackupTaskSpec      `json:"task_moodle_backups"`
}

// QuizAttemptsTaskSpec describes the attempt rendering task of a legacy
// archive request.
type QuizAttemptsTaskSpec struct {
	AttemptIDs        []int64        `json:"attemptids"`
	Sections          ReportSections `json:"sections"`
	FetchMetadata     bool           `json:"fetch_metadata"`
	PaperFormat       string         `json:"paper_format"`
	KeepHTMLFiles     bool           `json:"keep_html_files"`
	FoldernamePattern string         `json:"foldername_pattern"`
	FilenamePattern   string         `json:"filename_pattern"`
	ImageOptimize     ImageOptimize  `json:"image_optimize"`
}

// BackupTaskSpec describes a single course backup to fetch into the archive.
type BackupTaskSpec struct {
	BackupID        string `json:"backupid"`
	Filename        string `json:"filename"`
	FileDownloadURL string `json:"file_download_url"`
}

// ArchivingmodRequest is the decoded POST /archive/v1 payload of the
// task-based archivingmod_quiz host plugin (API version 1).
type ArchivingmodRequest struct {
	APIVersion *int                `json:"api_version"`
	MoodleAPI  MoodleAPISpec       `json:"moodle_api"`
	TaskID     int64               `json:"taskid"`
	Job        ArchivingmodJobSpec `json:"job"`
}

// MoodleAPISpec carries the host endpoints of a task-based request.
type MoodleAPISpec struct {
	BaseURL       string `json:"base_url"`
	WebserviceURL string `json:"webservice_url"`
	UploadURL     string `json:"upload_url"`
	WSToken       string `json:"wstoken"`
}

// ArchivingmodJobSpec describes the work of a task-based request.
type ArchivingmodJobSpec struct {
	ArchiveFilename   string         `json:"archive_filename"`
	AttemptIDs        []int64        `json:"attemptids"`
	ReportSections    ReportSections `json:"report_sections"`
	FetchMetadata     bool           `json:"fetch_metadata"`
	FetchAttachments  bool           `json:"fetch_attachments"`
	PaperFormat       string         `json:"paper_format"`
	KeepHTMLFiles     bool           `json:"keep_html_files"`
	FoldernamePattern string         `json:"foldername_pattern"`
	FilenamePattern   string         `json:"filename_pattern"`
	ImageOptimize     ImageOptimize  `json:"image_optimize"`
}
