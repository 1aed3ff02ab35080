package models

// AttemptReport is the response of the host's attempt report generation
// function for a single attempt.
type AttemptReport struct {
	AttemptID   int64
	FolderName  string
	FileName    string
	HTML        string
	Attachments []Attachment
}

// Attachment describes a file submitted alongside a quiz attempt.
type Attachment struct {
	Slot        int64  `json:"slot"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"downloadurl"`
	ContentHash string `json:"contenthash"`
}

// AttemptMetadata is one row of the attempt metadata export. Keys and value
// types come straight from the host response.
type AttemptMetadata map[string]any

// AttemptReportOptions are the per-job parameters forwarded to the host when
// requesting attempt reports.
type AttemptReportOptions struct {
	FoldernamePattern string
	FilenamePattern   string
	FetchAttachments  bool
	Sections          ReportSections
}

// UploadMetadata is the file handle returned by the host upload endpoint.
// All seven fields must be echoed back in the processing callback.
type UploadMetadata struct {
	Component string `json:"component"`
	ContextID int64  `json:"contextid"`
	UserID    int64  `json:"userid"`
	FileArea  string `json:"filearea"`
	Filename  string `json:"filename"`
	FilePath  string `json:"filepath"`
	ItemID    int64  `json:"itemid"`
}

// DownloadRequest describes a single host file download.
type DownloadRequest struct {
	URL          string
	TargetDir    string
	Filename     string
	ExpectedSHA1 string
	MaxBytes     int64
}

// RenderOptions configure a browser rendering session for one job.
type RenderOptions struct {
	BaseURL                   string
	ViewportWidth             int
	PaperFormat               PaperFormat
	PageMargin                string
	NavigationTimeoutSec      int
	WaitForReadySignal        bool
	ReadySignalTimeoutSec     int
	ContinueAfterReadyTimeout bool
	PreventRedirectToLogin    bool
	DemoWatermark             bool
}

// RenderPageRequest is a single page render inside a session.
type RenderPageRequest struct {
	HTML    string
	PDFPath string
}
