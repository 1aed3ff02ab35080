// Package common provides shared utilities for the quiz archive worker
package common

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// AppName identifies this service in the index endpoint and log output.
const AppName = "quiz-archive-worker"

// Config holds all configuration for the quiz archive worker
type Config struct {
	DemoMode bool           `toml:"demo_mode"`
	Server   ServerConfig   `toml:"server"`
	Worker   WorkerConfig   `toml:"worker"`
	Report   ReportConfig   `toml:"report"`
	Download DownloadConfig `toml:"download"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// WorkerConfig holds job queue and scheduling configuration
type WorkerConfig struct {
	QueueSize                  int `toml:"queue_size"`
	HistorySize                int `toml:"history_size"`
	RequestTimeoutSec          int `toml:"request_timeout_sec"`
	StatusReportingIntervalSec int `toml:"status_reporting_interval_sec"`
	BackupStatusRetrySec       int `toml:"backup_status_retry_sec"`
}

// RequestTimeout returns the per-job execution deadline.
func (c *WorkerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// StatusReportingInterval returns the minimum delay between progress updates
// pushed to the host.
func (c *WorkerConfig) StatusReportingInterval() time.Duration {
	return time.Duration(c.StatusReportingIntervalSec) * time.Second
}

// BackupStatusRetry returns the delay between backup status polls.
func (c *WorkerConfig) BackupStatusRetry() time.Duration {
	return time.Duration(c.BackupStatusRetrySec) * time.Second
}

// ReportConfig holds attempt report rendering configuration
type ReportConfig struct {
	BaseViewportWidth              int    `toml:"base_viewport_width"`
	PageMargin                     string `toml:"page_margin"`
	WaitForReadySignal             bool   `toml:"wait_for_ready_signal"`
	WaitForReadySignalTimeoutSec   int    `toml:"wait_for_ready_signal_timeout_sec"`
	ContinueAfterReadySignalFailed bool   `toml:"continue_after_ready_signal_timeout"`
	WaitForNavigationTimeoutSec    int    `toml:"wait_for_navigation_timeout_sec"`
	PreventRedirectToLogin         bool   `toml:"prevent_redirect_to_login"`
}

// NavigationTimeout returns the page navigation deadline.
func (c *ReportConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.WaitForNavigationTimeoutSec) * time.Second
}

// ReadySignalTimeout returns how long to wait for the report ready signal.
func (c *ReportConfig) ReadySignalTimeout() time.Duration {
	return time.Duration(c.WaitForReadySignalTimeoutSec) * time.Second
}

// DownloadConfig holds file download size limits
type DownloadConfig struct {
	MaxFilesizeBytes                   int64 `toml:"max_filesize_bytes"`
	BackupMaxFilesizeBytes             int64 `toml:"backup_max_filesize_bytes"`
	QuestionAttachmentMaxFilesizeBytes int64 `toml:"question_attachment_max_filesize_bytes"`
}

// ProxyConfig holds outbound HTTP proxy configuration
type ProxyConfig struct {
	ServerURL               string `toml:"server_url"`
	Username                string `toml:"username"`
	Password                string `toml:"password"`
	SkipHTTPSCertValidation bool   `toml:"skip_https_cert_validation"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		DemoMode: false,
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Worker: WorkerConfig{
			QueueSize:                  8,
			HistorySize:                128,
			RequestTimeoutSec:          3600,
			StatusReportingIntervalSec: 15,
			BackupStatusRetrySec:       30,
		},
		Report: ReportConfig{
			BaseViewportWidth:              1240,
			PageMargin:                     "5mm",
			WaitForReadySignal:             true,
			WaitForReadySignalTimeoutSec:   30,
			ContinueAfterReadySignalFailed: false,
			WaitForNavigationTimeoutSec:    30,
			PreventRedirectToLogin:         true,
		},
		Download: DownloadConfig{
			MaxFilesizeBytes:                   int64(1024 * 10e6),
			BackupMaxFilesizeBytes:             int64(512 * 10e6),
			QuestionAttachmentMaxFilesizeBytes: int64(128 * 10e6),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier)
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue // Skip missing files
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// Apply environment overrides
	applyEnvOverrides(config)

	return config, nil
}

// ParseBool parses the textual boolean encodings accepted in the environment:
// True/true/TRUE/1 and False/false/FALSE/0.
func ParseBool(value string) (bool, error) {
	switch strings.TrimSpace(value) {
	case "True", "true", "TRUE", "1":
		return true, nil
	case "False", "false", "FALSE", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value %q", value)
}

func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := ParseBool(v); err == nil {
			*target = b
		}
	}
}

func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

func envInt64(key string, target *int64) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = i
		}
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if host := os.Getenv("QUIZ_ARCHIVER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	envInt("QUIZ_ARCHIVER_SERVER_PORT", &config.Server.Port)

	if level := os.Getenv("QUIZ_ARCHIVER_LOG_LEVEL"); level != "" {
		config.Logging.Level = strings.ToLower(level)
	}

	envBool("QUIZ_ARCHIVER_DEMO_MODE", &config.DemoMode)

	envInt("QUIZ_ARCHIVER_QUEUE_SIZE", &config.Worker.QueueSize)
	envInt("QUIZ_ARCHIVER_HISTORY_SIZE", &config.Worker.HistorySize)
	envInt("QUIZ_ARCHIVER_REQUEST_TIMEOUT_SEC", &config.Worker.RequestTimeoutSec)
	envInt("QUIZ_ARCHIVER_STATUS_REPORTING_INTERVAL_SEC", &config.Worker.StatusReportingIntervalSec)
	envInt("QUIZ_ARCHIVER_BACKUP_STATUS_RETRY_SEC", &config.Worker.BackupStatusRetrySec)

	envInt64("QUIZ_ARCHIVER_DOWNLOAD_MAX_FILESIZE_BYTES", &config.Download.MaxFilesizeBytes)
	envInt64("QUIZ_ARCHIVER_BACKUP_DOWNLOAD_MAX_FILESIZE_BYTES", &config.Download.BackupMaxFilesizeBytes)
	envInt64("QUIZ_ARCHIVER_QUESTION_ATTACHMENT_DOWNLOAD_MAX_FILESIZE_BYTES", &config.Download.QuestionAttachmentMaxFilesizeBytes)

	envInt("QUIZ_ARCHIVER_REPORT_BASE_VIEWPORT_WIDTH", &config.Report.BaseViewportWidth)
	if margin := os.Getenv("QUIZ_ARCHIVER_REPORT_PAGE_MARGIN"); margin != "" {
		config.Report.PageMargin = margin
	}
	envBool("QUIZ_ARCHIVER_REPORT_WAIT_FOR_READY_SIGNAL", &config.Report.WaitForReadySignal)
	envInt("QUIZ_ARCHIVER_REPORT_WAIT_FOR_READY_SIGNAL_TIMEOUT_SEC", &config.Report.WaitForReadySignalTimeoutSec)
	envBool("QUIZ_ARCHIVER_REPORT_CONTINUE_AFTER_READY_SIGNAL_TIMEOUT", &config.Report.ContinueAfterReadySignalFailed)
	envInt("QUIZ_ARCHIVER_REPORT_WAIT_FOR_NAVIGATION_TIMEOUT_SEC", &config.Report.WaitForNavigationTimeoutSec)
	envBool("QUIZ_ARCHIVER_PREVENT_REDIRECT_TO_LOGIN", &config.Report.PreventRedirectToLogin)

	if v := os.Getenv("QUIZ_ARCHIVER_PROXY_SERVER_URL"); v != "" {
		config.Proxy.ServerURL = v
	}
	if v := os.Getenv("QUIZ_ARCHIVER_PROXY_USERNAME"); v != "" {
		config.Proxy.Username = v
	}
	if v := os.Getenv("QUIZ_ARCHIVER_PROXY_PASSWORD"); v != "" {
		config.Proxy.Password = v
	}
	envBool("QUIZ_ARCHIVER_SKIP_HTTPS_CERT_VALIDATION", &config.Proxy.SkipHTTPSCertValidation)
}

// Dump renders the effective configuration as a multi-line string for
// debug-level startup logging. Proxy credentials are never included.
func (c *Config) Dump() string {
	entries := map[string]any{
		"demo_mode":                           c.DemoMode,
		"server.host":                         c.Server.Host,
		"server.port":                         c.Server.Port,
		"worker.queue_size":                   c.Worker.QueueSize,
		"worker.history_size":                 c.Worker.HistorySize,
		"worker.request_timeout_sec":          c.Worker.RequestTimeoutSec,
		"worker.status_reporting_interval":    c.Worker.StatusReportingIntervalSec,
		"worker.backup_status_retry_sec":      c.Worker.BackupStatusRetrySec,
		"report.base_viewport_width":          c.Report.BaseViewportWidth,
		"report.page_margin":                  c.Report.PageMargin,
		"report.wait_for_ready_signal":        c.Report.WaitForReadySignal,
		"report.ready_signal_timeout_sec":     c.Report.WaitForReadySignalTimeoutSec,
		"report.continue_after_ready_timeout": c.Report.ContinueAfterReadySignalFailed,
		"report.navigation_timeout_sec":       c.Report.WaitForNavigationTimeoutSec,
		"report.prevent_redirect_to_login":    c.Report.PreventRedirectToLogin,
		"download.max_filesize_bytes":         c.Download.MaxFilesizeBytes,
		"download.backup_max_filesize_bytes":  c.Download.BackupMaxFilesizeBytes,
		"download.attachment_max_bytes":       c.Download.QuestionAttachmentMaxFilesizeBytes,
		"proxy.server_url":                    c.Proxy.ServerURL,
		"proxy.skip_https_cert_validation":    c.Proxy.SkipHTTPSCertValidation,
		"logging.level":                       c.Logging.Level,
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Configuration:")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n  %s => %v", k, entries[k])
	}
	return b.String()
}
