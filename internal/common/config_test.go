package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.False(t, config.DemoMode)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, 8, config.Worker.QueueSize)
	assert.Equal(t, 128, config.Worker.HistorySize)
	assert.Equal(t, 3600, config.Worker.RequestTimeoutSec)
	assert.Equal(t, 15, config.Worker.StatusReportingIntervalSec)
	assert.Equal(t, 30, config.Worker.BackupStatusRetrySec)
	assert.Equal(t, 1240, config.Report.BaseViewportWidth)
	assert.Equal(t, "5mm", config.Report.PageMargin)
	assert.True(t, config.Report.WaitForReadySignal)
	assert.True(t, config.Report.PreventRedirectToLogin)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	config, err := LoadConfig("/nonexistent/config.toml")
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Server.Port)
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
demo_mode = true

[server]
host = "127.0.0.1"
port = 9090

[worker]
queue_size = 4
request_timeout_sec = 120

[report]
page_margin = "10mm"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, config.DemoMode)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, 9090, config.Server.Port)
	assert.Equal(t, 4, config.Worker.QueueSize)
	assert.Equal(t, 120, config.Worker.RequestTimeoutSec)
	assert.Equal(t, "10mm", config.Report.PageMargin)
	// Untouched values keep defaults
	assert.Equal(t, 128, config.Worker.HistorySize)
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid toml"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("QUIZ_ARCHIVER_SERVER_PORT", "8765")
	t.Setenv("QUIZ_ARCHIVER_QUEUE_SIZE", "2")
	t.Setenv("QUIZ_ARCHIVER_DEMO_MODE", "True")
	t.Setenv("QUIZ_ARCHIVER_LOG_LEVEL", "DEBUG")
	t.Setenv("QUIZ_ARCHIVER_REPORT_PAGE_MARGIN", "0mm")
	t.Setenv("QUIZ_ARCHIVER_DOWNLOAD_MAX_FILESIZE_BYTES", "1048576")

	config, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8765, config.Server.Port)
	assert.Equal(t, 2, config.Worker.QueueSize)
	assert.True(t, config.DemoMode)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "0mm", config.Report.PageMargin)
	assert.Equal(t, int64(1048576), config.Download.MaxFilesizeBytes)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 9000\n"), 0644))

	t.Setenv("QUIZ_ARCHIVER_SERVER_PORT", "9001")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, config.Server.Port)
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"True", "true", "TRUE", "1"} {
		b, err := ParseBool(v)
		require.NoError(t, err, v)
		assert.True(t, b, v)
	}
	for _, v := range []string{"False", "false", "FALSE", "0"} {
		b, err := ParseBool(v)
		require.NoError(t, err, v)
		assert.False(t, b, v)
	}
	_, err := ParseBool("yes")
	assert.Error(t, err)
}

func TestWorkerConfig_Durations(t *testing.T) {
	w := WorkerConfig{
		RequestTimeoutSec:          90,
		StatusReportingIntervalSec: 15,
		BackupStatusRetrySec:       30,
	}
	assert.Equal(t, 90*time.Second, w.RequestTimeout())
	assert.Equal(t, 15*time.Second, w.StatusReportingInterval())
	assert.Equal(t, 30*time.Second, w.BackupStatusRetry())
}

func TestConfigDump_MasksCredentials(t *testing.T) {
	config := NewDefaultConfig()
	config.Proxy.Username = "user"
	config.Proxy.Password = "hunter2"

	dump := config.Dump()
	assert.Contains(t, dump, "server.port => 8080")
	assert.NotContains(t, dump, "hunter2")
}
