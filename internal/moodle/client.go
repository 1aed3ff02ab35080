// Package moodle implements the versioned host API adapters for the Moodle
// LMS webservice.
package moodle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/quiz-archive-worker/internal/common"
	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

const (
	// DefaultTimeout bounds regular webservice calls.
	DefaultTimeout = 60 * time.Second

	// ExtendedTimeout bounds long-running calls such as file transfers and
	// artifact processing.
	ExtendedTimeout = 1800 * time.Second

	// DefaultRateLimit is the number of webservice requests per second.
	DefaultRateLimit = 10

	// jsonErrorProbeSize is the maximum size of a downloaded file that is
	// inspected for a JSON-encoded host error message.
	jsonErrorProbeSize = 10240
)

// uploadFileFields are the keys the host upload endpoint must return for
// each stored file.
var uploadFileFields = []string{"component", "contextid", "userid", "filearea", "filename", "filepath", "itemid"}

// client is the shared base of all host API adapters. It carries the
// connection endpoints, credentials and archive target of a single job.
type client struct {
	conn       models.HostConnection
	target     models.ArchiveTarget
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures an adapter
type ClientOption func(*client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *client) {
		c.logger = logger
	}
}

// WithHTTPClient sets the underlying HTTP client, e.g. one with a proxy
// aware transport.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit sets the webservice request rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

func newClient(conn models.HostConnection, target models.ArchiveTarget, opts ...ClientOption) (*client, error) {
	c := &client{
		conn:       conn,
		target:     target,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := validateConnection(conn); err != nil {
		return nil, err
	}

	return c, nil
}

// validateConnection enforces the expected shapes of the host endpoints.
func validateConnection(conn models.HostConnection) error {
	if conn.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if !strings.HasPrefix(conn.BaseURL, "http") || strings.HasSuffix(conn.BaseURL, ".php") {
		return fmt.Errorf("base URL is invalid")
	}

	if conn.WSURL == "" {
		return fmt.Errorf("webservice REST URL is required")
	}
	if !strings.HasPrefix(conn.WSURL, "http") || !strings.HasSuffix(conn.WSURL, "/webservice/rest/server.php") {
		return fmt.Errorf("webservice REST URL is invalid")
	}

	if conn.UploadURL == "" {
		return fmt.Errorf("webservice upload URL is required")
	}
	if !strings.HasPrefix(conn.UploadURL, "http") || !strings.HasSuffix(conn.UploadURL, "/webservice/upload.php") {
		return fmt.Errorf("webservice upload URL is invalid")
	}

	if conn.WSToken == "" {
		return fmt.Errorf("wstoken is required")
	}

	return nil
}

// BaseURL returns the host base URL.
func (c *client) BaseURL() string {
	return c.conn.BaseURL
}

// wsParams builds the parameter envelope of a webservice function call.
func (c *client) wsParams(wsfunction string) url.Values {
	params := url.Values{}
	params.Set("wstoken", c.conn.WSToken)
	params.Set("moodlewsrestformat", "json")
	params.Set("wsfunction", wsfunction)
	return params
}

// fileParams builds the parameter envelope of a file API call.
func (c *client) fileParams() url.Values {
	params := url.Values{}
	params.Set("token", c.conn.WSToken)
	return params
}

// callRaw performs a rate-limited GET against the webservice REST endpoint
// and returns the raw response body.
func (c *client) callRaw(ctx context.Context, timeout time.Duration, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := c.conn.WSURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Warn().Err(err).Str("wsfunction", params.Get("wsfunction")).Dur("elapsed", elapsed).Msg("Host webservice request failed")
		return nil, fmt.Errorf("webservice request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug().
		Str("wsfunction", params.Get("wsfunction")).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Dur("elapsed", elapsed).
		Msg("Host webservice call")

	return body, nil
}

// call performs a webservice function call and decodes the JSON response
// into target.
func (c *client) call(ctx context.Context, timeout time.Duration, params url.Values, target any) error {
	body, err := c.callRaw(ctx, timeout, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("webservice returned invalid JSON: %w", err)
	}
	return nil
}

// wsError is the error envelope of the host webservice.
type wsError struct {
	ErrorCode string `json:"errorcode"`
	DebugInfo string `json:"debuginfo"`
	Message   string `json:"message"`
}

// hostError extracts a host-reported error from a decoded response map.
// Returns nil when the response carries no error marker.
func hostError(wsfunction string, data map[string]any) error {
	code, ok := data["errorcode"].(string)
	if !ok {
		return nil
	}
	if debug, ok := data["debuginfo"].(string); ok {
		return fmt.Errorf("webservice function %s returned error %q: %s", wsfunction, code, debug)
	}
	if msg, ok := data["message"].(string); ok {
		return fmt.Errorf("webservice function %s returned error %q: %s", wsfunction, code, msg)
	}
	return fmt.Errorf("webservice function %s returned error %q", wsfunction, code)
}

// checkConnection probes the host with the given wsfunction. The host
// answers 'invalidparameter' when the token is valid but the call lacks the
// function's parameters, which is exactly the proof wanted here.
func (c *client) checkConnection(ctx context.Context, wsfunction string) error {
	var probe wsError
	if err := c.call(ctx, DefaultTimeout, c.wsParams(wsfunction), &probe); err != nil {
		return err
	}

	if probe.ErrorCode == "invalidparameter" {
		return nil
	}
	return fmt.Errorf("host API probe failed with error %q", probe.ErrorCode)
}

// RemoteFileMetadata issues a HEAD request for a downloadable file. The
// returned length is -1 when the host did not send a Content-Length header.
func (c *client) RemoteFileMetadata(ctx context.Context, downloadURL string) (string, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	reqURL := downloadURL + "?" + c.fileParams().Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, reqURL, nil)
	if err != nil {
		return "", -1, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", -1, fmt.Errorf("failed to retrieve HEAD for remote file at %s: %w", downloadURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

// DownloadFile streams a host file to disk. The transfer is aborted once it
// exceeds the size cap, small responses are inspected for JSON-encoded host
// errors, and the optional SHA-1 checksum is verified.
func (c *client) DownloadFile(ctx context.Context, dl models.DownloadRequest) (int64, error) {
	if err := os.MkdirAll(dl.TargetDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create download directory: %w", err)
	}
	targetFile := filepath.Join(dl.TargetDir, dl.Filename)

	ctx, cancel := context.WithTimeout(ctx, ExtendedTimeout)
	defer cancel()

	params := c.fileParams()
	params.Set("forcedownload", "1")
	reqURL := dl.URL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download host file from %s: %w", dl.URL, err)
	}
	defer resp.Body.Close()

	f, err := os.Create(targetFile)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %s: %w", targetFile, err)
	}
	defer f.Close()

	// Allow one extra byte past the cap so overruns are detectable.
	written, err := io.Copy(f, io.LimitReader(resp.Body, dl.MaxBytes+1))
	if err != nil {
		return written, fmt.Errorf("failed while writing host file from %s to %s: %w", dl.URL, targetFile, err)
	}
	if written > dl.MaxBytes {
		return written, fmt.Errorf("downloaded host file exceeded the maximum file size limit of %d bytes", dl.MaxBytes)
	}

	if err := f.Sync(); err != nil {
		return written, fmt.Errorf("failed to flush downloaded file: %w", err)
	}

	// Small responses are likely a host error message instead of file data.
	if written < jsonErrorProbeSize {
		if err := c.probeDownloadedJSONError(targetFile); err != nil {
			return written, err
		}
	}

	if dl.ExpectedSHA1 != "" {
		if err := verifySHA1(targetFile, dl.ExpectedSHA1); err != nil {
			return written, err
		}
	}

	c.logger.Info().
		Str("file", targetFile).
		Int64("bytes", written).
		Dur("elapsed", time.Since(start)).
		Msg("Downloaded host file")

	return written, nil
}

// probeDownloadedJSONError checks whether a small downloaded file is a
// JSON-encoded host error response. Non-JSON content passes silently.
func (c *client) probeDownloadedJSONError(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to re-read downloaded file: %w", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil
	}

	code, hasCode := decoded["errorcode"]
	_, hasDebug := decoded["debuginfo"]
	if hasCode && hasDebug {
		c.logger.Debug().Interface("response", decoded).Msg("Downloaded JSON error response")
		return fmt.Errorf("host file download failed with %q", code)
	}
	return nil
}

// UploadArtifact pushes a finished archive to the host upload endpoint.
func (c *client) UploadArtifact(ctx context.Context, path string) (*models.UploadMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	c.logger.Info().
		Str("file", path).
		Int64("bytes", info.Size()).
		Str("upload_url", c.conn.UploadURL).
		Msg("Uploading artifact to host")

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file_1", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := mw.WriteField("token", c.conn.WSToken); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := mw.WriteField("filepath", "/"); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := mw.WriteField("itemid", "0"); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	ctx, cancel := context.WithTimeout(ctx, ExtendedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.conn.UploadURL, pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to upload artifact to %s: %w", c.conn.UploadURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}

	// Error responses come as a JSON object, success as an array of file
	// handles.
	var errResp map[string]any
	if err := json.Unmarshal(body, &errResp); err == nil {
		if hostErr := hostError("upload", errResp); hostErr != nil {
			return nil, hostErr
		}
		return nil, fmt.Errorf("host upload returned an invalid response")
	}

	var files []map[string]any
	if err := json.Unmarshal(body, &files); err != nil || len(files) == 0 {
		return nil, fmt.Errorf("host upload returned an invalid response")
	}
	for _, key := range uploadFileFields {
		if _, ok := files[0][key]; !ok {
			c.logger.Debug().Interface("response", files).Msg("Upload response")
			return nil, fmt.Errorf("host upload returned an invalid response")
		}
	}

	var list []models.UploadMetadata
	if err := json.Unmarshal(body, &list); err != nil || len(list) == 0 {
		return nil, fmt.Errorf("host upload returned an invalid response")
	}

	return &list[0], nil
}

func verifySHA1(path string, expected string) error {
	actual, err := common.HashFileSHA1(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("host file download failed, expected SHA1 sum %q but got %q", expected, actual)
	}
	return nil
}
