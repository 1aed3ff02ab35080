package moodle

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

// metadataBatchSize caps the number of attempt IDs per metadata request to
// stay below the maximum URL length of the host webservice.
const metadataBatchSize = 100

// statusResponse is the minimal acknowledgement envelope of mutating
// webservice functions.
type statusResponse struct {
	Status string `json:"status"`
}

// attemptDataResponse is the typed shape of an attempt report response.
type attemptDataResponse struct {
	AttemptID   int64               `json:"attemptid"`
	CourseID    int64               `json:"courseid"`
	CmID        int64               `json:"cmid"`
	QuizID      int64               `json:"quizid"`
	FolderName  string              `json:"foldername"`
	Filename    string              `json:"filename"`
	Report      string              `json:"report"`
	Attachments []models.Attachment `json:"attachments"`
}

// applyAttemptParams adds the attempt report parameters shared by both API
// variants.
func applyAttemptParams(params url.Values, attemptid int64, opts models.AttemptReportOptions) {
	params.Set("attemptid", fmt.Sprintf("%d", attemptid))
	params.Set("foldernamepattern", opts.FoldernamePattern)
	params.Set("filenamepattern", opts.FilenamePattern)
	if opts.FetchAttachments {
		params.Set("attachments", "1")
	} else {
		params.Set("attachments", "0")
	}
	for key, enabled := range opts.Sections {
		value := "0"
		if enabled {
			value = "1"
		}
		params.Set(fmt.Sprintf("sections[%s]", key), value)
	}
}

// stripHTMLWrap removes the stray HTML wrapper some host versions emit
// around JSON responses.
func stripHTMLWrap(body []byte) []byte {
	s := strings.TrimLeft(string(body), "<html><body>")
	s = strings.TrimRight(s, "</body></html>")
	return []byte(s)
}

// requiredAttemptAttrs are the attributes every attempt report response must
// contain regardless of API variant.
var requiredAttemptAttrs = []string{"attemptid", "foldername", "filename", "report", "attachments"}

// parseAttemptReport decodes and validates an attempt report response body.
// extraAttrs lists variant-specific attributes that must also be present.
func parseAttemptReport(wsfunction string, body []byte, attemptid int64, extraAttrs ...string) (*attemptDataResponse, error) {
	unwrapped := stripHTMLWrap(body)

	var raw map[string]any
	if err := json.Unmarshal(unwrapped, &raw); err != nil {
		return nil, fmt.Errorf("call to webservice function %s returned invalid JSON", wsfunction)
	}

	if err := hostError(wsfunction, raw); err != nil {
		return nil, err
	}

	for _, attr := range append(append([]string{}, requiredAttemptAttrs...), extraAttrs...) {
		if _, ok := raw[attr]; !ok {
			return nil, fmt.Errorf("webservice function %s returned an incomplete response", wsfunction)
		}
	}

	var data attemptDataResponse
	if err := json.Unmarshal(unwrapped, &data); err != nil {
		return nil, fmt.Errorf("webservice function %s returned an invalid response", wsfunction)
	}

	if data.AttemptID != attemptid {
		return nil, fmt.Errorf("webservice function %s returned an invalid response", wsfunction)
	}

	if !models.ValidFolderName(data.FolderName) {
		return nil, fmt.Errorf("webservice function %s returned an invalid foldername", wsfunction)
	}
	if !models.ValidFileName(data.Filename) {
		return nil, fmt.Errorf("webservice function %s returned an invalid filename", wsfunction)
	}

	return &data, nil
}

// metadataResponse is the shape of one attempt metadata page.
type metadataResponse struct {
	Attempts []models.AttemptMetadata `json:"attempts"`
	CourseID int64                    `json:"courseid"`
	CmID     int64                    `json:"cmid"`
	QuizID   int64                    `json:"quizid"`
}

// parseMetadataPage decodes and validates one metadata batch response.
func parseMetadataPage(wsfunction string, body []byte) (*metadataResponse, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("call to webservice function %s returned invalid JSON", wsfunction)
	}

	if err := hostError(wsfunction, raw); err != nil {
		return nil, err
	}

	for _, attr := range []string{"attempts", "cmid", "courseid", "quizid"} {
		if _, ok := raw[attr]; !ok {
			return nil, fmt.Errorf("webservice function %s returned an incomplete response", wsfunction)
		}
	}

	var page metadataResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("webservice function %s returned an invalid response", wsfunction)
	}

	return &page, nil
}

// batchAttemptIDs slices the attempt ID list into metadata request batches.
func batchAttemptIDs(attemptids []int64) [][]int64 {
	var batches [][]int64
	for start := 0; start < len(attemptids); start += metadataBatchSize {
		end := start + metadataBatchSize
		if end > len(attemptids) {
			end = len(attemptids)
		}
		batches = append(batches, attemptids[start:end])
	}
	return batches
}
