package archiver

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// metadataFilename is the name of the attempt metadata export inside the
// archive root.
const metadataFilename = "attempts_metadata.csv"

// exportAttemptsMetadata fetches the metadata of all archived attempts from
// the host and writes it as a CSV file into the working directory. Each row
// gains a path column pointing at the attempt's folder inside the archive.
func (j *Job) exportAttemptsMetadata(ctx context.Context, workdir string) error {
	task := j.desc.Attempts

	metadata, err := j.desc.API.GetAttemptsMetadata(ctx, j.desc.ID, task.AttemptIDs)
	if err != nil {
		return err
	}
	if len(metadata) == 0 {
		return fmt.Errorf("host returned no attempt metadata")
	}

	j.mu.RLock()
	for _, entry := range metadata {
		attemptid, err := metadataAttemptID(entry)
		if err != nil {
			j.mu.RUnlock()
			return err
		}
		entry["path"] = "/attempts/" + j.archivedAttempts[attemptid]
	}
	j.mu.RUnlock()

	f, err := os.Create(filepath.Join(workdir, metadataFilename))
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	defer f.Close()

	columns := metadataColumns(metadata[0])
	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("failed to write metadata header: %w", err)
	}
	for _, entry := range metadata {
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = formatMetadataValue(entry[col])
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write metadata row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	j.logger.Info().Int("attempts", len(metadata)).Msg("Wrote attempt metadata CSV file")
	return nil
}

// metadataColumns orders the export columns deterministically: attemptid
// first, path last, everything else sorted alphabetically in between.
func metadataColumns(entry map[string]any) []string {
	var middle []string
	for key := range entry {
		if key != "attemptid" && key != "path" {
			middle = append(middle, key)
		}
	}
	sort.Strings(middle)

	columns := make([]string, 0, len(middle)+2)
	columns = append(columns, "attemptid")
	columns = append(columns, middle...)
	columns = append(columns, "path")
	return columns
}

// metadataAttemptID extracts the attempt ID from a metadata row. JSON
// numbers decode as float64, but string encodings occur in the wild too.
func metadataAttemptID(entry map[string]any) (int64, error) {
	switch v := entry["attemptid"].(type) {
	case float64:
		return int64(v), nil
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return id, nil
		}
	}
	return 0, fmt.Errorf("attempt metadata row is missing a usable attemptid")
}

func formatMetadataValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	}
	return fmt.Sprintf("%v", value)
}
