package archiver

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bobmcallan/quiz-archive-worker/internal/common"
)

// hashSidecarSuffix is appended to every archived file's name to form its
// checksum sidecar.
const hashSidecarSuffix = ".sha256"

// writeHashSidecars walks the working directory and writes a hex-encoded
// SHA-256 sidecar file next to every regular file.
func writeHashSidecars(ctx context.Context, workdir string) error {
	return filepath.WalkDir(workdir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasSuffix(path, hashSidecarSuffix) {
			return nil
		}

		digest, err := common.HashFileSHA256(path)
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", path, err)
		}
		if err := os.WriteFile(path+hashSidecarSuffix, []byte(digest), 0644); err != nil {
			return fmt.Errorf("failed to write checksum sidecar for %s: %w", path, err)
		}
		return nil
	})
}
