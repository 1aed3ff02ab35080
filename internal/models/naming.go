package models

import (
	"path"
	"strings"
)

// Character sets that must never appear in names received from the host.
// Folder names additionally must not start or end with a path separator.
const (
	folderNameForbiddenChars      = "\\.:;*?!\"<>|\x00"
	fileNameForbiddenChars        = folderNameForbiddenChars + "/"
	archiveFilenameForbiddenChars = "\x00\\/:*?\"<>|."
)

// ValidFolderName reports whether a host-supplied attempt folder name is safe
// to create inside the job work directory. Slashes are allowed to form
// sub-folders but the name must not be anchored or leave the tree.
func ValidFolderName(name string) bool {
	if name == "" {
		return false
	}
	if strings.ContainsAny(name, folderNameForbiddenChars) {
		return false
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return false
	}
	return true
}

// ValidFileName reports whether a host-supplied file name is safe to create.
func ValidFileName(name string) bool {
	if name == "" {
		return false
	}
	return !strings.ContainsAny(name, fileNameForbiddenChars)
}

// ValidBackupFilename reports whether a requested backup file name is safe to
// create inside the job work directory. Unlike host-returned attempt names a
// backup filename carries an extension dot, so only path traversal is ruled
// out: the name must stay a single, non-empty path component.
func ValidBackupFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "\x00\\/")
}

// ValidArchiveFilename reports whether the requested artifact base name is
// acceptable. Paths and extension dots are rejected, the extension is
// appended by the worker itself.
func ValidArchiveFilename(name string) bool {
	if name == "" {
		return false
	}
	if path.Base(name) != name {
		return false
	}
	return !strings.ContainsAny(name, archiveFilenameForbiddenChars)
}
