package common

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Checksums are calculated in fixed-size chunks to bound memory use on
// large archive members.
const hashChunkSize = 4096

func hashFile(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("failed to hash file %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFileSHA1 returns the hex SHA-1 digest of a file.
func HashFileSHA1(path string) (string, error) {
	return hashFile(path, sha1.New())
}

// HashFileSHA256 returns the hex SHA-256 digest of a file.
func HashFileSHA256(path string) (string, error) {
	return hashFile(path, sha256.New())
}
