package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// chunkSize is the read size used when digesting files.
const chunkSize = 4096

// File returns the hex-encoded SHA-256 digest of the file at path,
// computed in chunkSize reads so large files never load fully into memory.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Tree returns the digest of every regular file under dir, keyed by
// slash-separated path relative to dir.
func Tree(dir string) (map[string]string, error) {
	digests := make(map[string]string)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		digest, err := File(path)
		if err != nil {
			return err
		}

		digests[filepath.ToSlash(rel)] = digest

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	return digests, nil
}
