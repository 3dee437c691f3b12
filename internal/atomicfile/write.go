// Package atomicfile provides crash-safe file writing using temporary files
// and atomic renames. Readers watching a directory only ever observe the
// final name, never a partially written file.
package atomicfile

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Write atomically writes data to path. It writes a temp file in the same
// directory, syncs it, applies perm, then renames it over path. The temp
// file is removed if any step fails.
func Write(path string, data []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := f.Name()
	var success bool
	defer func() {
		if !success {
			os.Remove(tmpName)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	success = true
	return nil
}

// Drop writes data into dir under a fresh, time-ordered name ending in
// suffix and returns the final path. dir is created if missing.
func Drop(dir, suffix string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create drop dir: %w", err)
	}
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	name := strconv.FormatInt(time.Now().UnixNano(), 10) + "-" + hex.EncodeToString(b) + suffix
	path := filepath.Join(dir, name)
	if err := Write(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
