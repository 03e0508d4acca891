package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
)

// readJSON decodes path into a value. A missing, empty or corrupt file yields
// empty() and is rewritten with that empty value.
func readJSON[T any](path string, empty func() T) (T, error) {
	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		var zero T
		return zero, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if len(bytes.TrimSpace(raw)) > 0 {
		v := empty()
		uerr := json.Unmarshal(raw, &v)
		if uerr == nil {
			return v, nil
		}
		log.Printf("[JSONFile Path:%s] Corrupt content, resetting: %v", path, uerr)
	}

	v := empty()
	if err := writeJSON(path, v); err != nil {
		return v, fmt.Errorf("failed to reset %s: %w", path, err)
	}
	return v, nil
}

// writeJSON replaces path atomically: the value is written and synced to
// "<path>.tmp" which is then renamed over path.
func writeJSON[T any](path string, v T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", tmp, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
