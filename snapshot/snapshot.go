// Package snapshot persists point-in-time JSON state durably. Writers go
// through a sibling temp file followed by an atomic rename so a crash mid-write
// never clobbers the last good snapshot.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// Marshal renders v as the pretty-printed UTF-8 JSON used by all snapshot
// files.
func Marshal(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// WriteAtomic marshals v and writes it to path via temp-then-rename. The
// parent directory is created if missing. On any failure the temp file is
// removed best-effort and the error is returned to the caller.
func WriteAtomic(path string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return WriteBytesAtomic(path, data)
}

// WriteBytesAtomic writes pre-serialized snapshot bytes to path via
// temp-then-rename.
func WriteBytesAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

// Read loads the snapshot at path into v. Callers distinguish a missing file
// with errors.Is(err, fs.ErrNotExist).
func Read(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", filepath.Base(path), err)
	}
	return nil
}
