package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ContentStore is the filesystem collaborator: it reads target units and
// swaps their content atomically. Sandbox runs never touch it; only
// apply/rollback do, under the per-target lock.
type ContentStore interface {
	Read(path string) (string, error)
	WriteAtomic(path, content string) error
}

// OSStore resolves target paths under a root directory and writes via
// temp-file-plus-rename so a reader never observes a half-written unit.
type OSStore struct {
	Root string
}

// NewOSStore creates an OSStore rooted at dir.
func NewOSStore(dir string) *OSStore {
	return &OSStore{Root: dir}
}

func (s *OSStore) resolve(path string) (string, error) {
	cleaned := filepath.Clean(path)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("target path %q escapes root", path)
	}
	return filepath.Join(s.Root, cleaned), nil
}

func (s *OSStore) Read(path string) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *OSStore) WriteAtomic(path, content string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".changegate-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("swap content: %w", err)
	}
	return nil
}
