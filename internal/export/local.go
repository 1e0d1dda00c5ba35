package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalSink writes exported files below a directory on the local filesystem.
type LocalSink struct {
	rootPath string
}

// NewLocalSink creates a sink rooted at rootPath, creating it if needed.
func NewLocalSink(rootPath string) (*LocalSink, error) {
	if rootPath == "" {
		return nil, fmt.Errorf("local sink: root path is required")
	}

	info, err := os.Stat(rootPath)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(rootPath, 0755); err != nil {
			return nil, fmt.Errorf("create root path %s: %w", rootPath, err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat root path %s: %w", rootPath, err)
	case !info.IsDir():
		return nil, fmt.Errorf("root path %s is not a directory", rootPath)
	}

	return &LocalSink{rootPath: rootPath}, nil
}

// Name returns "local".
func (s *LocalSink) Name() string { return "local" }

func (s *LocalSink) fullPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash("/" + key))
	full := filepath.Join(s.rootPath, clean)
	rel, err := filepath.Rel(s.rootPath, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return full, nil
}

// MkdirAll creates the folder key.
func (s *LocalSink) MkdirAll(_ context.Context, key string) error {
	path, err := s.fullPath(key)
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0755)
}

// Put writes body to key atomically through a temp file and rename.
func (s *LocalSink) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	path, err := s.fullPath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dirs for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".storectl-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", key, err)
	}
	return nil
}

// Exists reports whether key is already present.
func (s *LocalSink) Exists(_ context.Context, key string) (bool, error) {
	path, err := s.fullPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}
