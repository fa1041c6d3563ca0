// Package local implements a local filesystem storage backend.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/linkvault/archiver/internal/archive"
)

// Config captures the parameters for the local filesystem storage.
type Config struct {
	// BaseDir is the root directory where archived media are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Storage writes media to the local filesystem and assigns file:// locators.
type Storage struct {
	baseDir string
}

// New creates a filesystem-backed storage rooted at cfg.BaseDir.
func New(cfg Config) (*Storage, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Probe for write permission up front so misconfiguration fails fast.
	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up write probe: %w", err)
	}

	return &Storage{baseDir: cfg.BaseDir}, nil
}

// Name implements archive.Storage.
func (s *Storage) Name() string { return "local" }

// Store copies the media content under the record's destination folder
// and sets the media's file:// locator. Storing the same media twice
// overwrites the same destination, so the operation is idempotent.
func (s *Storage) Store(ctx context.Context, m *archive.Media, rec *archive.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}

	key := mediaKey(rec.Folder, m)
	fullPath := filepath.Join(s.baseDir, key)

	// Reject destination folders that escape the base directory.
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected in %q", key)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}

	src, err := m.Open()
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create destination file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy media: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close destination file: %w", err)
	}

	m.StorageURL = fmt.Sprintf("file://%s", fullPath)
	return nil
}

// mediaKey builds the destination key from the feeder-supplied folder and
// the media identity, keeping the scratch file's extension.
func mediaKey(folder string, m *archive.Media) string {
	name := m.ID + filepath.Ext(m.Filename)
	if folder == "" {
		return name
	}
	return filepath.Join(folder, name)
}
