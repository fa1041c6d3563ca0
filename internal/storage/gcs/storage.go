// Package gcs implements a storage backend on Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"

	"github.com/linkvault/archiver/internal/archive"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Storage uploads media to a configured GCS bucket and assigns gs://
// locators.
type Storage struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed storage.
func New(client *storage.Client, cfg Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Storage{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Name implements archive.Storage.
func (s *Storage) Name() string { return "gcs" }

// Store uploads the media content and sets its gs:// locator. The object
// key is derived from the media identity, so repeat stores overwrite the
// same object.
func (s *Storage) Store(ctx context.Context, m *archive.Media, rec *archive.Record) error {
	key := s.objectKey(rec.Folder, m)

	src, err := m.Open()
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	defer src.Close()

	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if m.MimeType != "" {
		writer.ContentType = m.MimeType
	}
	if _, err := io.Copy(writer, src); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}

	m.StorageURL = fmt.Sprintf("gs://%s/%s", s.bucket, key)
	return nil
}

func (s *Storage) objectKey(folder string, m *archive.Media) string {
	name := m.ID + filepath.Ext(m.Filename)
	return path.Join(s.prefix, folder, name)
}
