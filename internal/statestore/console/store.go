// Package console provides a state store that logs lifecycle transitions.
// It is useful during development or audits where a durable store is
// unavailable.
package console

import (
	"context"

	"go.uber.org/zap"

	"github.com/linkvault/archiver/internal/archive"
)

// Store emits one structured log line per lifecycle transition. It never
// caches, so Fetch always misses.
type Store struct {
	logger *zap.Logger
}

// New wires a zap logger to the state store interface.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{logger: logger}
}

// Name implements archive.StateStore.
func (s *Store) Name() string { return "console" }

// Started implements archive.StateStore.
func (s *Store) Started(_ context.Context, rec *archive.Record) error {
	s.logger.Info("item started", s.fields(rec)...)
	return nil
}

// Fetch implements archive.StateStore; the console store has no cache.
func (s *Store) Fetch(context.Context, *archive.Record) (*archive.Record, error) {
	return nil, nil
}

// Done implements archive.StateStore.
func (s *Store) Done(_ context.Context, rec *archive.Record) error {
	s.logger.Info("item done", s.fields(rec)...)
	return nil
}

// Failed implements archive.StateStore.
func (s *Store) Failed(_ context.Context, rec *archive.Record) error {
	s.logger.Error("item failed", s.fields(rec)...)
	return nil
}

// Aborted implements archive.StateStore.
func (s *Store) Aborted(_ context.Context, rec *archive.Record) error {
	s.logger.Warn("item aborted", s.fields(rec)...)
	return nil
}

func (s *Store) fields(rec *archive.Record) []zap.Field {
	fields := []zap.Field{
		zap.String("url", rec.URL),
		zap.String("status", rec.Status),
		zap.Bool("success", rec.Success),
		zap.Int("media", len(rec.Media)),
	}
	if rec.FinalMedia != nil {
		fields = append(fields, zap.String("final_media", rec.FinalMedia.StorageURL))
	}
	return fields
}
