// Package hashes attaches SHA-256 digests to archived media so stored
// artifacts can be verified and deduplicated downstream.
package hashes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/linkvault/archiver/internal/archive"
)

// Enricher computes a content digest property for every media object on
// the record, including media nested one property level deep.
type Enricher struct{}

// New returns the digest enricher.
func New() *Enricher { return &Enricher{} }

// Name implements archive.Enricher.
func (e *Enricher) Name() string { return "hashes" }

// Enrich sets a "hash" property on each media object. Media without
// content is skipped; that is not an error.
func (e *Enricher) Enrich(ctx context.Context, rec *archive.Record) error {
	for _, m := range rec.Media {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := hashOne(m); err != nil {
			return err
		}
		for _, nested := range m.NestedMedia() {
			if err := hashOne(nested); err != nil {
				return err
			}
		}
	}
	return nil
}

func hashOne(m *archive.Media) error {
	if _, ok := m.Get("hash"); ok {
		return nil
	}
	if m.Filename == "" && m.Bytes == nil {
		return nil
	}
	r, err := m.Open()
	if err != nil {
		return fmt.Errorf("open media %s: %w", m.ID, err)
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return fmt.Errorf("hash media %s: %w", m.ID, err)
	}
	m.Set("hash", archive.ScalarProperty(hex.EncodeToString(h.Sum(nil))))
	return nil
}
