// Package exifmeta extracts EXIF metadata from archived image media.
// EXIF tags (GPS coordinates, camera make/model, timestamps) are often
// the most valuable context attached to a piece of archived evidence.
package exifmeta

import (
	"context"
	"io"
	"regexp"

	exif "github.com/dsoprea/go-exif/v3"
	"go.uber.org/zap"

	"github.com/linkvault/archiver/internal/archive"
)

// imagePattern matches filenames of formats that carry EXIF segments.
var imagePattern = regexp.MustCompile(`(?i)\.(jpe?g|tiff?|heic|png)$`)

// maxImageBytes caps how much of a media file is scanned for EXIF data.
const maxImageBytes = 16 * 1024 * 1024

// Enricher attaches an "exif" property holding a tag-name to formatted
// value map for each image media object.
type Enricher struct {
	logger *zap.Logger
}

// New returns the EXIF enricher.
func New(logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{logger: logger}
}

// Name implements archive.Enricher.
func (e *Enricher) Name() string { return "exif" }

// Enrich scans image media for EXIF segments. Images without EXIF data,
// non-image media and undecodable segments are skipped; none of those are
// errors.
func (e *Enricher) Enrich(ctx context.Context, rec *archive.Record) error {
	for _, m := range rec.Media {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.enrichOne(m)
		for _, nested := range m.NestedMedia() {
			e.enrichOne(nested)
		}
	}
	return nil
}

func (e *Enricher) enrichOne(m *archive.Media) {
	if !imagePattern.MatchString(m.Filename) {
		return
	}
	if _, ok := m.Get("exif"); ok {
		return
	}
	r, err := m.Open()
	if err != nil {
		e.logger.Warn("open image for exif scan failed",
			zap.String("media_id", m.ID), zap.Error(err))
		return
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, maxImageBytes))
	if err != nil {
		e.logger.Warn("read image for exif scan failed",
			zap.String("media_id", m.ID), zap.Error(err))
		return
	}

	rawExif, err := exif.SearchAndExtractExif(data)
	if err != nil || rawExif == nil {
		// Most images simply carry no EXIF segment.
		return
	}
	entries, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		e.logger.Debug("undecodable exif segment",
			zap.String("media_id", m.ID), zap.Error(err))
		return
	}

	tags := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.TagName == "" {
			continue
		}
		tags[entry.TagName] = entry.Formatted
	}
	if len(tags) > 0 {
		m.Set("exif", archive.ScalarProperty(tags))
	}
}
