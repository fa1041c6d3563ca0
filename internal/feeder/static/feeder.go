// Package static provides a feeder over a fixed list of URLs.
package static

import (
	"context"
	"fmt"
	"sync"

	"github.com/linkvault/archiver/internal/archive"
)

// Feeder emits one record per configured URL, then reports the feed done.
// It is the default feeder when URLs come from the command line.
type Feeder struct {
	mu     sync.Mutex
	urls   []string
	folder string
	next   int
}

// New constructs a Feeder over urls; folder is attached to every record
// as destination context for storages.
func New(urls []string, folder string) *Feeder {
	return &Feeder{
		urls:   append([]string(nil), urls...),
		folder: folder,
	}
}

// Next returns the next record or archive.ErrFeedDone once exhausted.
func (f *Feeder) Next(ctx context.Context) (*archive.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("static feed canceled: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.urls) {
		return nil, archive.ErrFeedDone
	}
	rec := archive.NewRecord(f.urls[f.next])
	rec.Folder = f.folder
	f.next++
	return rec, nil
}
