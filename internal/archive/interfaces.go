package archive

import (
	"context"
	"errors"
)

// ErrFeedDone is returned by a Feeder once its sequence is exhausted.
var ErrFeedDone = errors.New("feed done")

// Feeder produces a lazy, potentially infinite sequence of records, each
// pre-populated with at least a URL and feeder-supplied context.
type Feeder interface {
	Next(ctx context.Context) (*Record, error)
}

// Fetcher attempts to retrieve content for a URL. Implementations are
// registered in order; the orchestrator consults every fetcher for
// sanitization and rearchivability, and tries Download until one succeeds.
type Fetcher interface {
	// Name is a stable identifier used only for diagnostics.
	Name() string
	// Setup is called once per process before any items are processed.
	// A failure here is fatal to startup.
	Setup(ctx context.Context) error
	// SanitizeURL cleans or expands a URL. It must be safe to apply to
	// URLs the fetcher does not recognize; identity is a valid no-op.
	SanitizeURL(url string) string
	// IsRearchivable reports whether the URL may legitimately be
	// re-processed rather than served from cache.
	IsRearchivable(url string) bool
	// Download attempts the fetch and returns a record to merge, or nil
	// when the fetcher has nothing to contribute. An error is isolated to
	// this fetcher only.
	Download(ctx context.Context, r *Record) (*Record, error)
}

// Enricher post-processes a fetched record in place, adding media or
// metadata. "Nothing to do" is not an error.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, r *Record) error
}

// Storage durably stores one Media object and must set its StorageURL as
// an observable side effect. Store must be idempotent for a Media that was
// already stored.
type Storage interface {
	Name() string
	Store(ctx context.Context, m *Media, r *Record) error
}

// StateStore tracks per-item lifecycle and enables cache lookups. Every
// registered store observes every transition; there is no first-responder
// semantics.
type StateStore interface {
	Name() string
	Started(ctx context.Context, r *Record) error
	// Fetch returns a previously archived record for the same identity,
	// or nil when none is known.
	Fetch(ctx context.Context, r *Record) (*Record, error)
	Done(ctx context.Context, r *Record) error
	Failed(ctx context.Context, r *Record) error
	Aborted(ctx context.Context, r *Record) error
}

// Formatter produces a single derived summary artifact from a fully
// enriched record, or nil when no rendering applies.
type Formatter interface {
	Format(ctx context.Context, r *Record) (*Media, error)
}
