// Package archive defines the core types and stage contracts for the URL
// archiving pipeline, and the Orchestrator that drives records through it.
package archive

// Record is the per-item unit of work. A Feeder creates one per emitted
// URL; the pipeline stages mutate it; every StateStore observes it at the
// terminal transition. The engine itself never persists it.
type Record struct {
	// URL is the item identity. Sanitization may replace it, in which
	// case OriginalURL retains the feeder-supplied form.
	URL         string `json:"url"`
	OriginalURL string `json:"original_url,omitempty"`

	// Status is free-form progress text set by fetchers and stores.
	Status string `json:"status,omitempty"`
	// Success reports that some fetcher produced usable content.
	Success bool `json:"success"`
	// Rearchivable accumulates fetcher votes that this URL may be
	// legitimately re-processed instead of served from cache.
	Rearchivable bool `json:"rearchivable"`

	// Folder is feeder-supplied destination context consulted by storages.
	Folder string `json:"folder,omitempty"`
	// TmpDir is the scratch working directory owned by the in-flight item.
	TmpDir string `json:"-"`

	Media      []*Media `json:"media,omitempty"`
	FinalMedia *Media   `json:"final_media,omitempty"`

	// Metadata is the open extension map for plugin-specific values.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewRecord creates a Record for the given URL.
func NewRecord(url string) *Record {
	return &Record{
		URL:      url,
		Metadata: make(map[string]any),
	}
}

// AddMedia appends media to the record's collection.
func (r *Record) AddMedia(ms ...*Media) {
	r.Media = append(r.Media, ms...)
}

// SetMeta records a plugin-specific metadata value.
func (r *Record) SetMeta(key string, v any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = v
}

// Meta returns a plugin-specific metadata value.
func (r *Record) Meta(key string) (any, bool) {
	v, ok := r.Metadata[key]
	return v, ok
}

// Merge folds in into r and returns r. The rule is total and idempotent:
// non-zero scalar fields of in overwrite, Success and Rearchivable are
// OR-accumulated, Media lists concatenate with deduplication by Media.ID,
// and Metadata keys from in overwrite. Merging a record into a copy of
// itself leaves it observably unchanged. Media without an ID (built as a
// bare literal rather than via NewMedia) never collapse with one another;
// they deduplicate by pointer identity only.
func (r *Record) Merge(in *Record) *Record {
	if in == nil {
		return r
	}
	if in.URL != "" {
		r.URL = in.URL
	}
	if in.OriginalURL != "" {
		r.OriginalURL = in.OriginalURL
	}
	if in.Status != "" {
		r.Status = in.Status
	}
	if in.Folder != "" {
		r.Folder = in.Folder
	}
	if in.TmpDir != "" {
		r.TmpDir = in.TmpDir
	}
	r.Success = r.Success || in.Success
	r.Rearchivable = r.Rearchivable || in.Rearchivable
	if in.FinalMedia != nil {
		r.FinalMedia = in.FinalMedia
	}

	seen := make(map[string]bool, len(r.Media))
	seenPtr := make(map[*Media]bool, len(r.Media))
	for _, m := range r.Media {
		if m.ID != "" {
			seen[m.ID] = true
		}
		seenPtr[m] = true
	}
	for _, m := range in.Media {
		if seenPtr[m] || (m.ID != "" && seen[m.ID]) {
			continue
		}
		r.Media = append(r.Media, m)
		if m.ID != "" {
			seen[m.ID] = true
		}
		seenPtr[m] = true
	}

	for k, v := range in.Metadata {
		r.SetMeta(k, v)
	}
	return r
}

// Clone returns a shallow copy with its own Media slice and Metadata map.
// Media objects themselves are shared; the pipeline treats them as owned
// by whichever record currently holds them.
func (r *Record) Clone() *Record {
	out := *r
	out.Media = append([]*Media(nil), r.Media...)
	out.Metadata = make(map[string]any, len(r.Metadata))
	for k, v := range r.Metadata {
		out.Metadata[k] = v
	}
	return &out
}
