package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFeeder struct {
	mu   sync.Mutex
	recs []*Record
	next int
}

func (f *fakeFeeder) Next(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.recs) {
		return nil, ErrFeedDone
	}
	rec := f.recs[f.next]
	f.next++
	return rec, nil
}

type fakeFetcher struct {
	name         string
	sanitize     func(string) string
	rearchivable bool
	download     func(ctx context.Context, r *Record) (*Record, error)

	mu        sync.Mutex
	downloads []string
}

func (f *fakeFetcher) Name() string                { return f.name }
func (f *fakeFetcher) Setup(context.Context) error { return nil }

func (f *fakeFetcher) SanitizeURL(url string) string {
	if f.sanitize == nil {
		return url
	}
	return f.sanitize(url)
}

func (f *fakeFetcher) IsRearchivable(string) bool { return f.rearchivable }

func (f *fakeFetcher) Download(ctx context.Context, r *Record) (*Record, error) {
	f.mu.Lock()
	f.downloads = append(f.downloads, r.URL)
	f.mu.Unlock()
	if f.download == nil {
		return nil, nil
	}
	return f.download(ctx, r)
}

func (f *fakeFetcher) downloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.downloads)
}

type fakeEnricher struct {
	name   string
	enrich func(ctx context.Context, r *Record) error
}

func (e *fakeEnricher) Name() string { return e.name }

func (e *fakeEnricher) Enrich(ctx context.Context, r *Record) error {
	if e.enrich == nil {
		return nil
	}
	return e.enrich(ctx, r)
}

type fakeStorage struct {
	name string

	mu     sync.Mutex
	stored []*Media
}

func (s *fakeStorage) Name() string { return s.name }

func (s *fakeStorage) Store(_ context.Context, m *Media, _ *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, m)
	m.StorageURL = fmt.Sprintf("fake://%s/%s", s.name, m.ID)
	return nil
}

func (s *fakeStorage) storedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

type fakeStateStore struct {
	name   string
	cached *Record

	mu      sync.Mutex
	started []string
	done    []*Record
	failed  []string
	aborted []string
}

func (s *fakeStateStore) Name() string { return s.name }

func (s *fakeStateStore) Started(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, r.URL)
	return nil
}

func (s *fakeStateStore) Fetch(_ context.Context, _ *Record) (*Record, error) {
	if s.cached == nil {
		return nil, nil
	}
	return s.cached.Clone(), nil
}

func (s *fakeStateStore) Done(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = append(s.done, r)
	return nil
}

func (s *fakeStateStore) Failed(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, r.URL)
	return nil
}

func (s *fakeStateStore) Aborted(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = append(s.aborted, r.URL)
	return nil
}

func (s *fakeStateStore) counts() (started, done, failed, aborted int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.started), len(s.done), len(s.failed), len(s.aborted)
}

type fakeFormatter struct {
	format func(ctx context.Context, r *Record) (*Media, error)
}

func (f *fakeFormatter) Format(ctx context.Context, r *Record) (*Media, error) {
	if f.format == nil {
		return nil, nil
	}
	return f.format(ctx, r)
}

func successFetcher(name string) *fakeFetcher {
	return &fakeFetcher{
		name:         name,
		rearchivable: true,
		download: func(_ context.Context, r *Record) (*Record, error) {
			out := NewRecord(r.URL)
			out.Success = true
			out.Status = name + ": success"
			out.AddMedia(NewBufferMedia("page.html", []byte("<html></html>")))
			return out, nil
		},
	}
}

func newTestOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	cfg.TmpRoot = t.TempDir()
	o, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	return o
}

func TestArchive_SanitizeComposesInRegistrationOrder(t *testing.T) {
	t.Parallel()

	first := successFetcher("first")
	first.sanitize = func(url string) string { return strings.TrimSuffix(url, "?utm=1") }
	second := successFetcher("second")
	second.sanitize = func(url string) string { return url + "/clean" }

	store := &fakeStateStore{name: "mem"}
	o := newTestOrchestrator(t, Config{
		Feeder:      &fakeFeeder{},
		Fetchers:    []Fetcher{first, second},
		StateStores: []StateStore{store},
	})

	rec := NewRecord("https://example.com?utm=1")
	rec.TmpDir = t.TempDir()
	out, err := o.Archive(context.Background(), rec)
	require.NoError(t, err)

	require.Equal(t, "https://example.com/clean", out.URL)
	require.Equal(t, "https://example.com?utm=1", out.OriginalURL)
	// Both fetchers saw the fully sanitized URL at download time.
	require.Equal(t, []string{"https://example.com/clean"}, first.downloads[:1])
}

func TestArchive_SanitizeIdentityLeavesOriginalUnset(t *testing.T) {
	t.Parallel()

	f := successFetcher("web")
	o := newTestOrchestrator(t, Config{
		Feeder:      &fakeFeeder{},
		Fetchers:    []Fetcher{f},
		StateStores: []StateStore{&fakeStateStore{name: "mem"}},
	})

	rec := NewRecord("https://example.com")
	rec.TmpDir = t.TempDir()
	out, err := o.Archive(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, "https://example.com", out.URL)
	require.Empty(t, out.OriginalURL)
}

func TestArchive_RearchivableIsORAccumulated(t *testing.T) {
	t.Parallel()

	no := successFetcher("no")
	no.rearchivable = false
	yes := successFetcher("yes")
	yes.rearchivable = true
	alsoNo := successFetcher("also-no")
	alsoNo.rearchivable = false

	o := newTestOrchestrator(t, Config{
		Feeder:      &fakeFeeder{},
		Fetchers:    []Fetcher{no, yes, alsoNo},
		StateStores: []StateStore{&fakeStateStore{name: "mem"}},
	})

	rec := NewRecord("https://example.com")
	rec.TmpDir = t.TempDir()
	out, err := o.Archive(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, out.Rearchivable)
}

func TestArchive_CacheHitShortCircuitsFetch(t *testing.T) {
	t.Parallel()

	f := successFetcher("web")
	f.rearchivable = false

	cached := NewRecord("https://example.com")
	cached.Success = true
	cached.Status = "web: success"
	cached.AddMedia(NewBufferMedia("page.html", []byte("old")))

	store := &fakeStateStore{name: "mem", cached: cached}
	other := &fakeStateStore{name: "console"}
	o := newTestOrchestrator(t, Config{
		Feeder:      &fakeFeeder{},
		Fetchers:    []Fetcher{f},
		StateStores: []StateStore{store, other},
	})

	rec := NewRecord("https://example.com")
	rec.TmpDir = t.TempDir()
	out, err := o.Archive(context.Background(), rec)
	require.NoError(t, err)

	require.Zero(t, f.downloadCount(), "cache hit must not download")
	require.True(t, out.Success)
	require.Len(t, out.Media, 1)

	// Every store observes the completion, including the ones that missed.
	_, done, _, _ := store.counts()
	require.Equal(t, 1, done)
	_, done, _, _ = other.counts()
	require.Equal(t, 1, done)
}

func TestArchive_RearchivableCacheHitIsIgnored(t *testing.T) {
	t.Parallel()

	f := successFetcher("web")

	cached := NewRecord("https://example.com")
	cached.Success = true
	cached.Rearchivable = true

	store := &fakeStateStore{name: "mem", cached: cached}
	o := newTestOrchestrator(t, Config{
		Feeder:      &fakeFeeder{},
		Fetchers:    []Fetcher{f},
		StateStores: []StateStore{store},
	})

	rec := NewRecord("https://example.com")
	rec.TmpDir = t.TempDir()
	_, err := o.Archive(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, 1, f.downloadCount(), "rearchivable entries must be fetched again")
}

func TestArchive_FetcherChainStopsAtFirstSuccess(t *testing.T) {
	t.Parallel()

	failing := &fakeFetcher{
		name: "failing",
		download: func(context.Context, *Record) (*Record, error) {
			return nil, errors.New("boom")
		},
	}
	missing := &fakeFetcher{
		name: "missing",
		download: func(_ context.Context, r *Record) (*Record, error) {
			out := NewRecord(r.URL)
			out.SetMeta("probe", "miss")
			return out, nil
		},
	}
	winning := successFetcher("winning")
	unreached := successFetcher("unreached")

	o := newTestOrchestrator(t, Config{
		Feeder:      &fakeFeeder{},
		Fetchers:    []Fetcher{failing, missing, winning, unreached},
		StateStores: []StateStore{&fakeStateStore{name: "mem"}},
	})

	rec := NewRecord("https://example.com")
	rec.TmpDir = t.TempDir()
	out, err := o.Archive(context.Background(), rec)
	require.NoError(t, err)

	require.True(t, out.Success)
	require.Equal(t, 1, failing.downloadCount())
	require.Equal(t, 1, missing.downloadCount())
	require.Equal(t, 1, winning.downloadCount())
	require.Zero(t, unreached.downloadCount(), "chain must stop at first success")

	// Earlier non-success contributions are retained through the merge.
	probe, ok := out.Meta("probe")
	require.True(t, ok)
	require.Equal(t, "miss", probe)
}

func TestArchive_StoresNestedMediaExactlyOneLevelDeep(t *testing.T) {
	t.Parallel()

	nested := NewBufferMedia("thumb.png", []byte("png"))
	listed1 := NewBufferMedia("frame1.png", []byte("f1"))
	listed2 := NewBufferMedia("frame2.png", []byte("f2"))

	top := NewBufferMedia("video.mp4", []byte("mp4"))
	top.Set("thumbnail", MediaProperty(nested))
	top.Set("frames", MediaListProperty(listed1, listed2))
	top.Set("duration", ScalarProperty(12.5))

	f := &fakeFetcher{
		name: "web",
		download: func(_ context.Context, r *Record) (*Record, error) {
			out := NewRecord(r.URL)
			out.Success = true
			out.AddMedia(top)
			return out, nil
		},
	}

	storage := &fakeStorage{name: "local"}
	o := newTestOrchestrator(t, Config{
		Feeder:      &fakeFeeder{},
		Fetchers:    []Fetcher{f},
		Storages:    []Storage{storage},
		StateStores: []StateStore{&fakeStateStore{name: "mem"}},
	})

	rec := NewRecord("https://example.com")
	rec.TmpDir = t.TempDir()
	_, err := o.Archive(context.Background(), rec)
	require.NoError(t, err)

	require.Equal(t, 4, storage.storedCount(), "top media plus its three nested media")
	require.True(t, top.Stored())
	require.True(t, nested.Stored())
	require.True(t, listed1.Stored())
	require.True(t, listed2.Stored())
}

func TestArchive_FormatterOutputIsStoredAndRecorded(t *testing.T) {
	t.Parallel()

	final := NewBufferMedia("summary.md", []byte("# summary"))
	storage := &fakeStorage{name: "local"}
	o := newTestOrchestrator(t, Config{
		Feeder:      &fakeFeeder{},
		Fetchers:    []Fetcher{successFetcher("web")},
		Storages:    []Storage{storage},
		StateStores: []StateStore{&fakeStateStore{name: "mem"}},
		Formatter: &fakeFormatter{format: func(context.Context, *Record) (*Media, error) {
			return final, nil
		}},
	})

	rec := NewRecord("https://example.com")
	rec.TmpDir = t.TempDir()
	out, err := o.Archive(context.Background(), rec)
	require.NoError(t, err)

	require.Same(t, final, out.FinalMedia)
	require.True(t, final.Stored())
	// One page media plus the summary artifact.
	require.Equal(t, 2, storage.storedCount())
}

func TestRun_SuccessItemReachesDoneOnEveryStore(t *testing.T) {
	t.Parallel()

	feeder := &fakeFeeder{recs: []*Record{NewRecord("https://a.example"), NewRecord("https://b.example")}}
	s1 := &fakeStateStore{name: "mem"}
	s2 := &fakeStateStore{name: "console"}
	o := newTestOrchestrator(t, Config{
		Feeder:      feeder,
		Fetchers:    []Fetcher{successFetcher("web")},
		StateStores: []StateStore{s1, s2},
	})

	require.NoError(t, o.Run(context.Background()))

	for _, s := range []*fakeStateStore{s1, s2} {
		started, done, failed, aborted := s.counts()
		require.Equal(t, 2, started)
		require.Equal(t, 2, done)
		require.Zero(t, failed)
		require.Zero(t, aborted)
	}
}

func TestRun_AllFetchersFailingStillCompletesItem(t *testing.T) {
	t.Parallel()

	failing := &fakeFetcher{
		name: "failing",
		download: func(context.Context, *Record) (*Record, error) {
			return nil, errors.New("network down")
		},
	}
	feeder := &fakeFeeder{recs: []*Record{NewRecord("https://a.example")}}
	store := &fakeStateStore{name: "mem"}
	o := newTestOrchestrator(t, Config{
		Feeder:      feeder,
		Fetchers:    []Fetcher{failing},
		StateStores: []StateStore{store},
	})

	require.NoError(t, o.Run(context.Background()))

	started, done, failed, aborted := store.counts()
	require.Equal(t, 1, started)
	require.Equal(t, 1, done, "a fetch miss is not an item failure")
	require.Zero(t, failed)
	require.Zero(t, aborted)
	require.False(t, store.done[0].Success)
}

func TestRun_EnricherErrorFailsItemButContinuesRun(t *testing.T) {
	t.Parallel()

	feeder := &fakeFeeder{recs: []*Record{NewRecord("https://a.example"), NewRecord("https://b.example")}}
	store := &fakeStateStore{name: "mem"}
	calls := 0
	enricher := &fakeEnricher{
		name: "flaky",
		enrich: func(context.Context, *Record) error {
			calls++
			if calls == 1 {
				return errors.New("enrich exploded")
			}
			return nil
		},
	}
	o := newTestOrchestrator(t, Config{
		Feeder:      feeder,
		Fetchers:    []Fetcher{successFetcher("web")},
		Enrichers:   []Enricher{enricher},
		StateStores: []StateStore{store},
	})

	require.NoError(t, o.Run(context.Background()))

	started, done, failed, aborted := store.counts()
	require.Equal(t, 2, started)
	require.Equal(t, 1, done)
	require.Equal(t, 1, failed)
	require.Zero(t, aborted)
	require.Equal(t, []string{"https://a.example"}, store.failed)
}

func TestRun_CancellationAbortsItemAndStopsLoop(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	feeder := &fakeFeeder{recs: []*Record{
		NewRecord("https://a.example"),
		NewRecord("https://b.example"),
		NewRecord("https://c.example"),
	}}
	store := &fakeStateStore{name: "mem"}
	cancelling := &fakeFetcher{
		name: "cancelling",
		download: func(ctx context.Context, _ *Record) (*Record, error) {
			cancel()
			return nil, ctx.Err()
		},
	}
	o := newTestOrchestrator(t, Config{
		Feeder:      feeder,
		Fetchers:    []Fetcher{cancelling},
		StateStores: []StateStore{store},
	})

	err := o.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	started, done, failed, aborted := store.counts()
	require.Equal(t, 1, started, "loop must stop after the aborted item")
	require.Zero(t, done)
	require.Zero(t, failed)
	require.Equal(t, 1, aborted)
	require.Equal(t, []string{"https://a.example"}, store.aborted)
}

func TestRunPool_ProcessesWholeFeed(t *testing.T) {
	t.Parallel()

	var recs []*Record
	for i := range 20 {
		recs = append(recs, NewRecord(fmt.Sprintf("https://example.com/%d", i)))
	}
	feeder := &fakeFeeder{recs: recs}
	store := &fakeStateStore{name: "mem"}
	o := newTestOrchestrator(t, Config{
		Feeder:      feeder,
		Fetchers:    []Fetcher{successFetcher("web")},
		StateStores: []StateStore{store},
	})

	require.NoError(t, o.RunPool(context.Background(), 4))

	started, done, failed, aborted := store.counts()
	require.Equal(t, 20, started)
	require.Equal(t, 20, done)
	require.Zero(t, failed)
	require.Zero(t, aborted)
}

// overlapStore trips when two Started calls for the same URL are in
// flight at once, which a correctly serialized pool must never allow.
type overlapStore struct {
	fakeStateStore

	mu      sync.Mutex
	active  map[string]bool
	overlap bool
}

func (s *overlapStore) Started(ctx context.Context, r *Record) error {
	s.mu.Lock()
	if s.active == nil {
		s.active = make(map[string]bool)
	}
	if s.active[r.URL] {
		s.overlap = true
	}
	s.active[r.URL] = true
	s.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	s.mu.Lock()
	s.active[r.URL] = false
	s.mu.Unlock()
	return s.fakeStateStore.Started(ctx, r)
}

func (s *overlapStore) overlapped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlap
}

func TestRunPool_SerializesRawVariantsOfOneIdentity(t *testing.T) {
	t.Parallel()

	// Both raw forms sanitize to the same URL, so they share one state
	// store identity even though the feed strings differ.
	f := successFetcher("web")
	f.sanitize = func(url string) string {
		if i := strings.IndexByte(url, '?'); i >= 0 {
			return url[:i]
		}
		return url
	}

	feeder := &fakeFeeder{recs: []*Record{
		NewRecord("https://example.com/?utm_source=a"),
		NewRecord("https://example.com/"),
	}}
	store := &overlapStore{fakeStateStore: fakeStateStore{name: "mem"}}
	o := newTestOrchestrator(t, Config{
		Feeder:      feeder,
		Fetchers:    []Fetcher{f},
		StateStores: []StateStore{store},
	})

	require.NoError(t, o.RunPool(context.Background(), 2))
	require.False(t, store.overlapped(),
		"transitions for one sanitized identity must never interleave")

	started, done, _, _ := store.counts()
	require.Equal(t, 2, started)
	require.Equal(t, 2, done)
}

func TestRunPool_SingleWorkerFallsBackToSequential(t *testing.T) {
	t.Parallel()

	feeder := &fakeFeeder{recs: []*Record{NewRecord("https://a.example")}}
	store := &fakeStateStore{name: "mem"}
	o := newTestOrchestrator(t, Config{
		Feeder:      feeder,
		Fetchers:    []Fetcher{successFetcher("web")},
		StateStores: []StateStore{store},
	})

	require.NoError(t, o.RunPool(context.Background(), 1))
	_, done, _, _ := store.counts()
	require.Equal(t, 1, done)
}

func TestNew_RequiresFeeder(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, zap.NewNop())
	require.Error(t, err)
}

func TestNew_FetcherSetupFailureIsFatal(t *testing.T) {
	t.Parallel()

	bad := &badSetupFetcher{}
	_, err := New(context.Background(), Config{
		Feeder:   &fakeFeeder{},
		Fetchers: []Fetcher{bad},
	}, zap.NewNop())
	require.ErrorContains(t, err, "setup fetcher")
}

type badSetupFetcher struct{ fakeFetcher }

func (f *badSetupFetcher) Setup(context.Context) error { return errors.New("no browser") }
