package archive

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/linkvault/archiver/internal/metrics"
)

// Config assembles the pluggable stages for an Orchestrator. Registration
// order of fetchers, enrichers, storages and state stores is significant:
// each list is consulted in the order given here.
type Config struct {
	Feeder      Feeder
	Fetchers    []Fetcher
	Enrichers   []Enricher
	Storages    []Storage
	StateStores []StateStore
	Formatter   Formatter

	// TmpRoot is where per-item scratch directories are created.
	// Empty means the system temp dir.
	TmpRoot string
}

// Orchestrator drives records through the archiving pipeline: sanitize,
// rearchivable check, cache lookup, fetch, enrich, store, format, done.
// Every item pulled from the feeder reaches exactly one terminal outcome
// (done, failed or aborted) observable by every state store.
type Orchestrator struct {
	feeder    Feeder
	fetchers  []Fetcher
	enrichers []Enricher
	storages  []Storage
	stores    []StateStore
	formatter Formatter
	tmpRoot   string
	logger    *zap.Logger
	locks     keyedLocks
}

// New validates the configuration and runs every fetcher's Setup once.
// A Setup failure is fatal.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if cfg.Feeder == nil {
		return nil, fmt.Errorf("a feeder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, f := range cfg.Fetchers {
		if err := f.Setup(ctx); err != nil {
			return nil, fmt.Errorf("setup fetcher %s: %w", f.Name(), err)
		}
	}
	return &Orchestrator{
		feeder:    cfg.Feeder,
		fetchers:  cfg.Fetchers,
		enrichers: cfg.Enrichers,
		storages:  cfg.Storages,
		stores:    cfg.StateStores,
		formatter: cfg.Formatter,
		tmpRoot:   cfg.TmpRoot,
		logger:    logger,
	}, nil
}

// Run processes the feed strictly sequentially: one record is fully
// processed before the next is pulled. It returns nil when the feed is
// exhausted, or the cancellation error when the run is aborted.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		rec, err := o.feeder.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrFeedDone) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feeder next: %w", err)
		}
		if err := o.processItem(ctx, rec); err != nil {
			return err
		}
	}
}

// RunPool processes the feed with a bounded worker pool. Items are
// independent except through state store identity, so transitions for a
// given identity are serialized with a lock keyed on the sanitized URL —
// the same form the state stores see; single-threaded and pooled
// execution are behaviorally identical from a state store's perspective.
// Cancellation stops intake and lets in-flight items abort cleanly.
func (o *Orchestrator) RunPool(ctx context.Context, workers int) error {
	if workers <= 1 {
		return o.Run(ctx)
	}

	items := make(chan *Record)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(items)
		for {
			rec, err := o.feeder.Next(gctx)
			if err != nil {
				if errors.Is(err, ErrFeedDone) || gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("feeder next: %w", err)
			}
			select {
			case items <- rec:
			case <-gctx.Done():
				return nil
			}
		}
	})

	for range workers {
		g.Go(func() error {
			for rec := range items {
				mu := o.locks.forKey(o.sanitize(rec.URL))
				mu.Lock()
				err := o.processItem(gctx, rec)
				mu.Unlock()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// processItem wraps Archive with the per-item scratch directory and the
// terminal failure semantics: a stage error demotes the item to failed and
// the run continues; cancellation demotes it to aborted and the returned
// error terminates the run loop.
func (o *Orchestrator) processItem(ctx context.Context, rec *Record) error {
	tmpDir, err := os.MkdirTemp(o.tmpRoot, "archive-")
	if err != nil {
		o.logger.Error("create scratch dir failed", zap.String("url", rec.URL), zap.Error(err))
		o.reportFailed(ctx, rec)
		return nil
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			o.logger.Warn("remove scratch dir failed", zap.String("dir", tmpDir), zap.Error(rmErr))
		}
	}()
	rec.TmpDir = tmpDir

	o.logger.Info("archiving item", zap.String("url", rec.URL))
	if _, err := o.Archive(ctx, rec); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			o.logger.Warn("run interrupted, aborting item", zap.String("url", rec.URL))
			o.reportAborted(ctx, rec)
			return err
		}
		o.logger.Error("item failed", zap.String("url", rec.URL), zap.Error(err))
		o.reportFailed(ctx, rec)
	}
	return nil
}

// sanitize applies every fetcher's SanitizeURL in registration order. The
// result is the item's cache identity: state stores key on it, and RunPool
// derives its serialization lock from it.
func (o *Orchestrator) sanitize(url string) string {
	for _, f := range o.fetchers {
		url = f.SanitizeURL(url)
	}
	return url
}

// Archive drives one record through the pipeline stages and returns the
// final record. Errors from any stage other than a fetcher's Download
// propagate to the caller, which owns the failed/aborted bookkeeping.
func (o *Orchestrator) Archive(ctx context.Context, rec *Record) (*Record, error) {
	// 1 - sanitize: every fetcher cleans/expands its own URLs, composed
	// in registration order.
	original := rec.URL
	url := o.sanitize(original)
	rec.URL = url
	if url != original {
		rec.OriginalURL = original
	}

	// 2 - rearchivable: once any fetcher votes yes, it stays true.
	for _, f := range o.fetchers {
		rec.Rearchivable = rec.Rearchivable || f.IsRearchivable(url)
	}
	o.logger.Debug("rearchivable check",
		zap.String("url", url), zap.Bool("rearchivable", rec.Rearchivable))

	// 3 - notify start and propagate an already archived record if one
	// exists. A non-rearchivable cache hit short-circuits the pipeline.
	var cached *Record
	for _, d := range o.stores {
		if err := d.Started(ctx, rec); err != nil {
			return nil, fmt.Errorf("state store %s started: %w", d.Name(), err)
		}
		local, err := d.Fetch(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("state store %s fetch: %w", d.Name(), err)
		}
		if local != nil {
			if cached == nil {
				cached = NewRecord("")
			}
			cached.Merge(local)
		}
	}
	if cached != nil && !cached.Rearchivable {
		o.logger.Debug("found previously archived entry", zap.String("url", url))
		for _, d := range o.stores {
			if err := d.Done(ctx, cached); err != nil {
				return nil, fmt.Errorf("state store %s done: %w", d.Name(), err)
			}
		}
		metrics.ObserveItem(metrics.OutcomeCached)
		return cached, nil
	}

	// 4 - try fetchers until one succeeds. A fetcher error is logged and
	// the loop advances; it never fails the item.
	for _, f := range o.fetchers {
		o.logger.Info("trying fetcher", zap.String("fetcher", f.Name()), zap.String("url", url))
		out, err := f.Download(ctx, rec)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			o.logger.Error("fetcher failed",
				zap.String("fetcher", f.Name()), zap.String("url", url), zap.Error(err))
			metrics.ObserveFetch(f.Name(), metrics.FetchError)
			continue
		}
		rec.Merge(out)
		if rec.Success {
			metrics.ObserveFetch(f.Name(), metrics.FetchSuccess)
			break
		}
		metrics.ObserveFetch(f.Name(), metrics.FetchMiss)
	}

	// 5 - enrich, each seeing the cumulative effect of its predecessors.
	for _, e := range o.enrichers {
		if err := e.Enrich(ctx, rec); err != nil {
			return nil, fmt.Errorf("enricher %s: %w", e.Name(), err)
		}
	}

	// 6 - store every media object, including media nested one property
	// level deep inside other media.
	for _, s := range o.storages {
		for _, m := range rec.Media {
			if err := o.storeOne(ctx, s, m, rec); err != nil {
				return nil, err
			}
			for _, nested := range m.NestedMedia() {
				if err := o.storeOne(ctx, s, nested, rec); err != nil {
					return nil, err
				}
			}
		}
	}

	// 7 - format and store the summary artifact.
	if o.formatter != nil {
		final, err := o.formatter.Format(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("format record: %w", err)
		}
		if final != nil {
			for _, s := range o.storages {
				if err := o.storeOne(ctx, s, final, rec); err != nil {
					return nil, err
				}
			}
			rec.FinalMedia = final
		}
	}

	// 8 - signal completion to every state store.
	for _, d := range o.stores {
		if err := d.Done(ctx, rec); err != nil {
			return nil, fmt.Errorf("state store %s done: %w", d.Name(), err)
		}
	}
	metrics.ObserveItem(metrics.OutcomeDone)
	return rec, nil
}

func (o *Orchestrator) storeOne(ctx context.Context, s Storage, m *Media, rec *Record) error {
	if err := s.Store(ctx, m, rec); err != nil {
		return fmt.Errorf("storage %s: %w", s.Name(), err)
	}
	metrics.ObserveMediaStored(s.Name())
	return nil
}

// reportFailed and reportAborted notify every state store of the terminal
// outcome. Notification uses a detached context so the calls still land
// after cancellation; store errors are logged, never propagated.
func (o *Orchestrator) reportFailed(ctx context.Context, rec *Record) {
	o.notifyTerminal(ctx, rec, metrics.OutcomeFailed, StateStore.Failed)
}

func (o *Orchestrator) reportAborted(ctx context.Context, rec *Record) {
	o.notifyTerminal(ctx, rec, metrics.OutcomeAborted, StateStore.Aborted)
}

func (o *Orchestrator) notifyTerminal(
	ctx context.Context,
	rec *Record,
	outcome string,
	notify func(StateStore, context.Context, *Record) error,
) {
	ctx = context.WithoutCancel(ctx)
	for _, d := range o.stores {
		if err := notify(d, ctx, rec); err != nil {
			o.logger.Error("state store terminal notification failed",
				zap.String("store", d.Name()),
				zap.String("outcome", outcome),
				zap.String("url", rec.URL),
				zap.Error(err))
		}
	}
	metrics.ObserveItem(outcome)
}

const lockStripes = 64

// keyedLocks serializes work per cache identity with a fixed pool of
// striped mutexes. Unrelated keys may share a stripe; that widens the
// critical section but never narrows it.
type keyedLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *keyedLocks) forKey(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.stripes[h.Sum32()%lockStripes]
}
