// Package index keeps the URL index consistent with its owning entities:
// it reconciles fragments per entity, coalesces bursts of writes, answers
// prefix queries and runs maintenance over the store.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
	"github.com/Aman-CERP/urlindex/internal/events"
	"github.com/Aman-CERP/urlindex/internal/fragment"
	"github.com/Aman-CERP/urlindex/internal/store"
)

// DefaultQueryCacheSize is the number of distinct query terms cached.
const DefaultQueryCacheSize = 256

// Options configures an Indexer. Zero values are usable.
type Options struct {
	// Bus receives IndexFinished after every Index call. Optional.
	Bus *events.Bus

	// Metrics defaults to a fresh unregistered set.
	Metrics *Metrics

	// QueryCacheSize bounds the query result cache. Zero or less disables
	// caching.
	QueryCacheSize int

	Logger *slog.Logger
}

// Indexer owns one store handle and serialises every read-diff-write
// section behind a single mutex, so reconciliation for an entity never
// interleaves with another write.
type Indexer struct {
	stores *store.Lazy

	mu sync.Mutex

	sourcesMu sync.RWMutex
	sources   map[string]Source

	cacheMu  sync.Mutex
	cache    *lru.Cache[string, []string]
	cacheGen uint64

	bus     *events.Bus
	metrics *Metrics
	logger  *slog.Logger
}

// New creates an Indexer over a lazily opened store.
func New(stores *store.Lazy, opts Options) (*Indexer, error) {
	ix := &Indexer{
		stores:  stores,
		sources: make(map[string]Source),
		bus:     opts.Bus,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	if ix.metrics == nil {
		ix.metrics = NewMetrics()
	}
	if ix.logger == nil {
		ix.logger = slog.Default()
	}
	if opts.QueryCacheSize > 0 {
		cache, err := lru.New[string, []string](opts.QueryCacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create query cache: %w", err)
		}
		ix.cache = cache
	}
	return ix, nil
}

// Metrics returns the indexer's instruments.
func (ix *Indexer) Metrics() *Metrics {
	return ix.metrics
}

// Store returns the underlying store, opening it if needed.
func (ix *Indexer) Store(ctx context.Context) (store.Store, error) {
	return ix.stores.Get(ctx)
}

// Close releases the store handle.
func (ix *Indexer) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.stores.Close()
}

// Index reconciles every record against its stored rows, then writes the
// inserts followed by the stale-row deletes. Records are applied in order;
// a repeated id reconciles against the state left by the earlier record.
// IndexFinished is published with the outcome.
func (ix *Indexer) Index(ctx context.Context, records []Record) error {
	start := time.Now()
	inserted, deleted, err := ix.index(ctx, records)
	ix.metrics.IndexDuration.WithLabelValues("index").Observe(time.Since(start).Seconds())

	if err != nil {
		ix.logger.Error("index_batch_failed",
			slog.Int("records", len(records)),
			slog.String("error", err.Error()))
	} else {
		ix.logger.Debug("index_batch_complete",
			slog.Int("records", len(records)),
			slog.Int("inserted", inserted),
			slog.Int("deleted", deleted),
			slog.Duration("duration", time.Since(start)))
	}

	if ix.bus != nil {
		ix.bus.Publish(events.IndexFinished{Count: len(records), Err: err})
	}
	return err
}

func (ix *Indexer) index(ctx context.Context, records []Record) (int, int, error) {
	valid := make([]Record, 0, len(records))
	for _, rec := range records {
		if strings.TrimSpace(rec.ID) == "" {
			ix.logger.Warn("index_record_skipped",
				slog.String("reason", "empty id"),
				slog.String("url", rec.URL))
			continue
		}
		valid = append(valid, rec)
	}
	if len(valid) == 0 {
		return 0, 0, nil
	}

	s, err := ix.stores.Get(ctx)
	if err != nil {
		return 0, 0, err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ids := make([]string, 0, len(valid))
	for _, rec := range valid {
		ids = append(ids, rec.ID)
	}
	current, err := s.GetByRequestIDs(ctx, ids)
	if err != nil {
		return 0, 0, uierrors.New(uierrors.ErrCodeIndexFailed, "failed to read indexed rows", err)
	}

	var inserts []*store.Entry
	var deletes []string
	pending := make(map[string]bool)
	for _, rec := range valid {
		plan := Reconcile(rec, current[rec.ID])
		current[rec.ID] = append(append([]*store.Entry{}, plan.Unchanged...), plan.Insert...)

		for _, e := range plan.Insert {
			inserts = append(inserts, e)
			pending[e.ID] = true
		}
		for _, e := range plan.Delete {
			if _, unwritten := pending[e.ID]; unwritten {
				// Inserted by an earlier record in this batch; just drop it.
				pending[e.ID] = false
				continue
			}
			deletes = append(deletes, e.ID)
		}
	}

	toWrite := inserts[:0]
	for _, e := range inserts {
		if pending[e.ID] {
			toWrite = append(toWrite, e)
		}
	}

	if len(toWrite) == 0 && len(deletes) == 0 {
		return 0, 0, nil
	}

	if err := s.PutBatch(ctx, toWrite); err != nil {
		return 0, 0, uierrors.New(uierrors.ErrCodeIndexFailed, "failed to write index rows", err)
	}
	ix.purgeCache()
	ix.metrics.RowsInserted.Add(float64(len(toWrite)))

	if err := s.DeleteByIDs(ctx, deletes); err != nil {
		return len(toWrite), 0, uierrors.New(uierrors.ErrCodeIndexFailed, "failed to delete stale index rows", err)
	}
	ix.purgeCache()
	ix.metrics.RowsDeleted.Add(float64(len(deletes)))

	return len(toWrite), len(deletes), nil
}

// Query returns the owning entity ids whose fragments begin with term,
// compared case-insensitively. Each id appears once. A blank term matches
// nothing.
func (ix *Indexer) Query(ctx context.Context, term string) ([]string, error) {
	term = fragment.Canonical(strings.TrimSpace(term))
	if term == "" {
		return []string{}, nil
	}
	ix.metrics.Queries.Inc()

	gen, hit, ok := ix.cached(term)
	if ok {
		ix.metrics.QueryCacheHits.Inc()
		return hit, nil
	}

	s, err := ix.stores.Get(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.QueryPrefix(ctx, term)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", term, err)
	}

	seen := make(map[string]struct{}, len(rows))
	ids := make([]string, 0, len(rows))
	for _, e := range rows {
		if _, dup := seen[e.RequestID]; dup {
			continue
		}
		seen[e.RequestID] = struct{}{}
		ids = append(ids, e.RequestID)
	}

	ix.remember(gen, term, ids)
	return ids, nil
}

// Reindex rebuilds one category from its registered source. The whole
// collection is loaded into memory before writing.
func (ix *Indexer) Reindex(ctx context.Context, category string) (int, error) {
	src, ok := ix.source(category)
	if !ok {
		return 0, ix.unknownCategory(category)
	}

	records, err := src.Load(ctx)
	if err != nil {
		return 0, uierrors.New(uierrors.ErrCodeIndexFailed, fmt.Sprintf("failed to load %s collection", category), err).
			WithDetail("category", category)
	}
	ix.logger.Info("reindex_loaded",
		slog.String("category", category),
		slog.Int("records", len(records)))

	if err := ix.Index(ctx, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// ReindexResult reports one category rebuilt by ReindexAll.
type ReindexResult struct {
	Category string
	Records  int
}

// ReindexAll loads every registered source concurrently, then indexes the
// categories one at a time in name order. It stops at the first failure.
func (ix *Indexer) ReindexAll(ctx context.Context) ([]ReindexResult, error) {
	categories := ix.Categories()
	loaded := make([][]Record, len(categories))

	g, gctx := errgroup.WithContext(ctx)
	for i, category := range categories {
		src, _ := ix.source(category)
		g.Go(func() error {
			records, err := src.Load(gctx)
			if err != nil {
				return uierrors.New(uierrors.ErrCodeIndexFailed, fmt.Sprintf("failed to load %s collection", category), err).
					WithDetail("category", category)
			}
			loaded[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]ReindexResult, 0, len(categories))
	for i, category := range categories {
		ix.logger.Info("reindex_loaded",
			slog.String("category", category),
			slog.Int("records", len(loaded[i])))
		if err := ix.Index(ctx, loaded[i]); err != nil {
			return results, fmt.Errorf("reindex %s: %w", category, err)
		}
		results = append(results, ReindexResult{Category: category, Records: len(loaded[i])})
	}
	return results, nil
}

// DeleteIndexedData removes every row owned by the given entities.
func (ix *Indexer) DeleteIndexedData(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return ix.write(ctx, "delete_ids", func(s store.Store) error {
		return s.DeleteByRequestIDs(ctx, ids)
	})
}

// DeleteIndexedType removes every row of one category regardless of owner.
func (ix *Indexer) DeleteIndexedType(ctx context.Context, typ string) error {
	return ix.write(ctx, "delete_type", func(s store.Store) error {
		return s.DeleteByType(ctx, typ)
	})
}

// ClearIndexedData empties the store.
func (ix *Indexer) ClearIndexedData(ctx context.Context) error {
	return ix.write(ctx, "clear", func(s store.Store) error {
		return s.Clear(ctx)
	})
}

// Stats reports row counts.
func (ix *Indexer) Stats(ctx context.Context) (*store.Stats, error) {
	s, err := ix.stores.Get(ctx)
	if err != nil {
		return nil, err
	}
	return s.Stats(ctx)
}

func (ix *Indexer) write(ctx context.Context, op string, fn func(store.Store) error) error {
	s, err := ix.stores.Get(ctx)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()
	err = fn(s)
	ix.purgeCache()
	ix.metrics.IndexDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return uierrors.New(uierrors.ErrCodeIndexFailed, strings.ReplaceAll(op, "_", " ")+" failed", err)
	}

	ix.logger.Debug("index_maintenance_complete",
		slog.String("op", op),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (ix *Indexer) unknownCategory(category string) error {
	known := ix.Categories()
	err := uierrors.New(uierrors.ErrCodeUnknownCategory, fmt.Sprintf("unknown category: %s", category), nil).
		WithDetail("category", category)
	if len(known) > 0 {
		err = err.WithSuggestion("use one of: " + strings.Join(known, ", "))
	} else {
		err = err.WithSuggestion("configure a source under `sources:` in the config file")
	}
	return err
}

// cached returns the cache generation alongside any hit, so a result
// computed across a purge is not stored.
func (ix *Indexer) cached(term string) (uint64, []string, bool) {
	if ix.cache == nil {
		return 0, nil, false
	}
	ix.cacheMu.Lock()
	defer ix.cacheMu.Unlock()

	ids, ok := ix.cache.Get(term)
	if !ok {
		return ix.cacheGen, nil, false
	}
	return ix.cacheGen, append([]string(nil), ids...), true
}

func (ix *Indexer) remember(gen uint64, term string, ids []string) {
	if ix.cache == nil {
		return
	}
	ix.cacheMu.Lock()
	defer ix.cacheMu.Unlock()

	if gen != ix.cacheGen {
		return
	}
	ix.cache.Add(term, append([]string(nil), ids...))
}

func (ix *Indexer) purgeCache() {
	if ix.cache == nil {
		return
	}
	ix.cacheMu.Lock()
	defer ix.cacheMu.Unlock()

	ix.cacheGen++
	ix.cache.Purge()
}
