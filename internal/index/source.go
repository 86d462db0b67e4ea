package index

import (
	"context"
	"sort"
)

// Source is a named external collection whose entities can be reindexed
// wholesale, e.g. saved or history requests.
type Source interface {
	// Load returns every entity in the collection. The whole collection is
	// held in memory for the duration of a reindex.
	Load(ctx context.Context) ([]Record, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Record, error)

func (f SourceFunc) Load(ctx context.Context) ([]Record, error) {
	return f(ctx)
}

// StaticSource is a fixed in-memory collection.
type StaticSource []Record

func (s StaticSource) Load(context.Context) ([]Record, error) {
	return append([]Record(nil), s...), nil
}

// RegisterSource makes category available to Reindex. Registering the same
// category again replaces the previous source.
func (ix *Indexer) RegisterSource(category string, src Source) {
	ix.sourcesMu.Lock()
	defer ix.sourcesMu.Unlock()
	ix.sources[category] = src
}

// Categories returns the registered category names in sorted order.
func (ix *Indexer) Categories() []string {
	ix.sourcesMu.RLock()
	defer ix.sourcesMu.RUnlock()

	names := make([]string, 0, len(ix.sources))
	for name := range ix.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ix *Indexer) source(category string) (Source, bool) {
	ix.sourcesMu.RLock()
	defer ix.sourcesMu.RUnlock()
	src, ok := ix.sources[category]
	return src, ok
}
