// Package store persists URL index rows and answers prefix lookups over
// their canonical fragments. The index is disposable: it can always be
// rebuilt from the owning collections, so schema changes wipe rather than
// migrate.
package store

import (
	"context"
	"sort"
)

// CurrentSchemaVersion is the on-disk layout version written by every
// backend. Bump it when the row encoding or key layout changes.
const CurrentSchemaVersion = 1

// Entry is one persisted URL fragment row.
type Entry struct {
	// ID is "<canonicalValue>::<type>::<uuid>". Never reused or mutated.
	ID string `json:"id"`

	// URL is the canonical (lower-cased) fragment.
	URL string `json:"url"`

	// Type is the caller-defined category ("saved", "history", ...).
	Type string `json:"type"`

	// RequestID is the owning entity id.
	RequestID string `json:"requestId"`

	// FullURL is an opaque auxiliary flag, stored and returned verbatim.
	FullURL int `json:"fullUrl"`
}

// Stats summarises the index contents.
type Stats struct {
	Rows       int            `json:"rows"`
	RowsByType map[string]int `json:"rows_by_type"`
	RequestIDs int            `json:"request_ids"`
	Backend    string         `json:"backend"`
	Path       string         `json:"path,omitempty"`
}

// Store is the persistence contract shared by all backends.
//
// Every mutating call is atomic on its own; nothing is atomic across calls.
type Store interface {
	// GetByRequestIDs returns existing rows grouped by owner. Owners with
	// no rows are absent from the map.
	GetByRequestIDs(ctx context.Context, requestIDs []string) (map[string][]*Entry, error)

	// PutBatch inserts rows. A row whose ID already exists is overwritten.
	PutBatch(ctx context.Context, rows []*Entry) error

	// DeleteByIDs removes rows by primary key. Missing ids are ignored.
	DeleteByIDs(ctx context.Context, ids []string) error

	// DeleteByRequestIDs removes every row owned by the given entities.
	DeleteByRequestIDs(ctx context.Context, requestIDs []string) error

	// DeleteByType removes every row of one category.
	DeleteByType(ctx context.Context, typ string) error

	// Clear removes every row.
	Clear(ctx context.Context) error

	// QueryPrefix returns rows whose URL begins with the lower-cased term.
	// A blank term matches nothing.
	QueryPrefix(ctx context.Context, term string) ([]*Entry, error)

	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// sortEntries orders rows by URL then ID so every backend returns
// results in the same order.
func sortEntries(rows []*Entry) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].URL != rows[j].URL {
			return rows[i].URL < rows[j].URL
		}
		return rows[i].ID < rows[j].ID
	})
}

// prefixSuccessor returns the smallest string greater than every string
// with the given prefix, or "" when no such bound exists.
func prefixSuccessor(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
