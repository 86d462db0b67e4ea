package index

import (
	"github.com/google/uuid"

	"github.com/Aman-CERP/urlindex/internal/fragment"
	"github.com/Aman-CERP/urlindex/internal/store"
)

// Record is the {id, url, type} shape collaborators hand to the indexer.
// ID is the owning entity id and becomes each row's RequestID.
type Record struct {
	ID   string `json:"id" yaml:"id"`
	URL  string `json:"url" yaml:"url"`
	Type string `json:"type" yaml:"type"`
}

// Plan is the outcome of reconciling one record against its stored rows.
type Plan struct {
	// Insert holds fresh rows for fragments not yet stored.
	Insert []*store.Entry
	// Delete holds stored rows no longer produced by the current URL.
	Delete []*store.Entry
	// Unchanged holds stored rows kept as-is, ids intact.
	Unchanged []*store.Entry
}

// Empty reports whether the plan writes nothing.
func (p Plan) Empty() bool {
	return len(p.Insert) == 0 && len(p.Delete) == 0
}

// NewEntryID returns "<value>::<type>::<uuid>".
func NewEntryID(value, typ string) string {
	return value + "::" + typ + "::" + uuid.NewString()
}

// Reconcile diffs the fragments of rec.URL against the rows already stored
// for rec.ID. Comparison is on the lower-cased fragment value and counts
// occurrences: each desired fragment keeps at most one existing row, so a
// fragment that appears twice in a URL (the query and its only pair in
// "?a=b") is stored twice. Rows owned by other entities are ignored.
func Reconcile(rec Record, existing []*store.Entry) Plan {
	var plan Plan

	pool := make(map[string][]*store.Entry)
	for _, e := range existing {
		if e.RequestID != rec.ID {
			continue
		}
		key := fragment.Canonical(e.URL)
		pool[key] = append(pool[key], e)
	}

	kept := make(map[string]bool)
	for _, f := range fragment.Decompose(rec.URL) {
		value := fragment.Canonical(f.Value)
		if rows := pool[value]; len(rows) > 0 {
			plan.Unchanged = append(plan.Unchanged, rows[0])
			kept[rows[0].ID] = true
			pool[value] = rows[1:]
			continue
		}
		plan.Insert = append(plan.Insert, &store.Entry{
			ID:        NewEntryID(value, rec.Type),
			URL:       value,
			Type:      rec.Type,
			RequestID: rec.ID,
			FullURL:   f.FullURL,
		})
	}

	for _, e := range existing {
		if e.RequestID == rec.ID && !kept[e.ID] {
			plan.Delete = append(plan.Delete, e)
		}
	}
	return plan
}
