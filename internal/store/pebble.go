package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
)

// Key layout. Secondary index keys carry the row id as their value so the
// owning row can be found without parsing the key.
//
//	e/<id>                 -> JSON Entry
//	r/<requestId>\x00<id>  -> id
//	u/<url>\x00<id>        -> id
//	t/<type>\x00<id>       -> id
//	m/schema_version       -> decimal version
const (
	prefixEntry     = "e/"
	prefixRequestID = "r/"
	prefixURL       = "u/"
	prefixType      = "t/"
	prefixMeta      = "m/"
	keySep          = "\x00"
)

var (
	schemaVersionKey = []byte(prefixMeta + "schema_version")
	rowPrefixes      = []string{prefixEntry, prefixRequestID, prefixURL, prefixType}
)

// PebbleStore keeps rows and their secondary indexes as key ranges in one
// ordered key-value store. It is the default backend.
type PebbleStore struct {
	mu     sync.RWMutex
	db     *pebble.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ Store = (*PebbleStore)(nil)

// NewPebbleStore opens (or creates) a pebble store at path.
// If path is empty, the store lives in memory.
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if path == "" {
		opts.FS = vfs.NewMem()
	} else if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %q: %w", path, err)
	}

	s := &PebbleStore{db: db, path: path}
	if err := s.checkSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying database for metrics collection.
func (s *PebbleStore) DB() *pebble.DB {
	return s.db
}

func (s *PebbleStore) checkSchema() error {
	version, err := s.readSchemaVersion()
	if err != nil {
		return err
	}

	switch {
	case version == CurrentSchemaVersion:
		return nil
	case version > CurrentSchemaVersion:
		return uierrors.New(uierrors.ErrCodeCorruptIndex,
			fmt.Sprintf("index schema version %d is newer than supported version %d", version, CurrentSchemaVersion), nil).
			WithDetail("path", s.path).
			WithSuggestion("upgrade urlindex or delete the index directory and run `urlindex reindex --all`")
	}

	if version > 0 {
		slog.Warn("pebble_schema_outdated",
			slog.String("path", s.path),
			slog.Int("found", version),
			slog.Int("current", CurrentSchemaVersion))
	}

	b := s.db.NewBatch()
	defer b.Close()
	for _, p := range rowPrefixes {
		if err := b.DeleteRange([]byte(p), upperBound(p), nil); err != nil {
			return fmt.Errorf("failed to wipe outdated index: %w", err)
		}
	}
	if err := b.Set(schemaVersionKey, []byte(strconv.Itoa(CurrentSchemaVersion)), nil); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleStore) readSchemaVersion() (int, error) {
	value, closer, err := s.db.Get(schemaVersionKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	defer closer.Close()

	version, err := strconv.Atoi(string(value))
	if err != nil {
		return 0, uierrors.New(uierrors.ErrCodeCorruptIndex, "unreadable schema version", err)
	}
	return version, nil
}

// GetByRequestIDs returns existing rows grouped by owner.
func (s *PebbleStore) GetByRequestIDs(ctx context.Context, requestIDs []string) (map[string][]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	out := make(map[string][]*Entry)
	for _, reqID := range uniqueStrings(requestIDs) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, err := s.scanIDs(prefixRequestID + reqID + keySep)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			e, err := s.getEntry(id)
			if err != nil {
				return nil, err
			}
			if e != nil {
				out[reqID] = append(out[reqID], e)
			}
		}
	}
	return out, nil
}

// PutBatch writes rows together with their secondary index keys.
func (s *PebbleStore) PutBatch(ctx context.Context, rows []*Entry) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	b := s.db.NewIndexedBatch()
	defer b.Close()

	for _, e := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		old, err := getEntryFrom(b, e.ID)
		if err != nil {
			return err
		}
		if old != nil {
			if err := deleteRow(b, old); err != nil {
				return err
			}
		}

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode row %s: %w", e.ID, err)
		}
		id := []byte(e.ID)
		if err := b.Set(entryKey(e.ID), data, nil); err != nil {
			return err
		}
		for _, k := range indexKeys(e) {
			if err := b.Set(k, id, nil); err != nil {
				return err
			}
		}
	}

	return b.Commit(pebble.Sync)
}

// DeleteByIDs removes rows and their index keys.
func (s *PebbleStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return s.deleteIDsLocked(ctx, ids)
}

// DeleteByRequestIDs removes every row owned by the given entities.
func (s *PebbleStore) DeleteByRequestIDs(ctx context.Context, requestIDs []string) error {
	if len(requestIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	var ids []string
	for _, reqID := range uniqueStrings(requestIDs) {
		found, err := s.scanIDs(prefixRequestID + reqID + keySep)
		if err != nil {
			return err
		}
		ids = append(ids, found...)
	}
	return s.deleteIDsLocked(ctx, ids)
}

// DeleteByType removes every row of one category.
func (s *PebbleStore) DeleteByType(ctx context.Context, typ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	ids, err := s.scanIDs(prefixType + typ + keySep)
	if err != nil {
		return err
	}
	return s.deleteIDsLocked(ctx, ids)
}

// Clear removes every row, keeping the schema version.
func (s *PebbleStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	for _, p := range rowPrefixes {
		if err := b.DeleteRange([]byte(p), upperBound(p), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// QueryPrefix scans the url index for fragments beginning with term.
func (s *PebbleStore) QueryPrefix(ctx context.Context, term string) ([]*Entry, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return []*Entry{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	ids, err := s.scanIDs(prefixURL + term)
	if err != nil {
		return nil, err
	}

	results := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := s.getEntry(id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			results = append(results, e)
		}
	}
	sortEntries(results)
	return results, nil
}

// Stats walks the primary rows.
func (s *PebbleStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixEntry),
		UpperBound: upperBound(prefixEntry),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	stats := &Stats{RowsByType: make(map[string]int), Backend: string(BackendPebble), Path: s.path}
	owners := make(map[string]struct{})
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("failed to decode row %q: %w", iter.Key(), err)
		}
		stats.Rows++
		stats.RowsByType[e.Type]++
		owners[e.RequestID] = struct{}{}
	}
	stats.RequestIDs = len(owners)
	return stats, iter.Error()
}

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *PebbleStore) deleteIDsLocked(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	b := s.db.NewIndexedBatch()
	defer b.Close()

	for _, id := range uniqueStrings(ids) {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := getEntryFrom(b, id)
		if err != nil {
			return err
		}
		if e == nil {
			continue
		}
		if err := deleteRow(b, e); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// scanIDs returns the ids stored under every index key with the prefix.
func (s *PebbleStore) scanIDs(prefix string) ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		ids = append(ids, string(iter.Value()))
	}
	return ids, iter.Error()
}

func (s *PebbleStore) getEntry(id string) (*Entry, error) {
	return getEntryFrom(s.db, id)
}

func getEntryFrom(r pebble.Reader, id string) (*Entry, error) {
	value, closer, err := r.Get(entryKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read row %s: %w", id, err)
	}
	defer closer.Close()

	var e Entry
	if err := json.Unmarshal(value, &e); err != nil {
		return nil, fmt.Errorf("failed to decode row %s: %w", id, err)
	}
	return &e, nil
}

func deleteRow(b *pebble.Batch, e *Entry) error {
	if err := b.Delete(entryKey(e.ID), nil); err != nil {
		return err
	}
	for _, k := range indexKeys(e) {
		if err := b.Delete(k, nil); err != nil {
			return err
		}
	}
	return nil
}

func entryKey(id string) []byte {
	return []byte(prefixEntry + id)
}

func indexKeys(e *Entry) [][]byte {
	return [][]byte{
		[]byte(prefixRequestID + e.RequestID + keySep + e.ID),
		[]byte(prefixURL + e.URL + keySep + e.ID),
		[]byte(prefixType + e.Type + keySep + e.ID),
	}
}

// upperBound is the exclusive end of the key range sharing prefix. Every
// prefix here starts with a letter, so a successor always exists.
func upperBound(prefix string) []byte {
	return []byte(prefixSuccessor(prefix))
}
