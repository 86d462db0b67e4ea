package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
)

// Bleve field names. Keyword-analysed so prefix and term queries see the
// whole canonical value as a single token.
const (
	bleveFieldURL       = "url"
	bleveFieldRequestID = "requestId"
	bleveFieldType      = "type"
	bleveFieldFullURL   = "fullUrl"
)

var bleveSchemaKey = []byte("schema_version")

// BleveStore keeps rows as documents in a bleve index.
type BleveStore struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ Store = (*BleveStore)(nil)

// NewBleveStore opens (or creates) a bleve index at path.
// If path is empty, creates an in-memory index.
func NewBleveStore(path string) (*BleveStore, error) {
	indexMapping := createURLMapping()

	if path == "" {
		idx, err := bleve.NewMemOnly(indexMapping)
		if err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
		s := &BleveStore{index: idx}
		if err := s.writeSchemaVersion(); err != nil {
			_ = idx.Close()
			return nil, err
		}
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, indexMapping)
		if err != nil {
			return nil, fmt.Errorf("failed to create index: %w", err)
		}
		s := &BleveStore{index: idx, path: path}
		if err := s.writeSchemaVersion(); err != nil {
			_ = idx.Close()
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	s := &BleveStore{index: idx, path: path}
	version, err := s.readSchemaVersion()
	if err != nil {
		_ = idx.Close()
		return nil, err
	}

	switch {
	case version == CurrentSchemaVersion:
		return s, nil
	case version > CurrentSchemaVersion:
		_ = idx.Close()
		return nil, uierrors.New(uierrors.ErrCodeCorruptIndex,
			fmt.Sprintf("index schema version %d is newer than supported version %d", version, CurrentSchemaVersion), nil).
			WithDetail("path", path).
			WithSuggestion("upgrade urlindex or delete the index directory and run `urlindex reindex --all`")
	}

	slog.Warn("bleve_schema_outdated",
		slog.String("path", path),
		slog.Int("found", version),
		slog.Int("current", CurrentSchemaVersion))

	_ = idx.Close()
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("failed to remove outdated index: %w", err)
	}
	idx, err = bleve.New(path, indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	s = &BleveStore{index: idx, path: path}
	if err := s.writeSchemaVersion(); err != nil {
		_ = idx.Close()
		return nil, err
	}
	return s, nil
}

func createURLMapping() *mapping.IndexMappingImpl {
	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name
	kw.Store = true
	kw.IncludeTermVectors = false

	num := bleve.NewNumericFieldMapping()
	num.Store = true

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(bleveFieldURL, kw)
	doc.AddFieldMappingsAt(bleveFieldRequestID, kw)
	doc.AddFieldMappingsAt(bleveFieldType, kw)
	doc.AddFieldMappingsAt(bleveFieldFullURL, num)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = doc
	indexMapping.DefaultAnalyzer = keyword.Name
	return indexMapping
}

func (s *BleveStore) readSchemaVersion() (int, error) {
	raw, err := s.index.GetInternal(bleveSchemaKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	version, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, uierrors.New(uierrors.ErrCodeCorruptIndex, "unreadable schema version", err)
	}
	return version, nil
}

func (s *BleveStore) writeSchemaVersion() error {
	if err := s.index.SetInternal(bleveSchemaKey, []byte(strconv.Itoa(CurrentSchemaVersion))); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}
	return nil
}

// GetByRequestIDs returns existing rows grouped by owner.
func (s *BleveStore) GetByRequestIDs(ctx context.Context, requestIDs []string) (map[string][]*Entry, error) {
	out := make(map[string][]*Entry)
	if len(requestIDs) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.search(ctx, termsQuery(bleveFieldRequestID, uniqueStrings(requestIDs)))
	if err != nil {
		return nil, err
	}
	for _, e := range rows {
		out[e.RequestID] = append(out[e.RequestID], e)
	}
	return out, nil
}

// PutBatch indexes rows; an existing id is replaced.
func (s *BleveStore) PutBatch(ctx context.Context, rows []*Entry) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	batch := s.index.NewBatch()
	for _, e := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := map[string]interface{}{
			bleveFieldURL:       e.URL,
			bleveFieldRequestID: e.RequestID,
			bleveFieldType:      e.Type,
			bleveFieldFullURL:   float64(e.FullURL),
		}
		if err := batch.Index(e.ID, doc); err != nil {
			return fmt.Errorf("failed to add row %s to batch: %w", e.ID, err)
		}
	}

	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index batch: %w", err)
	}
	return nil
}

// DeleteByIDs removes documents by id.
func (s *BleveStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return s.deleteLocked(ids)
}

// DeleteByRequestIDs removes every row owned by the given entities.
func (s *BleveStore) DeleteByRequestIDs(ctx context.Context, requestIDs []string) error {
	if len(requestIDs) == 0 {
		return nil
	}
	return s.deleteMatching(ctx, termsQuery(bleveFieldRequestID, uniqueStrings(requestIDs)))
}

// DeleteByType removes every row of one category.
func (s *BleveStore) DeleteByType(ctx context.Context, typ string) error {
	return s.deleteMatching(ctx, termsQuery(bleveFieldType, []string{typ}))
}

// Clear removes every document, keeping the schema version.
func (s *BleveStore) Clear(ctx context.Context) error {
	return s.deleteMatching(ctx, bleve.NewMatchAllQuery())
}

// QueryPrefix runs a prefix query against the url field.
func (s *BleveStore) QueryPrefix(ctx context.Context, term string) ([]*Entry, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return []*Entry{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	q := bleve.NewPrefixQuery(term)
	q.SetField(bleveFieldURL)

	results, err := s.search(ctx, q)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []*Entry{}
	}
	return results, nil
}

// Stats walks every document.
func (s *BleveStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.search(ctx, bleve.NewMatchAllQuery())
	if err != nil {
		return nil, err
	}

	stats := &Stats{RowsByType: make(map[string]int), Backend: string(BackendBleve), Path: s.path}
	owners := make(map[string]struct{})
	for _, e := range rows {
		stats.Rows++
		stats.RowsByType[e.Type]++
		owners[e.RequestID] = struct{}{}
	}
	stats.RequestIDs = len(owners)
	return stats, nil
}

// Close closes the index.
func (s *BleveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.index.Close()
}

func (s *BleveStore) deleteMatching(ctx context.Context, q query.Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	rows, err := s.search(ctx, q)
	if err != nil {
		return err
	}
	ids := make([]string, len(rows))
	for i, e := range rows {
		ids[i] = e.ID
	}
	return s.deleteLocked(ids)
}

func (s *BleveStore) deleteLocked(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	batch := s.index.NewBatch()
	for _, id := range uniqueStrings(ids) {
		batch.Delete(id)
	}
	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	return nil
}

// search returns every document matching q, sorted by url then id.
func (s *BleveStore) search(ctx context.Context, q query.Query) ([]*Entry, error) {
	docCount, err := s.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	if docCount == 0 {
		return nil, nil
	}

	req := bleve.NewSearchRequest(q)
	req.Size = int(docCount)
	req.Fields = []string{"*"}

	result, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	rows := make([]*Entry, 0, len(result.Hits))
	for _, hit := range result.Hits {
		rows = append(rows, entryFromHit(hit))
	}
	sortEntries(rows)
	return rows, nil
}

func entryFromHit(hit *search.DocumentMatch) *Entry {
	e := &Entry{ID: hit.ID}
	e.URL, _ = hit.Fields[bleveFieldURL].(string)
	e.RequestID, _ = hit.Fields[bleveFieldRequestID].(string)
	e.Type, _ = hit.Fields[bleveFieldType].(string)
	if f, ok := hit.Fields[bleveFieldFullURL].(float64); ok {
		e.FullURL = int(f)
	}
	return e
}

// termsQuery matches any of the exact values in field.
func termsQuery(field string, values []string) query.Query {
	qs := make([]query.Query, len(values))
	for i, v := range values {
		tq := bleve.NewTermQuery(v)
		tq.SetField(field)
		qs[i] = tq
	}
	if len(qs) == 1 {
		return qs[0]
	}
	return bleve.NewDisjunctionQuery(qs...)
}
