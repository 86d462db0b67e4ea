package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
)

// SQLiteStore keeps rows in a single table with secondary indexes on
// request_id, url and type.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var _ Store = (*SQLiteStore)(nil)

// SQLiteOptions tunes the sqlite backend.
type SQLiteOptions struct {
	// CacheMB is the page cache size. Zero keeps the default (64MB).
	CacheMB int
}

// NewSQLiteStore opens (or creates) a sqlite store at path.
// If path is empty, creates an in-memory database for testing.
func NewSQLiteStore(path string, opts SQLiteOptions) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention; also keeps a :memory:
	// database alive on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	cacheMB := opts.CacheMB
	if cacheMB <= 0 {
		cacheMB = 64
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheMB*1024), // negative = KB
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS url_index (
		id         TEXT PRIMARY KEY,
		url        TEXT NOT NULL,
		type       TEXT NOT NULL,
		request_id TEXT NOT NULL,
		full_url   INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_url_index_request_id ON url_index(request_id);
	CREATE INDEX IF NOT EXISTS idx_url_index_url ON url_index(url);
	CREATE INDEX IF NOT EXISTS idx_url_index_type ON url_index(type);
`

// initSchema creates the table, or rebuilds it when an older layout is
// found.
func (s *SQLiteStore) initSchema() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	var version sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	switch {
	case version.Valid && version.Int64 > CurrentSchemaVersion:
		return uierrors.New(uierrors.ErrCodeCorruptIndex,
			fmt.Sprintf("index schema version %d is newer than supported version %d", version.Int64, CurrentSchemaVersion), nil).
			WithDetail("path", s.path).
			WithSuggestion("upgrade urlindex or delete the index file and run `urlindex reindex --all`")
	case version.Valid && version.Int64 < CurrentSchemaVersion:
		slog.Warn("sqlite_schema_outdated",
			slog.String("path", s.path),
			slog.Int64("found", version.Int64),
			slog.Int("current", CurrentSchemaVersion))
		if _, err := s.db.Exec(`DROP TABLE IF EXISTS url_index; DELETE FROM schema_version;`); err != nil {
			return fmt.Errorf("failed to drop outdated index: %w", err)
		}
	}

	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}
	return nil
}

// GetByRequestIDs returns existing rows grouped by owner.
func (s *SQLiteStore) GetByRequestIDs(ctx context.Context, requestIDs []string) (map[string][]*Entry, error) {
	out := make(map[string][]*Entry)
	if len(requestIDs) == 0 {
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	inClause, args := inArgs(uniqueStrings(requestIDs))
	query := fmt.Sprintf(`SELECT id, url, type, request_id, full_url FROM url_index
		WHERE request_id IN (%s) ORDER BY url, id`, inClause)

	rows, err := s.queryEntries(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for _, e := range rows {
		out[e.RequestID] = append(out[e.RequestID], e)
	}
	return out, nil
}

// PutBatch inserts rows, replacing any with the same id.
func (s *SQLiteStore) PutBatch(ctx context.Context, rows []*Entry) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO url_index(id, url, type, request_id, full_url) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range rows {
		if _, err := stmt.ExecContext(ctx, e.ID, e.URL, e.Type, e.RequestID, e.FullURL); err != nil {
			return fmt.Errorf("failed to insert row %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteByIDs removes rows by primary key.
func (s *SQLiteStore) DeleteByIDs(ctx context.Context, ids []string) error {
	return s.deleteWhereIn(ctx, "id", ids)
}

// DeleteByRequestIDs removes every row owned by the given entities.
func (s *SQLiteStore) DeleteByRequestIDs(ctx context.Context, requestIDs []string) error {
	return s.deleteWhereIn(ctx, "request_id", requestIDs)
}

// DeleteByType removes every row of one category.
func (s *SQLiteStore) DeleteByType(ctx context.Context, typ string) error {
	return s.exec(ctx, `DELETE FROM url_index WHERE type = ?`, typ)
}

// Clear removes every row.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.exec(ctx, `DELETE FROM url_index`)
}

// QueryPrefix uses a half-open range on the url index instead of LIKE,
// which would be case-insensitive and treat '%' and '_' as wildcards.
func (s *SQLiteStore) QueryPrefix(ctx context.Context, term string) ([]*Entry, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return []*Entry{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	query := `SELECT id, url, type, request_id, full_url FROM url_index WHERE url >= ?`
	args := []any{term}
	if end := prefixSuccessor(term); end != "" {
		query += ` AND url < ?`
		args = append(args, end)
	}
	query += ` ORDER BY url, id`

	results, err := s.queryEntries(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []*Entry{}
	}
	return results, nil
}

// Stats returns row counts.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	stats := &Stats{RowsByType: make(map[string]int), Backend: string(BackendSQLite), Path: s.path}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT request_id) FROM url_index`).Scan(&stats.Rows, &stats.RequestIDs); err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM url_index GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count types: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		stats.RowsByType[typ] = n
	}
	return stats, rows.Err()
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.path != "" {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			slog.Debug("sqlite_checkpoint_failed", slog.String("error", err.Error()))
		}
	}
	return s.db.Close()
}

func (s *SQLiteStore) deleteWhereIn(ctx context.Context, column string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	inClause, args := inArgs(uniqueStrings(values))
	return s.exec(ctx, fmt.Sprintf("DELETE FROM url_index WHERE %s IN (%s)", column, inClause), args...)
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete rows: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) queryEntries(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.URL, &e.Type, &e.RequestID, &e.FullURL); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// inArgs builds a parameterized IN clause.
func inArgs(values []string) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return strings.Join(placeholders, ","), args
}
