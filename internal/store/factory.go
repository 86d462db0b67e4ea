package store

import (
	"fmt"
	"path/filepath"

	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
)

// Backend names a Store implementation.
type Backend string

const (
	// BackendPebble uses an embedded ordered key-value store (default).
	BackendPebble Backend = "pebble"

	// BackendSQLite uses a single sqlite table with WAL mode.
	BackendSQLite Backend = "sqlite"

	// BackendBleve uses a bleve index with keyword fields.
	BackendBleve Backend = "bleve"
)

// Backends lists the valid backend names.
func Backends() []Backend {
	return []Backend{BackendPebble, BackendSQLite, BackendBleve}
}

// ParseBackend validates a backend name. Empty selects the default.
func ParseBackend(name string) (Backend, error) {
	switch Backend(name) {
	case "":
		return BackendPebble, nil
	case BackendPebble, BackendSQLite, BackendBleve:
		return Backend(name), nil
	default:
		return "", uierrors.ConfigError(
			fmt.Sprintf("unknown store backend: %s (valid options: pebble, sqlite, bleve)", name), nil)
	}
}

// Config selects and locates a backend.
type Config struct {
	Backend Backend

	// Dir is the data directory. Empty opens an in-memory store with no
	// lock.
	Dir string

	SQLiteCacheMB int
}

// Path returns the on-disk location of the backend inside dir.
func Path(dir string, backend Backend) string {
	switch backend {
	case BackendSQLite:
		return filepath.Join(dir, "urlindex.db")
	case BackendBleve:
		return filepath.Join(dir, "urlindex.bleve")
	default:
		return filepath.Join(dir, "pebble")
	}
}

// Open creates the configured store. On-disk stores hold an exclusive lock
// on the data directory until Close.
func Open(cfg Config) (Store, error) {
	backend, err := ParseBackend(string(cfg.Backend))
	if err != nil {
		return nil, err
	}

	if cfg.Dir == "" {
		return openBackend(backend, "", cfg)
	}

	lock := newDirLock(cfg.Dir)
	if err := lock.tryLock(); err != nil {
		if uierrors.GetCode(err) != "" {
			return nil, err
		}
		return nil, uierrors.StoreError("failed to lock index directory", err).WithDetail("dir", cfg.Dir)
	}

	s, err := openBackend(backend, Path(cfg.Dir, backend), cfg)
	if err != nil {
		_ = lock.unlock()
		return nil, err
	}
	return &lockedStore{Store: s, lock: lock}, nil
}

func openBackend(backend Backend, path string, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch backend {
	case BackendSQLite:
		s, err = NewSQLiteStore(path, SQLiteOptions{CacheMB: cfg.SQLiteCacheMB})
	case BackendBleve:
		s, err = NewBleveStore(path)
	default:
		s, err = NewPebbleStore(path)
	}
	if err != nil {
		if uierrors.GetCode(err) != "" {
			return nil, err
		}
		return nil, uierrors.StoreError(fmt.Sprintf("failed to open %s store", backend), err).
			WithDetail("path", path)
	}
	return s, nil
}

// lockedStore releases the directory lock after the store closes.
type lockedStore struct {
	Store
	lock *dirLock
}

func (s *lockedStore) Close() error {
	err := s.Store.Close()
	if unlockErr := s.lock.unlock(); err == nil {
		err = unlockErr
	}
	return err
}

// Unwrap returns the backend behind the directory lock.
func Unwrap(s Store) Store {
	if ls, ok := s.(*lockedStore); ok {
		return ls.Store
	}
	return s
}
