package store

import (
	"context"
	"log/slog"
	"sync"
)

// Opener creates a Store.
type Opener func() (Store, error)

// Lazy opens its store on first use and hands the same live handle to
// every later caller. A failed open is returned as-is and not remembered,
// so the next Get tries again; there is no retry loop here.
type Lazy struct {
	mu    sync.Mutex
	open  Opener
	store Store
}

// NewLazy wraps an opener.
func NewLazy(open Opener) *Lazy {
	return &Lazy{open: open}
}

// NewLazyConfig wraps Open(cfg).
func NewLazyConfig(cfg Config) *Lazy {
	return NewLazy(func() (Store, error) { return Open(cfg) })
}

// Get returns the open store, opening it if needed.
func (l *Lazy) Get(ctx context.Context) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store != nil {
		return l.store, nil
	}

	s, err := l.open()
	if err != nil {
		slog.Warn("store_open_failed", slog.String("error", err.Error()))
		return nil, err
	}

	l.store = s
	slog.Debug("store_opened")
	return s, nil
}

// IsOpen reports whether a live handle is held.
func (l *Lazy) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store != nil
}

// Close closes the held store, if any. A later Get opens a fresh one.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}
