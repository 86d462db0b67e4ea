package sources

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/urlindex/internal/events"
	"github.com/Aman-CERP/urlindex/internal/index"
)

// Enqueuer receives upserts for changed entities. *index.Coalescer
// implements it.
type Enqueuer interface {
	EnqueueIndex(id, url, typ string)
}

// Publisher receives deletion notices. *events.Bus implements it.
type Publisher interface {
	Publish(ev events.Event)
}

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// InitialSync enqueues every entity on the first load so the index
	// catches up with edits made while nothing was watching.
	InitialSync bool

	// PollInterval is used when fsnotify is unavailable. Default: 2s
	PollInterval time.Duration

	// OnReady is called once the initial load is done and changes are
	// being watched.
	OnReady func()

	Logger *slog.Logger
}

// Watcher keeps the index in step with collection files. On every change to
// a file it reloads the collection, diffs it against the previous load and
// then:
//   - enqueues new or changed entities for indexing
//   - publishes EntityDeleted for entities that disappeared
//
// Editors commonly replace files by rename, so the parent directories are
// watched and events are matched by path. Remove and rename events do not
// trigger a reload; the replacement's create event does. A file that fails
// to parse keeps its previous state until it is fixed.
type Watcher struct {
	files     map[string]JSONFile
	enq       Enqueuer
	pub       Publisher
	opts      WatcherOptions
	logger    *slog.Logger
	fsWatcher *fsnotify.Watcher

	mu       sync.Mutex
	last     map[string]map[string]index.Record
	modTimes map[string]time.Time
	stopped  bool
	stopCh   chan struct{}
}

// NewWatcher creates a watcher for files. Falls back to polling if fsnotify
// cannot be initialised.
func NewWatcher(files []JSONFile, enq Enqueuer, pub Publisher, opts WatcherOptions) (*Watcher, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	w := &Watcher{
		files:    make(map[string]JSONFile, len(files)),
		enq:      enq,
		pub:      pub,
		opts:     opts,
		logger:   opts.Logger,
		last:     make(map[string]map[string]index.Record),
		modTimes: make(map[string]time.Time),
		stopCh:   make(chan struct{}),
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}

	for _, f := range files {
		abs, err := filepath.Abs(f.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve %s collection path: %w", f.Category, err)
		}
		f.Path = abs
		w.files[abs] = f
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify_unavailable_using_polling", slog.String("error", err.Error()))
		return w, nil
	}
	w.fsWatcher = fsw
	return w, nil
}

// Run loads every file, then processes changes until ctx is cancelled or
// Stop is called.
func (w *Watcher) Run(ctx context.Context) error {
	for path := range w.files {
		if err := w.Reload(ctx, path); err != nil {
			w.logger.Warn("source_initial_load_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}

	if w.fsWatcher == nil {
		return w.poll(ctx)
	}
	return w.watch(ctx)
}

// WatcherType returns "fsnotify" or "polling".
func (w *Watcher) WatcherType() string {
	if w.fsWatcher != nil {
		return "fsnotify"
	}
	return "polling"
}

func (w *Watcher) watch(ctx context.Context) error {
	dirs := make(map[string]struct{})
	for path := range w.files {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.started()

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("source_watch_error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if _, watched := w.files[path]; !watched {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if err := w.Reload(ctx, path); err != nil {
		w.logger.Warn("source_reload_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

func (w *Watcher) poll(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	w.started()

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			for path := range w.files {
				if !w.modified(path) {
					continue
				}
				if err := w.Reload(ctx, path); err != nil {
					w.logger.Warn("source_reload_failed",
						slog.String("path", path),
						slog.String("error", err.Error()))
				}
			}
		}
	}
}

func (w *Watcher) started() {
	w.logger.Info("source_watch_started",
		slog.Int("files", len(w.files)),
		slog.String("type", w.WatcherType()))
	if w.opts.OnReady != nil {
		w.opts.OnReady()
	}
}

// modified reports whether path's mtime moved since the last check.
func (w *Watcher) modified(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if info.ModTime().Equal(w.modTimes[path]) {
		return false
	}
	w.modTimes[path] = info.ModTime()
	return true
}

// Reload re-reads one watched file and emits the difference from its
// previous load.
func (w *Watcher) Reload(ctx context.Context, path string) error {
	f, ok := w.files[path]
	if !ok {
		return fmt.Errorf("not a watched collection file: %s", path)
	}

	records, err := f.Load(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]index.Record, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		next[rec.ID] = rec
	}

	w.mu.Lock()
	prev, loaded := w.last[path]
	w.last[path] = next
	var removed []string
	for id := range prev {
		if _, still := next[id]; still {
			continue
		}
		if w.ownedElsewhereLocked(path, id) {
			continue
		}
		removed = append(removed, id)
	}
	w.mu.Unlock()

	changed := 0
	for _, rec := range records {
		cur, ok := next[rec.ID]
		if !ok || cur != rec {
			// duplicate id earlier in the file; the last one wins
			continue
		}
		if loaded || w.opts.InitialSync {
			if old, had := prev[rec.ID]; !had || old != rec {
				w.enq.EnqueueIndex(rec.ID, rec.URL, rec.Type)
				changed++
			}
		}
	}
	for _, id := range removed {
		w.pub.Publish(events.EntityDeleted{ID: id})
	}

	if changed > 0 || len(removed) > 0 {
		w.logger.Info("source_changed",
			slog.String("category", f.Category),
			slog.Int("changed", changed),
			slog.Int("removed", len(removed)))
	}
	return nil
}

func (w *Watcher) ownedElsewhereLocked(path, id string) bool {
	for other, recs := range w.last {
		if other == path {
			continue
		}
		if _, ok := recs[id]; ok {
			return true
		}
	}
	return false
}

// Stop stops watching. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)

	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}
