package sources

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
	"github.com/Aman-CERP/urlindex/internal/events"
	"github.com/Aman-CERP/urlindex/internal/index"
	"github.com/Aman-CERP/urlindex/internal/store"
)

func newMemIndexer(t *testing.T) *index.Indexer {
	t.Helper()
	ix, err := index.New(store.NewLazy(func() (store.Store, error) { return store.NewPebbleStore("") }), index.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

type recorder struct {
	mu      sync.Mutex
	upserts []index.Record
	deletes []string
}

func (r *recorder) EnqueueIndex(id, url, typ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = append(r.upserts, index.Record{ID: id, URL: url, Type: typ})
}

func (r *recorder) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if del, ok := ev.(events.EntityDeleted); ok {
		r.deletes = append(r.deletes, del.ID)
	}
}

func (r *recorder) snapshot() ([]index.Record, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]index.Record(nil), r.upserts...), append([]string(nil), r.deletes...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = nil
	r.deletes = nil
}

func TestJSONFile_Load(t *testing.T) {
	// Given: a collection with and without explicit types
	path := filepath.Join(t.TempDir(), "saved.json")
	writeFile(t, path, `[
		{"id": "R1", "url": "https://x.com/a", "type": "pinned"},
		{"id": "R2", "url": "https://x.com/b"}
	]`)

	// When: loading
	records, err := JSONFile{Category: "saved", Path: path}.Load(context.Background())

	// Then: missing types default to the category
	require.NoError(t, err)
	assert.Equal(t, []index.Record{
		{ID: "R1", URL: "https://x.com/a", Type: "pinned"},
		{ID: "R2", URL: "https://x.com/b", Type: "saved"},
	}, records)
}

func TestJSONFile_MissingFileIsEmpty(t *testing.T) {
	records, err := JSONFile{Category: "saved", Path: filepath.Join(t.TempDir(), "nope.json")}.Load(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestJSONFile_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")
	writeFile(t, path, `{"id": "not an array"}`)

	_, err := JSONFile{Category: "saved", Path: path}.Load(context.Background())

	require.Error(t, err)
	assert.Equal(t, uierrors.ErrCodeInvalidInput, uierrors.GetCode(err))
}

func TestJSONFile_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := JSONFile{Category: "saved", Path: "whatever.json"}.Load(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromConfig_SortsByCategory(t *testing.T) {
	files := FromConfig(map[string]string{"saved": "s.json", "history": "h.json"})

	assert.Equal(t, []JSONFile{
		{Category: "history", Path: "h.json"},
		{Category: "saved", Path: "s.json"},
	}, files)
}

func TestJSONFile_ReindexThroughIndexer(t *testing.T) {
	// Given: an indexer with a file-backed category
	path := filepath.Join(t.TempDir(), "history.json")
	writeFile(t, path, `[{"id": "H1", "url": "https://x.com/a?k=v"}]`)
	ix := newMemIndexer(t)
	ix.RegisterSource("history", JSONFile{Category: "history", Path: path})

	// When: reindexing it
	n, err := ix.Reindex(context.Background(), "history")

	// Then: its rows are queryable by the category type
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	stats, err := ix.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"history": 6}, stats.RowsByType)
}

func newTestWatcher(t *testing.T, files []JSONFile, rec *recorder, initialSync bool) *Watcher {
	t.Helper()
	w, err := NewWatcher(files, rec, rec, WatcherOptions{InitialSync: initialSync})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func TestWatcher_ReloadEmitsDiff(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.json")
	writeFile(t, path, `[
		{"id": "R1", "url": "https://x.com/a"},
		{"id": "R2", "url": "https://x.com/b"}
	]`)
	rec := &recorder{}
	w := newTestWatcher(t, []JSONFile{{Category: "saved", Path: path}}, rec, false)
	ctx := context.Background()

	// Given: a baseline load without initial sync
	require.NoError(t, w.Reload(ctx, path))
	upserts, deletes := rec.snapshot()
	assert.Empty(t, upserts)
	assert.Empty(t, deletes)

	// When: R1 changes, R2 goes, R3 arrives
	writeFile(t, path, `[
		{"id": "R1", "url": "https://x.com/a2"},
		{"id": "R3", "url": "https://x.com/c"}
	]`)
	require.NoError(t, w.Reload(ctx, path))

	// Then: only the differences are emitted
	upserts, deletes = rec.snapshot()
	assert.Equal(t, []index.Record{
		{ID: "R1", URL: "https://x.com/a2", Type: "saved"},
		{ID: "R3", URL: "https://x.com/c", Type: "saved"},
	}, upserts)
	assert.Equal(t, []string{"R2"}, deletes)
}

func TestWatcher_InitialSyncEnqueuesEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")
	writeFile(t, path, `[{"id": "R1", "url": "https://x.com/a"}]`)
	rec := &recorder{}
	w := newTestWatcher(t, []JSONFile{{Category: "saved", Path: path}}, rec, true)

	require.NoError(t, w.Reload(context.Background(), path))

	upserts, _ := rec.snapshot()
	assert.Equal(t, []index.Record{{ID: "R1", URL: "https://x.com/a", Type: "saved"}}, upserts)
}

func TestWatcher_UnchangedReloadIsQuiet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")
	writeFile(t, path, `[{"id": "R1", "url": "https://x.com/a"}]`)
	rec := &recorder{}
	w := newTestWatcher(t, []JSONFile{{Category: "saved", Path: path}}, rec, true)
	ctx := context.Background()
	require.NoError(t, w.Reload(ctx, path))
	rec.reset()

	require.NoError(t, w.Reload(ctx, path))

	upserts, deletes := rec.snapshot()
	assert.Empty(t, upserts)
	assert.Empty(t, deletes)
}

func TestWatcher_InvalidFileKeepsPreviousState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")
	writeFile(t, path, `[{"id": "R1", "url": "https://x.com/a"}]`)
	rec := &recorder{}
	w := newTestWatcher(t, []JSONFile{{Category: "saved", Path: path}}, rec, false)
	ctx := context.Background()
	require.NoError(t, w.Reload(ctx, path))

	// When: the file is half-written
	writeFile(t, path, `[{"id": "R1",`)
	require.Error(t, w.Reload(ctx, path))

	// And: then fixed without changes
	writeFile(t, path, `[{"id": "R1", "url": "https://x.com/a"}]`)
	require.NoError(t, w.Reload(ctx, path))

	// Then: nothing was deleted or re-queued
	upserts, deletes := rec.snapshot()
	assert.Empty(t, upserts)
	assert.Empty(t, deletes)
}

func TestWatcher_MovedEntityIsNotDeleted(t *testing.T) {
	dir := t.TempDir()
	saved := filepath.Join(dir, "saved.json")
	history := filepath.Join(dir, "history.json")
	writeFile(t, saved, `[{"id": "R1", "url": "https://x.com/a"}]`)
	writeFile(t, history, `[]`)
	rec := &recorder{}
	w := newTestWatcher(t, []JSONFile{
		{Category: "saved", Path: saved},
		{Category: "history", Path: history},
	}, rec, false)
	ctx := context.Background()
	require.NoError(t, w.Reload(ctx, saved))
	require.NoError(t, w.Reload(ctx, history))

	// When: R1 moves from saved to history
	writeFile(t, history, `[{"id": "R1", "url": "https://x.com/a"}]`)
	require.NoError(t, w.Reload(ctx, history))
	writeFile(t, saved, `[]`)
	require.NoError(t, w.Reload(ctx, saved))

	// Then: it is re-typed, not deleted
	upserts, deletes := rec.snapshot()
	assert.Equal(t, []index.Record{{ID: "R1", URL: "https://x.com/a", Type: "history"}}, upserts)
	assert.Empty(t, deletes)
}

func TestWatcher_ReloadUnknownPath(t *testing.T) {
	rec := &recorder{}
	w := newTestWatcher(t, nil, rec, false)

	assert.Error(t, w.Reload(context.Background(), "/not/watched.json"))
}

func TestWatcher_RunPicksUpFileEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.json")
	writeFile(t, path, `[{"id": "R1", "url": "https://x.com/a"}]`)
	rec := &recorder{}
	ready := make(chan struct{})
	w, err := NewWatcher([]JSONFile{{Category: "saved", Path: path}}, rec, rec, WatcherOptions{
		PollInterval: 50 * time.Millisecond,
		OnReady:      func() { close(ready) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never became ready")
	}

	// When: the file is edited
	writeFile(t, path, `[{"id": "R2", "url": "https://x.com/b"}]`)

	// Then: the edit is turned into an upsert and a delete
	require.Eventually(t, func() bool {
		upserts, deletes := rec.snapshot()
		return len(upserts) > 0 && len(deletes) > 0
	}, 5*time.Second, 20*time.Millisecond)
	upserts, deletes := rec.snapshot()
	assert.Equal(t, index.Record{ID: "R2", URL: "https://x.com/b", Type: "saved"}, upserts[0])
	assert.Equal(t, []string{"R1"}, deletes)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
