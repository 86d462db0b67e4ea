package index

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/urlindex/internal/clock"
)

// recordingWriter captures batches handed to it.
type recordingWriter struct {
	mu        sync.Mutex
	indexed   [][]Record
	deleted   [][]string
	indexErr  error
	deleteErr error
	onIndex   func()
}

func (w *recordingWriter) Index(_ context.Context, records []Record) error {
	w.mu.Lock()
	w.indexed = append(w.indexed, records)
	hook := w.onIndex
	w.mu.Unlock()
	if hook != nil {
		hook()
	}
	return w.indexErr
}

func (w *recordingWriter) DeleteIndexedData(_ context.Context, ids []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deleted = append(w.deleted, ids)
	return w.deleteErr
}

func newTestCoalescer(w Writer) (*Coalescer, *clock.Fake) {
	fake := clock.NewFake()
	c := NewCoalescer(w, CoalescerOptions{
		Clock:       fake,
		UpsertDelay: 500 * time.Millisecond,
		DeleteDelay: 300 * time.Millisecond,
	})
	return c, fake
}

func TestCoalescer_BurstBecomesOneCallWithLastURL(t *testing.T) {
	w := &recordingWriter{}
	c, fake := newTestCoalescer(w)

	// Given: three updates for one id inside the window
	c.EnqueueIndex("R1", "https://x.com/v1", "saved")
	fake.Advance(200 * time.Millisecond)
	c.EnqueueIndex("R1", "https://x.com/v2", "saved")
	fake.Advance(200 * time.Millisecond)
	c.EnqueueIndex("R1", "https://x.com/v3", "saved")

	// When: the window elapses after the last enqueue
	fake.Advance(499 * time.Millisecond)
	assert.Empty(t, w.indexed, "timer re-armed by each enqueue")
	fake.Advance(time.Millisecond)

	// Then: exactly one call with the last payload
	require.Len(t, w.indexed, 1)
	assert.Equal(t, []Record{{ID: "R1", URL: "https://x.com/v3", Type: "saved"}}, w.indexed[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.Flushes.WithLabelValues("upsert")))
}

func TestCoalescer_KeepsFirstEnqueueOrder(t *testing.T) {
	w := &recordingWriter{}
	c, fake := newTestCoalescer(w)

	c.EnqueueIndex("B", "https://x.com/b", "saved")
	c.EnqueueIndex("A", "https://x.com/a", "saved")
	c.EnqueueIndex("B", "https://x.com/b2", "saved")
	fake.Advance(time.Second)

	require.Len(t, w.indexed, 1)
	assert.Equal(t, []Record{
		{ID: "B", URL: "https://x.com/b2", Type: "saved"},
		{ID: "A", URL: "https://x.com/a", Type: "saved"},
	}, w.indexed[0])
}

func TestCoalescer_DeletesAreDeduplicated(t *testing.T) {
	w := &recordingWriter{}
	c, fake := newTestCoalescer(w)

	c.EnqueueDelete("R1")
	c.EnqueueDelete("R2")
	c.EnqueueDelete("R1")
	up, del := c.Pending()
	assert.Equal(t, 0, up)
	assert.Equal(t, 2, del)

	fake.Advance(300 * time.Millisecond)

	require.Len(t, w.deleted, 1)
	assert.Equal(t, []string{"R1", "R2"}, w.deleted[0])
	up, del = c.Pending()
	assert.Zero(t, up)
	assert.Zero(t, del)
}

func TestCoalescer_QueuesDebounceIndependently(t *testing.T) {
	w := &recordingWriter{}
	c, fake := newTestCoalescer(w)

	c.EnqueueIndex("R1", "https://x.com/a", "saved")
	c.EnqueueDelete("R2")

	// When: only the shorter delete window has passed
	fake.Advance(300 * time.Millisecond)

	// Then: deletes ran and upserts are still waiting
	assert.Len(t, w.deleted, 1)
	assert.Empty(t, w.indexed)

	fake.Advance(200 * time.Millisecond)
	assert.Len(t, w.indexed, 1)
}

func TestCoalescer_EnqueueDuringFlushStartsNewCycle(t *testing.T) {
	w := &recordingWriter{}
	c, fake := newTestCoalescer(w)

	// Given: a writer that enqueues while the batch is running
	w.onIndex = func() {
		w.onIndex = nil
		c.EnqueueIndex("R2", "https://x.com/late", "saved")
	}
	c.EnqueueIndex("R1", "https://x.com/a", "saved")

	// When: the first batch fires
	fake.Advance(500 * time.Millisecond)

	// Then: the late request waits for its own window
	require.Len(t, w.indexed, 1)
	assert.Equal(t, "R1", w.indexed[0][0].ID)
	up, _ := c.Pending()
	assert.Equal(t, 1, up)

	fake.Advance(500 * time.Millisecond)
	require.Len(t, w.indexed, 2)
	assert.Equal(t, "R2", w.indexed[1][0].ID)
}

func TestCoalescer_FailuresAreSwallowed(t *testing.T) {
	w := &recordingWriter{indexErr: errors.New("boom")}
	c, fake := newTestCoalescer(w)

	c.EnqueueIndex("R1", "https://x.com/a", "saved")
	fake.Advance(500 * time.Millisecond)

	// Then: the queue is drained even though the write failed
	require.Len(t, w.indexed, 1)
	up, _ := c.Pending()
	assert.Zero(t, up)
}

func TestCoalescer_FlushDrainsBothQueues(t *testing.T) {
	w := &recordingWriter{deleteErr: errors.New("delete failed")}
	c, fake := newTestCoalescer(w)

	c.EnqueueIndex("R1", "https://x.com/a", "saved")
	c.EnqueueDelete("R2")

	// When: flushing before either window elapses
	err := c.Flush(context.Background())

	// Then: both batches ran, the delete error is returned, no timers remain
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete failed")
	assert.Len(t, w.indexed, 1)
	assert.Len(t, w.deleted, 1)
	assert.Zero(t, fake.Pending())

	fake.Advance(time.Second)
	assert.Len(t, w.indexed, 1)
	assert.Len(t, w.deleted, 1)
}

func TestCoalescer_FlushEmptyIsNoOp(t *testing.T) {
	w := &recordingWriter{}
	c, _ := newTestCoalescer(w)

	require.NoError(t, c.Flush(context.Background()))
	assert.Empty(t, w.indexed)
	assert.Empty(t, w.deleted)
}

func TestCoalescer_IgnoresEmptyIDs(t *testing.T) {
	w := &recordingWriter{}
	c, fake := newTestCoalescer(w)

	c.EnqueueIndex("", "https://x.com/a", "saved")
	c.EnqueueDelete("")

	assert.Zero(t, fake.Pending())
	up, del := c.Pending()
	assert.Zero(t, up)
	assert.Zero(t, del)
}

func TestCoalescer_DrivesIndexer(t *testing.T) {
	ix := newTestIndexer(t, Options{})
	c, fake := newTestCoalescer(ix)
	ctx := context.Background()

	// Given: a burst of edits to one entity
	c.EnqueueIndex("R1", "https://domain.com/api?a=b&c=d", "saved")
	c.EnqueueIndex("R1", "https://domain.com/api?a=b&e=f", "saved")
	c.EnqueueIndex("R1", "https://domain.com/api?a=b", "saved")
	fake.Advance(500 * time.Millisecond)

	// Then: only the last URL is indexed
	assert.Len(t, storedRows(t, ix, "R1")["R1"], 6)
	hits, err := ix.Query(ctx, "c=d")
	require.NoError(t, err)
	assert.Empty(t, hits)

	// When: the entity is deleted
	c.EnqueueDelete("R1")
	fake.Advance(500 * time.Millisecond)

	assert.Equal(t, 0, rowCount(t, ix))
}
