package index

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/urlindex/internal/clock"
)

// Default debounce windows for the two queues.
const (
	DefaultUpsertDelay = 500 * time.Millisecond
	DefaultDeleteDelay = 500 * time.Millisecond
)

// Writer receives the batches a Coalescer drains. *Indexer implements it.
type Writer interface {
	Index(ctx context.Context, records []Record) error
	DeleteIndexedData(ctx context.Context, ids []string) error
}

// CoalescerOptions configures a Coalescer. Zero values select defaults.
type CoalescerOptions struct {
	Clock       clock.Clock
	UpsertDelay time.Duration
	DeleteDelay time.Duration
	Metrics     *Metrics
	Logger      *slog.Logger
}

// Coalescer merges bursts of per-entity index and delete requests into
// single batched calls. The two queues debounce independently:
//   - upserts are keyed by entity id, last write wins
//   - deletes are deduplicated by id
//
// Each enqueue re-arms its queue's timer. When the timer fires the queue is
// swapped out under the lock before the batch runs, so requests arriving
// mid-flush start a new cycle. Failures are logged; there is no error
// channel.
type Coalescer struct {
	w           Writer
	clock       clock.Clock
	upsertDelay time.Duration
	deleteDelay time.Duration
	metrics     *Metrics
	logger      *slog.Logger

	mu          sync.Mutex
	upserts     map[string]Record
	upsertOrder []string
	upsertTimer clock.Timer
	upsertGen   uint64

	deletes     []string
	deleteSet   map[string]struct{}
	deleteTimer clock.Timer
	deleteGen   uint64

	inflight sync.WaitGroup
}

// NewCoalescer creates a Coalescer draining into w.
func NewCoalescer(w Writer, opts CoalescerOptions) *Coalescer {
	c := &Coalescer{
		w:           w,
		clock:       opts.Clock,
		upsertDelay: opts.UpsertDelay,
		deleteDelay: opts.DeleteDelay,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		upserts:     make(map[string]Record),
		deleteSet:   make(map[string]struct{}),
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.upsertDelay <= 0 {
		c.upsertDelay = DefaultUpsertDelay
	}
	if c.deleteDelay <= 0 {
		c.deleteDelay = DefaultDeleteDelay
	}
	if c.metrics == nil {
		c.metrics = NewMetrics()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// EnqueueIndex queues id for indexing with url and type, replacing any
// pending payload for the same id.
func (c *Coalescer) EnqueueIndex(id, url, typ string) {
	if id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, queued := c.upserts[id]; !queued {
		c.upsertOrder = append(c.upsertOrder, id)
	}
	c.upserts[id] = Record{ID: id, URL: url, Type: typ}

	if c.upsertTimer != nil {
		c.upsertTimer.Stop()
	}
	c.upsertGen++
	gen := c.upsertGen
	c.upsertTimer = c.clock.AfterFunc(c.upsertDelay, func() { c.fireUpserts(gen) })
}

// EnqueueDelete queues id for de-indexing.
func (c *Coalescer) EnqueueDelete(id string) {
	if id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, queued := c.deleteSet[id]; !queued {
		c.deleteSet[id] = struct{}{}
		c.deletes = append(c.deletes, id)
	}

	if c.deleteTimer != nil {
		c.deleteTimer.Stop()
	}
	c.deleteGen++
	gen := c.deleteGen
	c.deleteTimer = c.clock.AfterFunc(c.deleteDelay, func() { c.fireDeletes(gen) })
}

// Pending returns the number of queued upserts and deletes.
func (c *Coalescer) Pending() (upserts, deletes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.upsertOrder), len(c.deletes)
}

// Flush drains both queues immediately and waits for any batch already
// running. Used on shutdown.
func (c *Coalescer) Flush(ctx context.Context) error {
	c.mu.Lock()
	records := c.takeUpsertsLocked()
	ids := c.takeDeletesLocked()
	c.mu.Unlock()

	var errs []error
	if len(records) > 0 {
		errs = append(errs, c.runUpserts(ctx, records))
	}
	if len(ids) > 0 {
		errs = append(errs, c.runDeletes(ctx, ids))
	}

	c.inflight.Wait()
	return errors.Join(errs...)
}

func (c *Coalescer) fireUpserts(gen uint64) {
	c.mu.Lock()
	if gen != c.upsertGen {
		c.mu.Unlock()
		return
	}
	records := c.takeUpsertsLocked()
	if len(records) > 0 {
		c.inflight.Add(1)
	}
	c.mu.Unlock()

	if len(records) == 0 {
		return
	}
	defer c.inflight.Done()
	_ = c.runUpserts(context.Background(), records)
}

func (c *Coalescer) fireDeletes(gen uint64) {
	c.mu.Lock()
	if gen != c.deleteGen {
		c.mu.Unlock()
		return
	}
	ids := c.takeDeletesLocked()
	if len(ids) > 0 {
		c.inflight.Add(1)
	}
	c.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	defer c.inflight.Done()
	_ = c.runDeletes(context.Background(), ids)
}

func (c *Coalescer) runUpserts(ctx context.Context, records []Record) error {
	c.metrics.Flushes.WithLabelValues("upsert").Inc()
	err := c.w.Index(ctx, records)
	if err != nil {
		c.logger.Error("coalesced_index_failed",
			slog.Int("records", len(records)),
			slog.String("error", err.Error()))
	}
	return err
}

func (c *Coalescer) runDeletes(ctx context.Context, ids []string) error {
	c.metrics.Flushes.WithLabelValues("delete").Inc()
	err := c.w.DeleteIndexedData(ctx, ids)
	if err != nil {
		c.logger.Error("coalesced_delete_failed",
			slog.Int("ids", len(ids)),
			slog.String("error", err.Error()))
	}
	return err
}

// takeUpsertsLocked swaps out the upsert queue and disarms its timer.
func (c *Coalescer) takeUpsertsLocked() []Record {
	if c.upsertTimer != nil {
		c.upsertTimer.Stop()
		c.upsertTimer = nil
	}
	c.upsertGen++

	records := make([]Record, 0, len(c.upsertOrder))
	for _, id := range c.upsertOrder {
		records = append(records, c.upserts[id])
	}
	c.upserts = make(map[string]Record)
	c.upsertOrder = nil
	return records
}

// takeDeletesLocked swaps out the delete queue and disarms its timer.
func (c *Coalescer) takeDeletesLocked() []string {
	if c.deleteTimer != nil {
		c.deleteTimer.Stop()
		c.deleteTimer = nil
	}
	c.deleteGen++

	ids := c.deletes
	c.deletes = nil
	c.deleteSet = make(map[string]struct{})
	return ids
}
