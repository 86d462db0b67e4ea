package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
	"github.com/Aman-CERP/urlindex/internal/events"
	"github.com/Aman-CERP/urlindex/internal/index"
	"github.com/Aman-CERP/urlindex/internal/output"
	"github.com/Aman-CERP/urlindex/internal/sources"
)

// flushTimeout bounds the final drain of pending writes on shutdown.
const flushTimeout = 30 * time.Second

func newWatchCmd(root *rootOptions) *cobra.Command {
	var initialSync bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the index in step with the configured collection files",
		Long: `Watch follows every file listed under 'sources:' and turns edits into
index work. Changed entities are queued for indexing and removed entities
are queued for deletion; bursts of changes are written in debounced
batches (see indexer.upsert_debounce and indexer.delete_debounce).

Pending changes are flushed before exit on Ctrl+C or SIGTERM. The index
store stays locked while watching.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.cfg
			files := sources.FromConfig(cfg.Sources)
			if len(files) == 0 {
				return uierrors.ConfigError("no sources configured", nil).
					WithSuggestion("add category files under 'sources:' in the config file")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bus := events.NewBus()
			ix, err := root.newIndexer(cmd.Context(), bus)
			if err != nil {
				return err
			}
			defer func() { _ = ix.Close() }()

			// Hold the store for the whole session so the final flush
			// never has to open it after cancellation.
			if _, err := ix.Store(ctx); err != nil {
				return err
			}

			coalescer := index.NewCoalescer(ix, index.CoalescerOptions{
				UpsertDelay: cfg.UpsertDelay(),
				DeleteDelay: cfg.DeleteDelay(),
				Metrics:     ix.Metrics(),
				Logger:      root.logger,
			})
			bridge := index.NewBridge(bus, coalescer)
			defer bridge.Close()

			unsubscribe := bus.Subscribe(events.KindIndexFinished, func(ev events.Event) {
				finished, ok := ev.(events.IndexFinished)
				if !ok {
					return
				}
				if finished.Err != nil {
					attrs := append([]slog.Attr{slog.Int("records", finished.Count)}, uierrors.LogAttrs(finished.Err)...)
					slog.LogAttrs(context.Background(), slog.LevelWarn, "watch_index_failed", attrs...)
					return
				}
				slog.Debug("watch_index_finished", slog.Int("records", finished.Count))
			})
			defer unsubscribe()

			out := output.New(cmd.OutOrStdout())
			var watcher *sources.Watcher
			watcher, err = sources.NewWatcher(files, coalescer, bus, sources.WatcherOptions{
				InitialSync: initialSync,
				Logger:      root.logger,
				OnReady: func() {
					out.Statusf("👀", "Watching %s (%s). Press Ctrl+C to stop.",
						count(len(files), "collection file", "collection files"), watcher.WatcherType())
				},
			})
			if err != nil {
				return err
			}

			runErr := watcher.Run(ctx)
			_ = watcher.Stop()

			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			defer cancel()
			upserts, deletes := coalescer.Pending()
			if err := coalescer.Flush(flushCtx); err != nil {
				out.Errorf("Failed to flush pending changes: %v", err)
				return err
			}
			out.Successf("Flushed %s and %s",
				count(upserts, "pending update", "pending updates"),
				count(deletes, "pending delete", "pending deletes"))

			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&initialSync, "initial-sync", true, "Index every entity on start to catch up with edits made while not watching")

	return cmd
}
