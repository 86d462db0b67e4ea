// Package cmd provides the CLI commands for urlindex.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/urlindex/internal/config"
	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
	"github.com/Aman-CERP/urlindex/internal/events"
	"github.com/Aman-CERP/urlindex/internal/index"
	"github.com/Aman-CERP/urlindex/internal/logging"
	"github.com/Aman-CERP/urlindex/internal/profiling"
	"github.com/Aman-CERP/urlindex/internal/sources"
	"github.com/Aman-CERP/urlindex/internal/store"
	"github.com/Aman-CERP/urlindex/pkg/version"
)

// ErrReported marks an error the command has already written to its output
// (for example as JSON), so main does not print it again.
var ErrReported = errors.New("error already reported")

// annotationConfigOptional lets a command run on built-in defaults when the
// config files cannot be loaded, so a broken config can be replaced.
const annotationConfigOptional = "urlindex/config-optional"

// rootOptions holds the global flags and the state set up before a
// subcommand runs.
type rootOptions struct {
	configPath string
	dataDir    string
	backend    string
	debug      bool
	profile    profiling.Options

	profiler       *profiling.Session
	cfg            *config.Config
	logger         *slog.Logger
	prevLogger     *slog.Logger
	loggingCleanup func()
}

// NewRootCmd creates the root command for the urlindex CLI.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "urlindex",
		Short: "Prefix search over request URLs",
		Long: `urlindex keeps a local index of URL fragments so saved and historical
requests can be found by any part of their URL: host, path, query string,
a single parameter or a parameter value.

Collections are JSON files listed under 'sources:' in the config file.
Use 'urlindex reindex --all' to build the index and 'urlindex watch' to keep
it in step with edits.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.setup,
	}

	cmd.SetVersionTemplate("urlindex version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default: ~/.config/urlindex/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Index data directory (overrides store.data_dir)")
	cmd.PersistentFlags().StringVar(&opts.backend, "backend", "", "Store backend: pebble, sqlite, bleve")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.urlindex/logs/ and stderr")
	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newReindexCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))
	cmd.AddCommand(newFragmentsCmd())
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd, opts
}

// Execute runs the root command.
func Execute() error {
	cmd, opts := newRootCmd()
	defer opts.close()
	return cmd.Execute()
}

// setup loads the effective configuration and starts file logging.
func (o *rootOptions) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		if cmd.Annotations[annotationConfigOptional] == "" {
			return err
		}
		cfg = config.NewConfig()
	}

	if o.dataDir != "" {
		cfg.Store.DataDir = o.dataDir
	}
	if o.backend != "" {
		cfg.Store.Backend = o.backend
	}
	if o.debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      logging.DefaultLogPath(),
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: o.debug,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	o.logger = logger
	o.loggingCleanup = cleanup
	o.prevLogger = slog.Default()
	slog.SetDefault(logger)

	if o.profile.Enabled() {
		session, err := profiling.Start(o.profile)
		if err != nil {
			return err
		}
		o.profiler = session
	}

	slog.Debug("command_started",
		slog.String("command", cmd.CommandPath()),
		slog.String("backend", cfg.Store.Backend),
		slog.String("data_dir", cfg.Store.DataDir),
		slog.String("version", version.Version))
	return nil
}

// close stops profiling and logging and restores the previous default
// logger.
func (o *rootOptions) close() {
	if o.profiler != nil {
		if err := o.profiler.Stop(); err != nil {
			slog.Warn("profile_write_failed", slog.String("error", err.Error()))
		}
		o.profiler = nil
	}
	if o.loggingCleanup == nil {
		return
	}
	o.loggingCleanup()
	o.loggingCleanup = nil
	if o.prevLogger != nil {
		slog.SetDefault(o.prevLogger)
	}
}

// newIndexer builds an Indexer over the configured store with every
// configured source registered. The store opens on first use; while
// another process holds it the open is retried with backoff.
func (o *rootOptions) newIndexer(ctx context.Context, bus *events.Bus) (*index.Indexer, error) {
	openCfg := o.cfg.OpenConfig()
	retry := uierrors.DefaultRetryConfig()
	retry.ShouldRetry = func(err error) bool {
		return uierrors.HasCode(err, uierrors.ErrCodeStoreLocked)
	}

	stores := store.NewLazy(func() (store.Store, error) {
		return uierrors.RetryWithResult(ctx, retry, func() (store.Store, error) {
			return store.Open(openCfg)
		})
	})

	ix, err := index.New(stores, index.Options{
		Bus:            bus,
		QueryCacheSize: o.cfg.Indexer.QueryCacheSize,
		Logger:         o.logger,
	})
	if err != nil {
		return nil, err
	}

	for _, f := range sources.FromConfig(o.cfg.Sources) {
		ix.RegisterSource(f.Category, f)
	}
	return ix, nil
}

// count formats n with the singular or plural noun.
func count(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
