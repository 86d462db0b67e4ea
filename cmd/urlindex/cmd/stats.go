package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/urlindex/internal/output"
	"github.com/Aman-CERP/urlindex/internal/store"
)

type statsOptions struct {
	jsonOutput bool
	metrics    bool
}

func newStatsCmd(root *rootOptions) *cobra.Command {
	var opts statsOptions

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index row counts",
		Long: `Stats shows how many rows the index holds, per category and in total.
With --metrics it also prints the storage engine and indexer metrics in the
Prometheus text format.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ix, err := root.newIndexer(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = ix.Close() }()

			stats, err := ix.Stats(ctx)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(stats); err != nil {
					return err
				}
			} else {
				path := stats.Path
				if path == "" {
					path = root.cfg.Store.DataDir
				}
				out := output.New(cmd.OutOrStdout())
				out.Header("Index")
				out.KeyValue([][2]string{
					{"backend", stats.Backend},
					{"path", path},
					{"rows", fmt.Sprintf("%d", stats.Rows)},
					{"entities", fmt.Sprintf("%d", stats.RequestIDs)},
				})
				if len(stats.RowsByType) > 0 {
					out.Newline()
					out.Header("Rows by category")
					out.Counts(stats.RowsByType)
				}
			}

			if !opts.metrics {
				return nil
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(ix.Metrics().Collectors()...)
			s, err := ix.Store(ctx)
			if err != nil {
				return err
			}
			if c := store.NewCollector(s); c != nil {
				reg.MustRegister(c)
			}

			families, err := reg.Gather()
			if err != nil {
				return fmt.Errorf("failed to gather metrics: %w", err)
			}
			if !opts.jsonOutput {
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
			}
			for _, mf := range families {
				if _, err := expfmt.MetricFamilyToText(cmd.OutOrStdout(), mf); err != nil {
					return fmt.Errorf("failed to write metrics: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output stats as JSON")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "Also print Prometheus metrics")

	return cmd
}
