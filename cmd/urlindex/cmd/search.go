package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
	"github.com/Aman-CERP/urlindex/internal/output"
)

type searchOptions struct {
	format string // "text", "json"
	limit  int
}

// searchResult is the JSON shape of `search --format json`.
type searchResult struct {
	Term       string   `json:"term"`
	Count      int      `json:"count"`
	RequestIDs []string `json:"request_ids"`
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Find entities whose URL has a fragment starting with term",
		Long: `Search returns the ids of entities with at least one URL fragment that
begins with the term, ignoring case. Each id is listed once.

Examples:
  urlindex search api.example.com/users
  urlindex search page=
  urlindex search /health --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != "text" && opts.format != "json" {
				return uierrors.ValidationError(fmt.Sprintf("unknown format %q (valid options: text, json)", opts.format), nil)
			}
			if opts.limit < 0 {
				return uierrors.ValidationError("--limit must be non-negative", nil)
			}

			ix, err := root.newIndexer(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() { _ = ix.Close() }()

			term := args[0]
			ids, err := ix.Query(cmd.Context(), term)
			if err != nil {
				if opts.format == "json" {
					data, jerr := uierrors.FormatJSON(err)
					if jerr == nil {
						_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
						return fmt.Errorf("%w: %w", ErrReported, err)
					}
				}
				return err
			}
			slog.Info("search_complete", slog.String("term", term), slog.Int("results", len(ids)))

			total := len(ids)
			if opts.limit > 0 && len(ids) > opts.limit {
				ids = ids[:opts.limit]
			}

			if opts.format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(searchResult{Term: term, Count: total, RequestIDs: ids})
			}

			out := output.New(cmd.OutOrStdout())
			if total == 0 {
				out.Warningf("No matches for %q", term)
				return nil
			}
			out.Successf("%s for %q", count(total, "match", "matches"), term)
			out.List(ids)
			if len(ids) < total {
				out.Statusf("", "... %d more (raise --limit)", total-len(ids))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum ids to print (0 = all)")

	return cmd
}
