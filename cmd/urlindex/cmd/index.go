package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
	"github.com/Aman-CERP/urlindex/internal/fragment"
	"github.com/Aman-CERP/urlindex/internal/index"
	"github.com/Aman-CERP/urlindex/internal/output"
	"github.com/Aman-CERP/urlindex/internal/sources"
)

type indexOptions struct {
	typ  string
	file string
}

func newIndexCmd(root *rootOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <id> <url>",
		Short: "Index one entity's URL, or every entity in a JSON file",
		Long: `Index decomposes a URL into its searchable fragments and reconciles them
with what is already stored for the entity. Fragments that did not change
keep their rows; only the difference is written.

Examples:
  urlindex index req-1 "https://api.example.com/users?page=2"
  urlindex index req-2 "https://api.example.com/health" --type history
  urlindex index --file exported.json --type saved`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.file != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := opts.records(cmd, args)
			if err != nil {
				return err
			}

			ix, err := root.newIndexer(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() { _ = ix.Close() }()

			if err := ix.Index(cmd.Context(), records); err != nil {
				return err
			}

			slog.Info("index_command_complete", slog.Int("records", len(records)))
			out := output.New(cmd.OutOrStdout())
			out.Successf("Indexed %s", count(len(records), "entity", "entities"))
			if len(records) == 1 {
				out.Status("", count(len(fragment.Decompose(records[0].URL)), "fragment", "fragments"))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.typ, "type", "t", "saved", "Category stored with the rows")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "JSON array of {\"id\", \"url\", \"type\"} objects to index")

	return cmd
}

func (o indexOptions) records(cmd *cobra.Command, args []string) ([]index.Record, error) {
	if strings.TrimSpace(o.typ) == "" {
		return nil, uierrors.ValidationError("--type must not be empty", nil)
	}

	if o.file == "" {
		if strings.TrimSpace(args[0]) == "" {
			return nil, uierrors.ValidationError("entity id must not be empty", nil)
		}
		return []index.Record{{ID: args[0], URL: args[1], Type: o.typ}}, nil
	}

	if _, err := os.Stat(o.file); err != nil {
		return nil, uierrors.ValidationError(fmt.Sprintf("cannot read %s", o.file), err)
	}
	return sources.JSONFile{Category: o.typ, Path: o.file}.Load(cmd.Context())
}
