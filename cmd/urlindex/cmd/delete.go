package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
	"github.com/Aman-CERP/urlindex/internal/output"
)

type deleteOptions struct {
	typ string
	all bool
}

func newDeleteCmd(root *rootOptions) *cobra.Command {
	var opts deleteOptions

	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Remove indexed rows by entity, by category, or all of them",
		Long: `Delete removes rows from the index only; collection files are not touched.

Examples:
  urlindex delete req-1 req-2
  urlindex delete --type history
  urlindex delete --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.typ != "" || opts.all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := root.newIndexer(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() { _ = ix.Close() }()

			ctx := cmd.Context()
			out := output.New(cmd.OutOrStdout())

			switch {
			case opts.all:
				if err := ix.ClearIndexedData(ctx); err != nil {
					return err
				}
				out.Success("Cleared the index")
			case opts.typ != "":
				if err := ix.DeleteIndexedType(ctx, opts.typ); err != nil {
					return err
				}
				out.Successf("Removed every %s row", opts.typ)
			default:
				for _, id := range args {
					if id == "" {
						return uierrors.ValidationError("entity id must not be empty", nil)
					}
				}
				if err := ix.DeleteIndexedData(ctx, args); err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Removed rows of %s", count(len(args), "entity", "entities")))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.typ, "type", "t", "", "Remove every row of this category")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Remove every row")
	cmd.MarkFlagsMutuallyExclusive("type", "all")

	return cmd
}
