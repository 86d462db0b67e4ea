package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/urlindex/internal/output"
)

func newReindexCmd(root *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reindex <category>",
		Short: "Rebuild one category, or every category, from its source file",
		Long: `Reindex loads a category's collection file and reconciles every entity in
it against the index. Entities that disappeared from the file are not
removed; use 'urlindex delete --type <category>' first for a clean rebuild.

Examples:
  urlindex reindex saved
  urlindex reindex --all`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := root.newIndexer(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() { _ = ix.Close() }()

			out := output.New(cmd.OutOrStdout())

			if !all {
				n, err := ix.Reindex(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out.Successf("Reindexed %s: %s", args[0], count(n, "entity", "entities"))
				return nil
			}

			if len(ix.Categories()) == 0 {
				out.Warning("No sources configured; add category files under 'sources:' in the config")
				return nil
			}
			results, err := ix.ReindexAll(cmd.Context())
			for _, r := range results {
				out.Successf("Reindexed %s: %s", r.Category, count(r.Records, "entity", "entities"))
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Reindex every configured category")

	return cmd
}
