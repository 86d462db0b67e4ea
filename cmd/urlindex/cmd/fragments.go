package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/urlindex/internal/fragment"
	"github.com/Aman-CERP/urlindex/internal/output"
)

// fragmentJSON is one row of `fragments --json`.
type fragmentJSON struct {
	Value   string `json:"value"`
	Kind    string `json:"kind"`
	FullURL int    `json:"full_url"`
}

// newFragmentsCmd shows how a URL is decomposed without touching the index.
func newFragmentsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "fragments <url>",
		Short: "Show the searchable fragments of a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frags := fragment.Decompose(args[0])

			if jsonOutput {
				rows := make([]fragmentJSON, 0, len(frags))
				for _, f := range frags {
					rows = append(rows, fragmentJSON{Value: fragment.Canonical(f.Value), Kind: f.Kind.String(), FullURL: f.FullURL})
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			out := output.New(cmd.OutOrStdout())
			if len(frags) == 0 {
				out.Warning("Not an absolute URL with a host; nothing would be indexed")
				return nil
			}
			out.Successf("%s", count(len(frags), "fragment", "fragments"))
			pairs := make([][2]string, 0, len(frags))
			for i, f := range frags {
				pairs = append(pairs, [2]string{fmt.Sprintf("%d %s", i+1, f.Kind), fragment.Canonical(f.Value)})
			}
			out.KeyValue(pairs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output fragments as JSON")

	return cmd
}
