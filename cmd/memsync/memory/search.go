package memorycmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memsync/pkg/cliui"
	"github.com/papercomputeco/memsync/pkg/memory"
)

func newSearchCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search record titles and content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store memory.Driver) error {
				records, err := store.Search(ctx, args[0], topK)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(w, "No results found.")
					return nil
				}

				fmt.Fprintf(w, "\n%s %s\n\n",
					cliui.TitleStyle.Render("Results for:"),
					cliui.IDStyle.Render(fmt.Sprintf("%q", args[0])),
				)
				printRecords(w, records)
				fmt.Fprintln(w)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&topK, "top", "k", 10, "Number of results to return")

	return cmd
}
