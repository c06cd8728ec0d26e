package memorycmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memsync/pkg/cliui"
	"github.com/papercomputeco/memsync/pkg/memory"
)

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete records",
		Long: `Delete records. Deletion leaves a tombstone that replicates to the peer,
so the record disappears there too.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store memory.Driver) error {
				w := cmd.OutOrStdout()
				for _, id := range args {
					deleted, err := store.Delete(ctx, id)
					if err != nil {
						return err
					}
					if !deleted {
						fmt.Fprintf(w, "  %s %s not found\n", cliui.WarnMark, cliui.IDStyle.Render(id))
						continue
					}
					fmt.Fprintf(w, "  %s Deleted %s\n", cliui.SuccessMark, cliui.IDStyle.Render(id))
				}
				return nil
			})
		},
	}
}
