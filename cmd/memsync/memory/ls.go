package memorycmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memsync/pkg/cliui"
	"github.com/papercomputeco/memsync/pkg/memory"
)

const lsLongDesc string = `List records, most recently updated first.

Examples:
  memsync memory ls
  memsync memory ls --domain infra --tag kafka
  memsync memory ls --limit 20 --offset 20`

func newLsCmd() *cobra.Command {
	var (
		filter        memory.Filter
		limit, offset int
		quiet         bool
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List records",
		Long:  lsLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store memory.Driver) error {
				records, total, err := store.List(ctx, filter, limit, offset)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if quiet {
					for _, rec := range records {
						fmt.Fprintln(w, rec.ID)
					}
					return nil
				}

				if total == 0 {
					fmt.Fprintln(w, "No records found.")
					return nil
				}

				fmt.Fprintln(w)
				printRecords(w, records)
				fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render(fmt.Sprintf("%d of %d records", len(records), total)))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&filter.Domain, "domain", "", "Only records in this domain")
	cmd.Flags().StringVar(&filter.Workspace, "workspace", "", "Only records in this workspace")
	cmd.Flags().StringVar(&filter.Repository, "repository", "", "Only records for this repository")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Only records with this status")
	cmd.Flags().StringVar(&filter.Tag, "tag", "", "Only records carrying this tag")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of records to skip")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print only record ids")

	return cmd
}
