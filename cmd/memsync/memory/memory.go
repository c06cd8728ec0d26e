// Package memorycmder provides the memory command group for reading and
// writing records in the local store. Writes made here are captured by the
// mutation log and replicated like any other application write.
package memorycmder

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memsync/cmd/memsync/wiring"
	"github.com/papercomputeco/memsync/pkg/cliui"
	"github.com/papercomputeco/memsync/pkg/config"
	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/utils"
)

const memoryLongDesc string = `Read and write memory records in the local store.

Every write goes through the same store the daemon replicates, so records
added here reach the peer on the next cycle.

Examples:
  memsync memory put --domain infra --title "Deploy notes" --content "..."
  memsync memory ls --domain infra
  memsync memory get 5c2d...
  memsync memory search kafka
  memsync memory rm 5c2d...`

const memoryShortDesc string = "Manage memory records"

func NewMemoryCmd() *cobra.Command {
	var sqlitePath string

	cmd := &cobra.Command{
		Use:     "memory",
		Aliases: []string{"mem"},
		Short:   memoryShortDesc,
		Long:    memoryLongDesc,
	}

	sqliteFlag := config.Flags[config.FlagSQLite]
	cmd.PersistentFlags().StringVarP(&sqlitePath, sqliteFlag.Name, sqliteFlag.Shorthand, "", sqliteFlag.Description)

	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newSearchCmd())

	return cmd
}

// withStore opens the local store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store memory.Driver) error) error {
	v, err := wiring.Viper(cmd, config.FlagSQLite)
	if err != nil {
		return err
	}

	store, err := wiring.OpenStore(cmd.Context(), v, wiring.Logger(cmd))
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(cmd.Context(), store)
}

func printRecords(w io.Writer, records []*memory.Record) {
	for _, rec := range records {
		tags := ""
		if len(rec.Tags) > 0 {
			tags = " " + cliui.DimStyle.Render("#"+strings.Join(rec.Tags, " #"))
		}
		fmt.Fprintf(w, "  %s  %s  %s%s\n",
			cliui.IDStyle.Render(rec.ID),
			cliui.DimStyle.Render(rec.Domain),
			cliui.ValueStyle.Render(utils.Truncate(rec.Title, 60)),
			tags,
		)
	}
}
