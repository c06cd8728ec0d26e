// Package compactcmder provides the compact command, which archives synced
// mutation log entries older than a cutoff.
package compactcmder

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memsync/cmd/memsync/wiring"
	"github.com/papercomputeco/memsync/pkg/cliui"
	"github.com/papercomputeco/memsync/pkg/config"
)

const compactLongDesc string = `Archive old synced mutation log entries.

Moves log entries that have been synced and are older than the cutoff to the
archive table. Pending entries are never touched. The cutoff comes from
--older-than or, when omitted, from sync.log_retention_days.

Examples:
  memsync compact --older-than 720h
  memsync config set sync.log_retention_days 30 && memsync compact`

const compactShortDesc string = "Archive old synced log entries"

var compactFlags = []string{config.FlagSQLite}

func NewCompactCmd() *cobra.Command {
	var (
		sqlitePath string
		olderThan  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "compact",
		Short: compactShortDesc,
		Long:  compactLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := wiring.Viper(cmd, compactFlags...)
			if err != nil {
				return err
			}

			retention := olderThan
			if retention == 0 {
				retention = time.Duration(v.GetInt("sync.log_retention_days")) * 24 * time.Hour
			}
			if retention <= 0 {
				return errors.New("no retention configured: pass --older-than or set sync.log_retention_days")
			}

			store, err := wiring.OpenStore(cmd.Context(), v, wiring.Logger(cmd))
			if err != nil {
				return err
			}
			defer store.Close()

			var archived int64
			out := cmd.OutOrStdout()
			err = cliui.Step(out, "Compacting", func() error {
				archived, err = store.Compact(cmd.Context(), time.Now().Add(-retention))
				return err
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "\n  %s Archived %d log entries older than %s\n\n",
				cliui.SuccessMark, archived, cliui.FormatDuration(retention))
			return nil
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &sqlitePath)
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Archive synced entries older than this duration")

	return cmd
}
