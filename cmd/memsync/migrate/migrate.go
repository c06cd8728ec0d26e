// Package migratecmder provides the migrate command, which brings a memory
// database up to the replication schema without starting a daemon.
package migratecmder

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memsync/cmd/memsync/wiring"
	"github.com/papercomputeco/memsync/pkg/cliui"
	"github.com/papercomputeco/memsync/pkg/config"
	"github.com/papercomputeco/memsync/pkg/replication/schema"
)

const migrateLongDesc string = `Apply the replication schema to a memory database.

Adds the origin, version and tombstone columns, the mutation log and its
triggers to an existing store. Running it again on a migrated database
changes nothing. Every memsync command migrates on open; this command only
makes the step explicit, for example before copying a database to a peer.

Examples:
  memsync migrate --sqlite ./memories.db --node-id laptop`

const migrateShortDesc string = "Apply the replication schema"

var migrateFlags = []string{
	config.FlagSQLite,
	config.FlagNodeID,
}

func NewMigrateCmd() *cobra.Command {
	var sqlitePath, nodeID string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: migrateShortDesc,
		Long:  migrateLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := wiring.Viper(cmd, migrateFlags...)
			if err != nil {
				return err
			}

			var report *schema.Report
			var node string
			out := cmd.OutOrStdout()
			err = cliui.Step(out, "Migrating", func() error {
				store, err := wiring.OpenStore(cmd.Context(), v, wiring.Logger(cmd))
				if err != nil {
					return err
				}
				defer store.Close()
				report, node = store.OpenReport(), store.NodeID()
				return nil
			})
			if err != nil {
				return err
			}

			printReport(out, node, report)
			return nil
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagNodeID, &nodeID)

	return cmd
}

func printReport(w io.Writer, node string, report *schema.Report) {
	fmt.Fprintln(w)
	if report == nil || !report.Changed() {
		fmt.Fprintf(w, "  %s Schema already current for node %s\n\n", cliui.SuccessMark, cliui.IDStyle.Render(node))
		return
	}

	created := "no"
	if report.LogCreated {
		created = "yes"
	}
	renamed := "no"
	if report.NodeChanged {
		renamed = "yes"
	}

	cliui.Fields(w,
		cliui.Field{Label: "Node", Value: node},
		cliui.Field{Label: "Columns added", Value: strings.Join(report.ColumnsAdded, ", ")},
		cliui.Field{Label: "Log created", Value: created},
		cliui.Field{Label: "Backfilled", Value: strconv.Itoa(report.Backfilled)},
		cliui.Field{Label: "Node changed", Value: renamed},
		cliui.Field{Label: "Triggers", Value: strings.Join(report.TriggersInstalled, ", ")},
	)
	fmt.Fprintln(w)
}
