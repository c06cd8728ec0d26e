// Package statuscmder provides the status command, which reports the local
// replication backlog and the last state written by a running daemon.
package statuscmder

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memsync/cmd/memsync/wiring"
	"github.com/papercomputeco/memsync/pkg/cliui"
	"github.com/papercomputeco/memsync/pkg/config"
	"github.com/papercomputeco/memsync/pkg/dotdir"
	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/storage/sqlite"
)

const statusLongDesc string = `Show replication status.

Opens the local store to report the node identity, the number of changes
waiting to be pushed and how long the oldest has waited. When "memsync serve"
is running it also shows the daemon state and counters it last recorded in
.memsync/status.json.

Examples:
  memsync status
  memsync status --sqlite ./memsync.db`

const statusShortDesc string = "Show replication status"

var statusFlags = []string{
	config.FlagSQLite,
	config.FlagNodeID,
}

func NewStatusCmd() *cobra.Command {
	var sqlitePath, nodeID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: statusShortDesc,
		Long:  statusLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := wiring.Viper(cmd, statusFlags...)
			if err != nil {
				return err
			}
			log := wiring.Logger(cmd)

			store, err := wiring.OpenStore(cmd.Context(), v, log)
			if err != nil {
				return err
			}
			defer store.Close()

			configDir, _ := cmd.Flags().GetString(wiring.FlagConfigDir)
			return runStatus(cmd.Context(), cmd.OutOrStdout(), store, configDir, time.Now())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagNodeID, &nodeID)

	return cmd
}

func runStatus(ctx context.Context, w io.Writer, store *sqlite.SQLiteDriver, configDir string, now time.Time) error {
	stats, err := store.ReplicationStats(ctx)
	if err != nil {
		return fmt.Errorf("reading replication stats: %w", err)
	}

	oldest := ""
	if stats.OldestPending != nil {
		oldest = memory.FormatTime(*stats.OldestPending) + " (" + cliui.FormatDuration(stats.OldestPendingAge(now)) + " ago)"
	}

	fmt.Fprintln(w)
	cliui.Fields(w,
		cliui.Field{Label: "Node", Value: stats.NodeID},
		cliui.Field{Label: "Pending", Value: strconv.Itoa(stats.Pending)},
		cliui.Field{Label: "Oldest pending", Value: oldest},
		cliui.Field{Label: "Last log id", Value: strconv.FormatInt(stats.LastLogID, 10)},
		cliui.Field{Label: "Archived", Value: strconv.Itoa(stats.Archived)},
	)
	fmt.Fprintln(w)

	snap, err := dotdir.NewManager().LoadStatus(configDir)
	if err != nil {
		return fmt.Errorf("loading daemon status: %w", err)
	}

	if snap == nil {
		fmt.Fprintf(w, "  %s No daemon status recorded. Start one with \"memsync serve\".\n\n", cliui.DimStyle.Render("●"))
		return nil
	}

	lastCycle := ""
	if !snap.LastCycle.IsZero() {
		lastCycle = cliui.FormatDuration(now.Sub(snap.LastCycle)) + " ago"
	}

	cliui.Fields(w,
		cliui.Field{Label: "Daemon", Value: snap.State + " (pid " + strconv.Itoa(snap.PID) + ")"},
		cliui.Field{Label: "Peer", Value: snap.Peer},
		cliui.Field{Label: "Cycles", Value: strconv.FormatUint(snap.Cycles, 10)},
		cliui.Field{Label: "Pushed", Value: strconv.FormatUint(snap.Pushed, 10)},
		cliui.Field{Label: "Pulled", Value: strconv.FormatUint(snap.Pulled, 10)},
		cliui.Field{Label: "Conflicts", Value: strconv.FormatUint(snap.Conflicts, 10)},
		cliui.Field{Label: "Failures", Value: strconv.FormatUint(snap.Failures, 10)},
		cliui.Field{Label: "Last cycle", Value: lastCycle},
	)
	if snap.LastError != "" {
		fmt.Fprintf(w, "\n  %s %s\n", cliui.FailMark, cliui.ErrorStyle.Render(snap.LastError))
	}
	fmt.Fprintln(w)

	return nil
}
