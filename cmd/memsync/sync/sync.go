// Package synccmder provides the `memsync sync` command, which runs a single
// reconciliation cycle against the configured peer and exits.
package synccmder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/memsync/cmd/memsync/wiring"
	"github.com/papercomputeco/memsync/pkg/cliui"
	"github.com/papercomputeco/memsync/pkg/config"
	"github.com/papercomputeco/memsync/pkg/replication/daemon"
	"github.com/papercomputeco/memsync/pkg/storage/sqlite"
)

type syncCommander struct {
	sqlitePath   string
	nodeID       string
	peer         string
	transport    string
	remoteSQLite string
	pollInterval uint
	batchSize    uint
	timeout      uint
	syncToken    string

	out    io.Writer
	logger *slog.Logger
}

var syncFlags = []string{
	config.FlagSQLite,
	config.FlagNodeID,
	config.FlagPeer,
	config.FlagTransport,
	config.FlagRemoteSQLite,
	config.FlagPollInterval,
	config.FlagBatchSize,
	config.FlagTimeout,
	config.FlagSyncToken,
}

const syncLongDesc string = `Run one reconciliation cycle and exit.

Pushes every pending local change to the peer, pulls the peer's pending
changes, settles conflicts with last-write-wins and prints a summary.
Uses the same [sync] configuration as "memsync serve".

Examples:
  memsync sync
  memsync sync --transport file --remote-sqlite /mnt/share/memsync.db`

const syncShortDesc string = "Run a single push/pull cycle"

// NewSyncCmd creates the sync cobra command.
func NewSyncCmd() *cobra.Command {
	cmder := &syncCommander{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: syncShortDesc,
		Long:  syncLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := wiring.Viper(cmd, syncFlags...)
			if err != nil {
				return err
			}
			cmder.out = cmd.OutOrStdout()
			cmder.logger = wiring.Logger(cmd)
			return cmder.run(cmd.Context(), v)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagNodeID, &cmder.nodeID)
	config.AddStringFlag(cmd, config.Flags, config.FlagPeer, &cmder.peer)
	config.AddStringFlag(cmd, config.Flags, config.FlagTransport, &cmder.transport)
	config.AddStringFlag(cmd, config.Flags, config.FlagRemoteSQLite, &cmder.remoteSQLite)
	config.AddUintFlag(cmd, config.Flags, config.FlagPollInterval, &cmder.pollInterval)
	config.AddUintFlag(cmd, config.Flags, config.FlagBatchSize, &cmder.batchSize)
	config.AddUintFlag(cmd, config.Flags, config.FlagTimeout, &cmder.timeout)
	config.AddStringFlag(cmd, config.Flags, config.FlagSyncToken, &cmder.syncToken)

	return cmd
}

func (c *syncCommander) run(ctx context.Context, v *viper.Viper) error {
	sc, err := config.LoadSyncConfig(v)
	if err != nil {
		return err
	}

	store, err := sqlite.NewSQLiteDriver(ctx, sqlite.Config{
		Path:   sc.LocalSQLitePath,
		NodeID: sc.NodeID,
		Logger: c.logger,
	})
	if err != nil {
		return fmt.Errorf("opening store %s: %w", sc.LocalSQLitePath, err)
	}
	defer store.Close()

	remote, err := wiring.NewRemote(sc, c.logger)
	if err != nil {
		return fmt.Errorf("creating %s remote: %w", sc.Transport, err)
	}
	defer remote.Close()

	publisher, err := wiring.NewPublisher(v, c.logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	d, err := daemon.New(daemon.Config{
		Store:     store,
		Remote:    remote,
		PeerID:    sc.PeerLabel(),
		BatchSize: sc.BatchSize,
		Timeout:   sc.Timeout,
		Retention: sc.LogRetention,
		// A one-shot run compacts whenever retention is configured.
		CompactEvery: 1,
		Publisher:    publisher,
		Logger:       c.logger,
	})
	if err != nil {
		return err
	}

	if err := cliui.Step(c.out, "Reaching "+sc.PeerLabel(), func() error {
		probeCtx, cancel := context.WithTimeout(ctx, sc.Timeout)
		defer cancel()
		return remote.Probe(probeCtx)
	}); err != nil {
		return err
	}

	var report *daemon.CycleReport
	cycleErr := cliui.Step(c.out, "Reconciling", func() error {
		var err error
		report, err = d.RunOnce(ctx)
		return err
	})

	fmt.Fprintln(c.out)
	cliui.Fields(c.out,
		cliui.Field{Label: "Pushed", Value: strconv.Itoa(report.Pushed)},
		cliui.Field{Label: "Pulled", Value: strconv.Itoa(report.Pulled)},
		cliui.Field{Label: "Conflicts", Value: strconv.Itoa(report.Conflicts)},
		cliui.Field{Label: "Failed", Value: strconv.Itoa(report.Failed)},
		cliui.Field{Label: "Archived", Value: strconv.FormatInt(report.Compacted, 10)},
	)
	fmt.Fprintln(c.out)

	return cycleErr
}
