// Package memsynccmder
package memsynccmder

import (
	"github.com/spf13/cobra"

	compactcmder "github.com/papercomputeco/memsync/cmd/memsync/compact"
	configcmder "github.com/papercomputeco/memsync/cmd/memsync/config"
	exportcmder "github.com/papercomputeco/memsync/cmd/memsync/export"
	initcmder "github.com/papercomputeco/memsync/cmd/memsync/init"
	memorycmder "github.com/papercomputeco/memsync/cmd/memsync/memory"
	migratecmder "github.com/papercomputeco/memsync/cmd/memsync/migrate"
	peercmder "github.com/papercomputeco/memsync/cmd/memsync/peer"
	servecmder "github.com/papercomputeco/memsync/cmd/memsync/serve"
	statuscmder "github.com/papercomputeco/memsync/cmd/memsync/status"
	synccmder "github.com/papercomputeco/memsync/cmd/memsync/sync"
	versioncmder "github.com/papercomputeco/memsync/cmd/memsync/version"
	"github.com/papercomputeco/memsync/cmd/memsync/wiring"
)

const memsyncLongDesc string = `memsync keeps two memory stores in step.

Each node writes to its own SQLite database. A background daemon pushes
local changes to one peer and pulls the peer's changes back, settling
concurrent edits with last-write-wins.

Get started:
  memsync init                 Create .memsync/ with a config and database
  memsync config set ...       Point the node at its peer
  memsync serve                Run the peer API and the sync daemon
  memsync sync                 Run a single cycle and exit
  memsync status               Show the replication backlog`

const memsyncShortDesc string = "memsync - replicated memory store"

func NewMemsyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "memsync",
		Short:        memsyncShortDesc,
		Long:         memsyncLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP(wiring.FlagDebug, "d", false, "Enable debug logging")
	cmd.PersistentFlags().Bool(wiring.FlagLogJSON, false, "Emit structured JSON logs")
	cmd.PersistentFlags().String(wiring.FlagConfigDir, "", "Directory holding config.toml (default ./.memsync or ~/.memsync)")

	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(migratecmder.NewMigrateCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(synccmder.NewSyncCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(compactcmder.NewCompactCmd())
	cmd.AddCommand(memorycmder.NewMemoryCmd())
	cmd.AddCommand(exportcmder.NewExportCmd())
	cmd.AddCommand(peercmder.NewPeerCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
