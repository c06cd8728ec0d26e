// Package initcmder provides the init command for initializing a local
// .memsync directory and database in the current working directory.
package initcmder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memsync/cmd/memsync/sqlitepath"
	"github.com/papercomputeco/memsync/pkg/cliui"
	"github.com/papercomputeco/memsync/pkg/config"
	"github.com/papercomputeco/memsync/pkg/replication/schema"
	"github.com/papercomputeco/memsync/pkg/storage/sqlite"
)

const dirName = ".memsync"

const initLongDesc string = `Initialize a new .memsync/ directory in the current working directory.

Creates a local .memsync/ directory that takes precedence over ~/.memsync/,
writes a config.toml naming this node and creates the memory database with
the replication schema applied. The node id defaults to the host name.

Running init again leaves an existing configuration untouched.

Examples:
  memsync init
  memsync init --node-id laptop`

const initShortDesc string = "Initialize a local .memsync/ directory"

func NewInitCmd() *cobra.Command {
	var nodeID string

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("getting current directory: %w", err)
			}
			return runInit(cmd.Context(), cmd.OutOrStdout(), filepath.Join(cwd, dirName), nodeID)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagNodeID, &nodeID)

	return cmd
}

func runInit(ctx context.Context, w io.Writer, dir, nodeID string) error {
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err == nil {
		fmt.Fprintf(w, "Already initialized: %s\n", dir)
		return nil
	}

	if nodeID == "" {
		nodeID = DefaultNodeID()
	}
	if err := schema.ValidateNodeID(nodeID); err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating .memsync directory: %w", err)
	}

	dbPath := sqlitepath.DefaultPath(dir)
	store, err := sqlite.NewSQLiteDriver(ctx, sqlite.Config{Path: dbPath, NodeID: nodeID})
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	if err := store.Close(); err != nil {
		return err
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg, err := cfger.LoadConfig()
	if err != nil {
		return err
	}
	cfg.Sync.NodeID = nodeID
	cfg.Storage.SQLitePath = dbPath
	if err := cfger.SaveConfig(cfg); err != nil {
		return err
	}

	fmt.Fprintf(w, "  %s Initialized %s as node %s\n", cliui.SuccessMark, dir, cliui.IDStyle.Render(nodeID))
	fmt.Fprintf(w, "\n  %s\n", cliui.DimStyle.Render("Next: memsync config set sync.transport <http|ssh|file> and sync.peer"))
	return nil
}

var invalidNodeChars = regexp.MustCompile(`[^A-Za-z0-9._:@-]+`)

// DefaultNodeID derives a node id from the host name.
func DefaultNodeID() string {
	host, err := os.Hostname()
	if err != nil {
		return "memsync-node"
	}
	id := strings.Trim(invalidNodeChars.ReplaceAllString(host, "-"), "-")
	if id == "" {
		return "memsync-node"
	}
	if len(id) > 128 {
		id = id[:128]
	}
	return id
}
