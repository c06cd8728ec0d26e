// Package peercmder provides the peer command group: endpoints a remote
// memsync daemon drives to reach this host's store.
package peercmder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/memsync/cmd/memsync/wiring"
	"github.com/papercomputeco/memsync/pkg/replication"
	"github.com/papercomputeco/memsync/pkg/replication/transport/direct"
	"github.com/papercomputeco/memsync/pkg/replication/transport/rpc"
	"github.com/papercomputeco/memsync/pkg/utils"
)

const peerShortDesc string = "Endpoints used by a remote memsync daemon"

func NewPeerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "peer",
		Short:  peerShortDesc,
		Hidden: true,
	}

	cmd.AddCommand(newStdioCmd())

	return cmd
}

const stdioLongDesc string = `Serve the replication protocol on stdin and stdout.

This is the command the ssh transport runs on the remote host. It reads
newline-delimited JSON requests from stdin, answers on stdout and exits when
stdin closes. Logs go to stderr. It is not meant to be run by hand.`

func newStdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve the replication protocol over stdio",
		Long:  stdioLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := wiring.Logger(cmd)
			return Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), log)
		},
	}
}

// Serve answers replication requests read from r until it reaches EOF.
func Serve(ctx context.Context, r io.Reader, w io.Writer, log *slog.Logger) error {
	server := rpc.NewServer(func(ctx context.Context, path string) (replication.Remote, error) {
		path = utils.ExpandHome(path)
		// The daemon syncs with an existing store; a typo must not create
		// an empty one.
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("peer database %s: %w", path, err)
		}
		return direct.Open(ctx, path, log)
	}, log)

	return server.Serve(ctx, r, w)
}
