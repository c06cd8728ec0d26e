// Package servecmder provides the serve command, which runs the peer API and
// the reconciliation daemon together.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/memsync/api"
	mcpapi "github.com/papercomputeco/memsync/api/mcp"
	"github.com/papercomputeco/memsync/cmd/memsync/wiring"
	"github.com/papercomputeco/memsync/pkg/config"
	"github.com/papercomputeco/memsync/pkg/dotdir"
	"github.com/papercomputeco/memsync/pkg/logger"
	"github.com/papercomputeco/memsync/pkg/replication/daemon"
	"github.com/papercomputeco/memsync/pkg/storage/sqlite"
)

type serveCommander struct {
	sqlitePath   string
	listen       string
	apiToken     string
	nodeID       string
	peer         string
	transport    string
	remoteSQLite string
	pollInterval uint
	batchSize    uint
	timeout      uint
	syncToken    string
	kafkaBrokers string
	configDir    string
	logFile      string
	debug        bool

	logger *slog.Logger
}

var serveFlags = []string{
	config.FlagSQLite,
	config.FlagAPIListen,
	config.FlagAPIToken,
	config.FlagNodeID,
	config.FlagPeer,
	config.FlagTransport,
	config.FlagRemoteSQLite,
	config.FlagPollInterval,
	config.FlagBatchSize,
	config.FlagTimeout,
	config.FlagSyncToken,
	config.FlagKafkaBrokers,
}

const serveLongDesc string = `Run the memsync node.

Starts the peer API server and the reconciliation daemon in one process.
The daemon migrates the local store, waits for the peer to answer, then
pushes local changes and pulls the peer's changes every poll interval.

The [sync] configuration is validated before anything starts; an invalid
configuration is reported in full and the command exits.

Stop with SIGINT or SIGTERM. An in-flight record finishes before exit.

Examples:
  memsync serve
  memsync serve --log-file ~/.memsync/daemon.log
  memsync serve --peer https://desk.lan:8443 --transport http --poll-interval 30`

const serveShortDesc string = "Run the peer API and the reconciliation daemon"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := wiring.Viper(cmd, serveFlags...)
			if err != nil {
				return err
			}
			cmder.configDir, _ = cmd.Flags().GetString(wiring.FlagConfigDir)
			cmder.debug, _ = cmd.Flags().GetBool(wiring.FlagDebug)
			cmder.logger = wiring.Logger(cmd)
			return cmder.run(cmd.Context(), v)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIToken, &cmder.apiToken)
	config.AddStringFlag(cmd, config.Flags, config.FlagNodeID, &cmder.nodeID)
	config.AddStringFlag(cmd, config.Flags, config.FlagPeer, &cmder.peer)
	config.AddStringFlag(cmd, config.Flags, config.FlagTransport, &cmder.transport)
	config.AddStringFlag(cmd, config.Flags, config.FlagRemoteSQLite, &cmder.remoteSQLite)
	config.AddUintFlag(cmd, config.Flags, config.FlagPollInterval, &cmder.pollInterval)
	config.AddUintFlag(cmd, config.Flags, config.FlagBatchSize, &cmder.batchSize)
	config.AddUintFlag(cmd, config.Flags, config.FlagTimeout, &cmder.timeout)
	config.AddStringFlag(cmd, config.Flags, config.FlagSyncToken, &cmder.syncToken)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also write JSON logs to this file")

	return cmd
}

func (c *serveCommander) run(parent context.Context, v *viper.Viper) error {
	sc, err := config.LoadSyncConfig(v)
	if err != nil {
		return fmt.Errorf("refusing to start: %w", err)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ddm := dotdir.NewManager()
	lock, err := ddm.LockDaemon(c.configDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	if c.logFile != "" {
		f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()

		c.logger = logger.Multi(c.logger, logger.New(
			logger.WithJSON(true),
			logger.WithDebug(c.debug),
			logger.WithWriter(f),
			logger.WithAttrs("node", sc.NodeID),
		))
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
		Interval:  sc.PollInterval,
		BatchSize: sc.BatchSize,
		Timeout:   sc.Timeout,
		Retention: sc.LogRetention,
		Publisher: publisher,
		Logger:    c.logger,
		OnCycle: func(s daemon.Status) {
			if err := ddm.SaveStatus(Snapshot(sc, s), c.configDir); err != nil {
				c.logger.Warn("could not persist daemon status", "error", err)
			}
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = ddm.ClearStatus(c.configDir) }()

	server, err := c.newAPIServer(v, store, d)
	if err != nil {
		return err
	}

	c.logger.Info("starting memsync node",
		"node", sc.NodeID,
		"peer", sc.PeerLabel(),
		"transport", sc.Transport,
		"poll_interval", sc.PollInterval,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := d.Run(gctx); err != nil {
			return fmt.Errorf("daemon: %w", err)
		}
		// The daemon only returns nil once gctx is done.
		return nil
	})

	g.Go(func() error {
		if err := server.Run(); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return server.Shutdown()
	})

	if sc.Watch && sc.LocalSQLitePath != ":memory:" {
		g.Go(func() error {
			if err := daemon.Watch(gctx, sc.LocalSQLitePath, d); err != nil {
				// Polling still converges without the watcher.
				c.logger.Warn("local change watch stopped", "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	c.logger.Info("memsync node stopped")
	return nil
}

func (c *serveCommander) newAPIServer(v *viper.Viper, store *sqlite.SQLiteDriver, d *daemon.Daemon) (*api.Server, error) {
	opts := []api.Option{api.WithDaemon(d)}

	if v.GetBool("api.mcp") {
		mcpServer, err := mcpapi.NewServer(mcpapi.Config{Driver: store, Logger: c.logger})
		if err != nil {
			return nil, fmt.Errorf("creating MCP server: %w", err)
		}
		opts = append(opts, api.WithMCP(mcpServer.Handler()))
	}

	token := v.GetString("api.token")
	if token == "" {
		c.logger.Warn("api.token is not set; the peer API accepts unauthenticated requests")
	}

	return api.NewServer(api.Config{
		ListenAddr:  v.GetString("api.listen"),
		Token:       token,
		TLSCertFile: v.GetString("api.tls_cert"),
		TLSKeyFile:  v.GetString("api.tls_key"),
	}, store, c.logger, opts...)
}

// Snapshot converts a daemon status into the persisted form read by
// `memsync status`.
func Snapshot(sc *config.SyncConfig, s daemon.Status) *dotdir.StatusSnapshot {
	return &dotdir.StatusSnapshot{
		NodeID:    sc.NodeID,
		Peer:      sc.PeerLabel(),
		PID:       os.Getpid(),
		State:     string(s.State),
		Cycles:    s.Stats.Cycles,
		Pushed:    s.Stats.Pushed,
		Pulled:    s.Stats.Pulled,
		Conflicts: s.Stats.Conflicts,
		Failures:  s.Stats.Failures,
		LastCycle: s.Stats.LastCycle,
		LastError: s.Stats.LastError,
	}
}
