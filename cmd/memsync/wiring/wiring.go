// Package wiring builds the shared pieces memsync commands compose: layered
// configuration, the logger, the local store, the peer remote and the event
// publisher.
package wiring

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/memsync/cmd/memsync/sqlitepath"
	"github.com/papercomputeco/memsync/pkg/config"
	"github.com/papercomputeco/memsync/pkg/eventstream"
	"github.com/papercomputeco/memsync/pkg/eventstream/kafka"
	"github.com/papercomputeco/memsync/pkg/eventstream/nop"
	"github.com/papercomputeco/memsync/pkg/logger"
	"github.com/papercomputeco/memsync/pkg/replication"
	"github.com/papercomputeco/memsync/pkg/replication/transport/direct"
	"github.com/papercomputeco/memsync/pkg/replication/transport/httptransport"
	"github.com/papercomputeco/memsync/pkg/replication/transport/sshtransport"
	"github.com/papercomputeco/memsync/pkg/storage/sqlite"
)

// Persistent flag names registered on the root command.
const (
	FlagConfigDir = "config-dir"
	FlagDebug     = "debug"
	FlagLogJSON   = "log-json"
)

// Viper loads layered configuration for cmd and binds the given registry
// flags on top of it.
func Viper(cmd *cobra.Command, flagKeys ...string) (*viper.Viper, error) {
	configDir, _ := cmd.Flags().GetString(FlagConfigDir)

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, err
	}

	config.BindRegisteredFlags(v, cmd, config.Flags, flagKeys)
	return v, nil
}

// Logger builds the process logger from the persistent logging flags.
// Interactive commands get the charmbracelet handler; --log-json switches to
// structured output for services.
func Logger(cmd *cobra.Command) *slog.Logger {
	debug, _ := cmd.Flags().GetBool(FlagDebug)
	jsonLogs, _ := cmd.Flags().GetBool(FlagLogJSON)

	return logger.New(
		logger.WithDebug(debug),
		logger.WithJSON(jsonLogs),
		logger.WithPretty(!jsonLogs),
		logger.WithWriter(cmd.ErrOrStderr()),
	)
}

// OpenStore opens the local store named by storage.sqlite_path (or the
// first well-known database file). The node identity comes from
// sync.node_id, falling back to the identity recorded in the database.
func OpenStore(ctx context.Context, v *viper.Viper, log *slog.Logger) (*sqlite.SQLiteDriver, error) {
	path, err := sqlitepath.ResolveSQLitePath(v.GetString("storage.sqlite_path"))
	if err != nil {
		return nil, err
	}

	store, err := sqlite.NewSQLiteDriver(ctx, sqlite.Config{
		Path:   path,
		NodeID: strings.TrimSpace(v.GetString("sync.node_id")),
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}

	log.Debug("opened local store", "path", path, "node", store.NodeID())
	return store, nil
}

// NewRemote builds the Remote Adapter for the configured transport. The
// ssh and file transports hold a session open, so they are wrapped in a
// redialer that reconnects after the peer goes away.
func NewRemote(c *config.SyncConfig, log *slog.Logger) (replication.Remote, error) {
	switch c.Transport {
	case config.TransportHTTP:
		return httptransport.New(httptransport.Config{
			URL:     c.Peer,
			Token:   c.Token,
			CAFile:  c.CAFile,
			Timeout: c.Timeout,
			Logger:  log,
		})

	case config.TransportSSH:
		user, addr, err := sshtransport.ParsePeer(c.Peer)
		if err != nil {
			return nil, err
		}
		sshConfig := sshtransport.Config{
			Addr:           addr,
			User:           user,
			KeyFile:        c.SSHKeyFile,
			KnownHostsFile: c.SSHKnownHosts,
			RemotePath:     c.RemoteSQLitePath,
			DialTimeout:    c.Timeout,
			Logger:         log,
		}
		return replication.NewRedialer(func(ctx context.Context) (replication.Remote, error) {
			return sshtransport.Dial(ctx, sshConfig)
		}, log), nil

	case config.TransportFile:
		path := c.RemoteSQLitePath
		return replication.NewRedialer(func(ctx context.Context) (replication.Remote, error) {
			// Opening a missing file would create an empty database.
			if _, err := os.Stat(path); err != nil {
				return nil, fmt.Errorf("peer database %s: %w", path, err)
			}
			return direct.Open(ctx, path, log)
		}, log), nil

	default:
		return nil, fmt.Errorf("unknown transport %q", c.Transport)
	}
}

// NewPublisher returns a pooled Kafka publisher when events.kafka_brokers is
// set and a no-op publisher otherwise. The caller closes it.
func NewPublisher(v *viper.Viper, log *slog.Logger) (eventstream.Publisher, error) {
	brokers := splitList(v.GetString("events.kafka_brokers"))
	if len(brokers) == 0 {
		return nop.NewPublisher(), nil
	}

	backend, err := kafka.NewPublisher(kafka.Config{
		Brokers:  brokers,
		Topic:    v.GetString("events.kafka_topic"),
		ClientID: "memsync",
	})
	if err != nil {
		return nil, fmt.Errorf("creating kafka publisher: %w", err)
	}

	pool, err := eventstream.NewPool(&eventstream.PoolConfig{
		Publisher: backend,
		Logger:    log,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	log.Info("publishing replication events", "brokers", brokers, "topic", v.GetString("events.kafka_topic"))
	return pool, nil
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
