package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline, so the same logical flag
// reads the same on "memsync serve" and "memsync sync".
type Flag struct {
	// Name is the long flag name (e.g. "peer").
	Name string

	// Shorthand is the one-letter short flag (e.g. "p"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "sync.peer").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddUintFlag,
// and BindRegisteredFlags to avoid drift from one command to another.
const (
	FlagSQLite       = "sqlite"
	FlagAPIListen    = "listen"
	FlagAPIToken     = "api-token"
	FlagNodeID       = "node-id"
	FlagPeer         = "peer"
	FlagTransport    = "transport"
	FlagRemoteSQLite = "remote-sqlite"
	FlagPollInterval = "poll-interval"
	FlagBatchSize    = "batch-size"
	FlagTimeout      = "timeout"
	FlagSyncToken    = "token"
	FlagKafkaBrokers = "kafka-brokers"
)

// Flags is the registry shared by every memsync command.
var Flags = FlagSet{
	FlagSQLite: {
		Name:        "sqlite",
		Shorthand:   "s",
		ViperKey:    "storage.sqlite_path",
		Description: "Path to the local SQLite memory store",
	},
	FlagAPIListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "api.listen",
		Description: "Address for the peer API server to listen on",
	},
	FlagAPIToken: {
		Name:        "api-token",
		ViperKey:    "api.token",
		Description: "Bearer token the peer must present to this node's API",
	},
	FlagNodeID: {
		Name:        "node-id",
		ViperKey:    "sync.node_id",
		Description: "Stable identity of this node",
	},
	FlagPeer: {
		Name:        "peer",
		Shorthand:   "p",
		ViperKey:    "sync.peer",
		Description: "Peer address (https://host:port or ssh://user@host:port)",
	},
	FlagTransport: {
		Name:        "transport",
		Shorthand:   "t",
		ViperKey:    "sync.transport",
		Description: "Transport used to reach the peer (http, ssh, file)",
	},
	FlagRemoteSQLite: {
		Name:        "remote-sqlite",
		ViperKey:    "sync.remote_sqlite_path",
		Description: "Path to the peer's SQLite store (ssh and file transports)",
	},
	FlagPollInterval: {
		Name:        "poll-interval",
		ViperKey:    "sync.poll_interval",
		Description: "Seconds between reconciliation cycles (1-300)",
	},
	FlagBatchSize: {
		Name:        "batch-size",
		ViperKey:    "sync.batch_size",
		Description: "Maximum log entries exchanged per push or pull (1-100)",
	},
	FlagTimeout: {
		Name:        "timeout",
		ViperKey:    "sync.timeout",
		Description: "Seconds before a single peer call times out",
	},
	FlagSyncToken: {
		Name:        "token",
		ViperKey:    "sync.token",
		Description: "Bearer token presented to the peer's API",
	},
	FlagKafkaBrokers: {
		Name:        "kafka-brokers",
		ViperKey:    "events.kafka_brokers",
		Description: "Comma-separated Kafka brokers for replication events",
	},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddUintFlag registers a uint flag on cmd from the given FlagSet.
func AddUintFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *uint) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultUint(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().UintVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().UintVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
// Only flags the user actually changed are bound, so an untouched flag never
// masks a required key as set.
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil || !f.Changed {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	v := viper.New()
	setViperDefaults(v)
	return v.GetString(viperKey)
}

// defaultUint returns the default uint value for a viper key from NewDefaultConfig.
func defaultUint(viperKey string) uint {
	v := viper.New()
	setViperDefaults(v)
	return v.GetUint(viperKey)
}
