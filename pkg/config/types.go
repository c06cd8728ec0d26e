package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent memsync configuration stored as
// config.toml in the .memsync/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version int           `toml:"version"`
	Storage StorageConfig `toml:"storage"`
	API     APIConfig     `toml:"api"`
	Sync    SyncSection   `toml:"sync"`
	Events  EventsConfig  `toml:"events"`
}

// StorageConfig holds local store settings.
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path,omitempty"`
}

// APIConfig holds peer API server settings.
type APIConfig struct {
	Listen  string `toml:"listen,omitempty"`
	Token   string `toml:"token,omitempty"`
	TLSCert string `toml:"tls_cert,omitempty"`
	TLSKey  string `toml:"tls_key,omitempty"`
	MCP     bool   `toml:"mcp,omitempty"`
}

// SyncSection is the raw [sync] section. LoadSyncConfig turns it into a
// validated SyncConfig.
type SyncSection struct {
	NodeID           string `toml:"node_id,omitempty"`
	Peer             string `toml:"peer,omitempty"`
	Transport        string `toml:"transport,omitempty"`
	RemoteSQLitePath string `toml:"remote_sqlite_path,omitempty"`
	PollInterval     uint   `toml:"poll_interval,omitempty"`
	BatchSize        uint   `toml:"batch_size,omitempty"`
	Timeout          uint   `toml:"timeout,omitempty"`
	LogRetentionDays uint   `toml:"log_retention_days,omitempty"`
	Token            string `toml:"token,omitempty"`
	CAFile           string `toml:"ca_file,omitempty"`
	SSHKeyFile       string `toml:"ssh_key_file,omitempty"`
	SSHKnownHosts    string `toml:"ssh_known_hosts,omitempty"`
	Watch            bool   `toml:"watch,omitempty"`
}

// EventsConfig holds replication event publishing settings. Publishing is
// disabled when no brokers are set.
type EventsConfig struct {
	KafkaBrokers string `toml:"kafka_brokers,omitempty"`
	KafkaTopic   string `toml:"kafka_topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

func boolKey(name string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.sqlite_path": stringKey(func(c *Config) *string { return &c.Storage.SQLitePath }),

	"api.listen":   stringKey(func(c *Config) *string { return &c.API.Listen }),
	"api.token":    stringKey(func(c *Config) *string { return &c.API.Token }),
	"api.tls_cert": stringKey(func(c *Config) *string { return &c.API.TLSCert }),
	"api.tls_key":  stringKey(func(c *Config) *string { return &c.API.TLSKey }),
	"api.mcp":      boolKey("api.mcp", func(c *Config) *bool { return &c.API.MCP }),

	"sync.node_id":            stringKey(func(c *Config) *string { return &c.Sync.NodeID }),
	"sync.peer":               stringKey(func(c *Config) *string { return &c.Sync.Peer }),
	"sync.transport":          stringKey(func(c *Config) *string { return &c.Sync.Transport }),
	"sync.remote_sqlite_path": stringKey(func(c *Config) *string { return &c.Sync.RemoteSQLitePath }),
	"sync.poll_interval":      uintKey("sync.poll_interval", func(c *Config) *uint { return &c.Sync.PollInterval }),
	"sync.batch_size":         uintKey("sync.batch_size", func(c *Config) *uint { return &c.Sync.BatchSize }),
	"sync.timeout":            uintKey("sync.timeout", func(c *Config) *uint { return &c.Sync.Timeout }),
	"sync.log_retention_days": uintKey("sync.log_retention_days", func(c *Config) *uint { return &c.Sync.LogRetentionDays }),
	"sync.token":              stringKey(func(c *Config) *string { return &c.Sync.Token }),
	"sync.ca_file":            stringKey(func(c *Config) *string { return &c.Sync.CAFile }),
	"sync.ssh_key_file":       stringKey(func(c *Config) *string { return &c.Sync.SSHKeyFile }),
	"sync.ssh_known_hosts":    stringKey(func(c *Config) *string { return &c.Sync.SSHKnownHosts }),
	"sync.watch":              boolKey("sync.watch", func(c *Config) *bool { return &c.Sync.Watch }),

	"events.kafka_brokers": stringKey(func(c *Config) *string { return &c.Events.KafkaBrokers }),
	"events.kafka_topic":   stringKey(func(c *Config) *string { return &c.Events.KafkaTopic }),
}

// orderedKeys lists the keys in TOML section order.
var orderedKeys = []string{
	"storage.sqlite_path",
	"api.listen",
	"api.token",
	"api.tls_cert",
	"api.tls_key",
	"api.mcp",
	"sync.node_id",
	"sync.peer",
	"sync.transport",
	"sync.remote_sqlite_path",
	"sync.poll_interval",
	"sync.batch_size",
	"sync.timeout",
	"sync.log_retention_days",
	"sync.token",
	"sync.ca_file",
	"sync.ssh_key_file",
	"sync.ssh_known_hosts",
	"sync.watch",
	"events.kafka_brokers",
	"events.kafka_topic",
}

// secretKeys are masked by `memsync config list`.
var secretKeys = map[string]bool{
	"api.token":  true,
	"sync.token": true,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}
