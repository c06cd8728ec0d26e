package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/memsync/pkg/dotdir"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "MEMSYNC"

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the MEMSYNC_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (MEMSYNC_SYNC_PEER, MEMSYNC_API_LISTEN, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	setViperDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. Keys without a default are left unset so that
// IsSet reports whether the user provided them.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	v.SetDefault("api.listen", d.API.Listen)

	v.SetDefault("sync.batch_size", d.Sync.BatchSize)
	v.SetDefault("sync.timeout", d.Sync.Timeout)
	v.SetDefault("sync.ssh_known_hosts", d.Sync.SSHKnownHosts)
	v.SetDefault("sync.watch", d.Sync.Watch)

	v.SetDefault("events.kafka_topic", d.Events.KafkaTopic)
}
