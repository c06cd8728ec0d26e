package config

const (
	defaultAPIListen    = ":8443"
	defaultBatchSize    = 100
	defaultTimeout      = 15
	defaultKafkaTopic   = "memsync.sync-events"
	defaultKnownHosts   = "~/.ssh/known_hosts"
	defaultSyncWatching = true
)

// NewDefaultConfig returns a Config with defaults for every optional field.
// Required sync keys (node id, peer, transport, paths, poll interval) have
// no defaults; a missing value is a startup error.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Sync: SyncSection{
			BatchSize:     defaultBatchSize,
			Timeout:       defaultTimeout,
			SSHKnownHosts: defaultKnownHosts,
			Watch:         defaultSyncWatching,
		},
		Events: EventsConfig{
			KafkaTopic: defaultKafkaTopic,
		},
	}
}
