package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/papercomputeco/memsync/pkg/replication"
	"github.com/papercomputeco/memsync/pkg/replication/schema"
	"github.com/papercomputeco/memsync/pkg/utils"
)

// Transport names accepted by sync.transport.
const (
	TransportHTTP = "http"
	TransportSSH  = "ssh"
	TransportFile = "file"
)

const (
	minPollInterval = 1
	maxPollInterval = 300
	minTimeout      = 1
	maxTimeout      = 120
)

// ErrInvalidSyncConfig is wrapped by every validation failure returned from
// LoadSyncConfig.
var ErrInvalidSyncConfig = errors.New("invalid sync configuration")

// SyncConfig is the validated replication configuration. It is loaded once
// and not modified for the lifetime of a daemon.
type SyncConfig struct {
	NodeID           string
	Peer             string
	Transport        string
	LocalSQLitePath  string
	RemoteSQLitePath string
	PollInterval     time.Duration
	BatchSize        int
	Timeout          time.Duration
	LogRetention     time.Duration

	Token         string
	CAFile        string
	SSHKeyFile    string
	SSHKnownHosts string

	Watch bool
}

// PeerLabel names the peer in logs and events.
func (c *SyncConfig) PeerLabel() string {
	if c.Peer != "" {
		return c.Peer
	}
	return c.RemoteSQLitePath
}

// LoadSyncConfig reads the [sync] section (and storage.sqlite_path) from v
// and validates it. Every problem found is reported at once. Required keys
// have no defaults.
func LoadSyncConfig(v *viper.Viper) (*SyncConfig, error) {
	c := &SyncConfig{
		NodeID:           strings.TrimSpace(v.GetString("sync.node_id")),
		Peer:             strings.TrimSpace(v.GetString("sync.peer")),
		Transport:        strings.ToLower(strings.TrimSpace(v.GetString("sync.transport"))),
		LocalSQLitePath:  utils.ExpandHome(v.GetString("storage.sqlite_path")),
		RemoteSQLitePath: strings.TrimSpace(v.GetString("sync.remote_sqlite_path")),
		Token:            v.GetString("sync.token"),
		CAFile:           utils.ExpandHome(v.GetString("sync.ca_file")),
		SSHKeyFile:       utils.ExpandHome(v.GetString("sync.ssh_key_file")),
		SSHKnownHosts:    utils.ExpandHome(v.GetString("sync.ssh_known_hosts")),
		Watch:            v.GetBool("sync.watch"),
	}

	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidSyncConfig}, args...)...))
	}

	if c.NodeID == "" {
		fail("sync.node_id is required")
	} else if err := schema.ValidateNodeID(c.NodeID); err != nil {
		fail("sync.node_id: %v", err)
	}

	if c.LocalSQLitePath == "" {
		fail("storage.sqlite_path is required")
	}

	if !v.IsSet("sync.poll_interval") {
		fail("sync.poll_interval is required")
	} else {
		poll := v.GetInt("sync.poll_interval")
		if poll < minPollInterval || poll > maxPollInterval {
			fail("sync.poll_interval must be between %d and %d seconds, got %d", minPollInterval, maxPollInterval, poll)
		}
		c.PollInterval = time.Duration(poll) * time.Second
	}

	batch := v.GetInt("sync.batch_size")
	switch {
	case batch == 0:
		c.BatchSize = replication.MaxBatch
	case batch < 0 || batch > replication.MaxBatch:
		fail("sync.batch_size must be between 1 and %d, got %d", replication.MaxBatch, batch)
	default:
		c.BatchSize = batch
	}

	timeout := v.GetInt("sync.timeout")
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if timeout < minTimeout || timeout > maxTimeout {
		fail("sync.timeout must be between %d and %d seconds, got %d", minTimeout, maxTimeout, timeout)
	}
	c.Timeout = time.Duration(timeout) * time.Second

	days := v.GetInt("sync.log_retention_days")
	if days < 0 {
		fail("sync.log_retention_days must not be negative, got %d", days)
	}
	c.LogRetention = time.Duration(days) * 24 * time.Hour

	switch c.Transport {
	case "":
		fail("sync.transport is required (one of %s, %s, %s)", TransportHTTP, TransportSSH, TransportFile)

	case TransportHTTP:
		if u, ok := parsePeer(c.Peer, &errs); ok && u.Scheme != "http" && u.Scheme != "https" {
			fail("sync.peer must be an http(s) URL for the http transport, got %q", c.Peer)
		}
		if c.Token == "" {
			fail("sync.token is required for the http transport")
		}

	case TransportSSH:
		if u, ok := parsePeer(c.Peer, &errs); ok && u.Scheme != "ssh" {
			fail("sync.peer must be an ssh:// address for the ssh transport, got %q", c.Peer)
		}
		if c.SSHKeyFile == "" {
			fail("sync.ssh_key_file is required for the ssh transport")
		}
		if c.SSHKnownHosts == "" {
			fail("sync.ssh_known_hosts is required for the ssh transport")
		}
		if c.RemoteSQLitePath == "" {
			fail("sync.remote_sqlite_path is required for the ssh transport")
		}

	case TransportFile:
		if c.RemoteSQLitePath == "" {
			fail("sync.remote_sqlite_path is required for the file transport")
		} else {
			c.RemoteSQLitePath = utils.ExpandHome(c.RemoteSQLitePath)
			if c.LocalSQLitePath != "" && samePath(c.RemoteSQLitePath, c.LocalSQLitePath) {
				fail("sync.remote_sqlite_path must differ from storage.sqlite_path")
			}
		}

	default:
		fail("unknown sync.transport %q (one of %s, %s, %s)", c.Transport, TransportHTTP, TransportSSH, TransportFile)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

func parsePeer(peer string, errs *[]error) (*url.URL, bool) {
	if peer == "" {
		*errs = append(*errs, fmt.Errorf("%w: sync.peer is required", ErrInvalidSyncConfig))
		return nil, false
	}
	u, err := url.Parse(peer)
	if err != nil || u.Host == "" {
		*errs = append(*errs, fmt.Errorf("%w: sync.peer %q is not a valid address", ErrInvalidSyncConfig, peer))
		return nil, false
	}
	return u, true
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}
