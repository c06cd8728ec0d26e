// Package sshtransport reaches a peer over an authenticated, encrypted SSH
// session. It runs a fixed command on the peer host and speaks the rpc
// protocol over the session's stdin and stdout; the peer database path is
// sent inside the protocol's open call, never on the command line.
package sshtransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/papercomputeco/memsync/pkg/replication"
	"github.com/papercomputeco/memsync/pkg/replication/transport/rpc"
	"github.com/papercomputeco/memsync/pkg/utils"
)

// RemoteCommand is executed on the peer host.
const RemoteCommand = "memsync peer stdio"

const defaultDialTimeout = 15 * time.Second

// Config configures an SSH remote.
type Config struct {
	// Addr is the peer's host:port.
	Addr string

	// User is the SSH login.
	User string

	// KeyFile is the path to an unencrypted private key.
	KeyFile string

	// KnownHostsFile verifies the peer's host key. Defaults to
	// ~/.ssh/known_hosts. Unknown hosts are always rejected.
	KnownHostsFile string

	// RemotePath is the peer's database path.
	RemotePath string

	// DialTimeout bounds the TCP connect and SSH handshake.
	DialTimeout time.Duration

	// Logger is the configured slog logger.
	Logger *slog.Logger
}

// Remote is a replication.Remote backed by an SSH session.
type Remote struct {
	*rpc.Client
	nodeID string
}

// ParsePeer splits an ssh://user@host[:port] peer address into its login
// and host:port. The port defaults to 22.
func ParsePeer(peer string) (user, addr string, err error) {
	u, err := url.Parse(peer)
	if err != nil {
		return "", "", fmt.Errorf("parsing ssh peer %q: %w", peer, err)
	}
	if u.Scheme != "ssh" {
		return "", "", fmt.Errorf("ssh peer %q must use the ssh:// scheme", peer)
	}
	if u.User == nil || u.User.Username() == "" {
		return "", "", fmt.Errorf("ssh peer %q must name a user", peer)
	}
	if u.Hostname() == "" {
		return "", "", fmt.Errorf("ssh peer %q must name a host", peer)
	}

	port := u.Port()
	if port == "" {
		port = "22"
	}

	return u.User.Username(), net.JoinHostPort(u.Hostname(), port), nil
}

// Dial connects to the peer, starts RemoteCommand and opens the peer
// database.
func Dial(ctx context.Context, c Config) (*Remote, error) {
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.RemotePath == "" {
		return nil, errors.New("remote database path is required")
	}

	clientConfig, err := c.clientConfig()
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: c.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", replication.ErrUnreachable, c.Addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(c.DialTimeout))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, c.Addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", c.Addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)

	stream, err := startSession(client, c.Logger)
	if err != nil {
		client.Close()
		return nil, err
	}

	rpcClient := rpc.NewClient(stream)
	nodeID, err := rpcClient.Open(ctx, c.RemotePath)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("opening %s on %s: %w", c.RemotePath, c.Addr, err)
	}

	c.Logger.Info("ssh peer connected", "addr", c.Addr, "peer_node", nodeID)
	return &Remote{Client: rpcClient, nodeID: nodeID}, nil
}

// NodeID returns the identity reported by the peer store.
func (r *Remote) NodeID() string {
	return r.nodeID
}

func (c Config) clientConfig() (*ssh.ClientConfig, error) {
	if c.User == "" {
		return nil, errors.New("ssh user is required")
	}
	if c.KeyFile == "" {
		return nil, errors.New("ssh key file is required")
	}

	pemBytes, err := os.ReadFile(utils.ExpandHome(c.KeyFile))
	if err != nil {
		return nil, fmt.Errorf("reading ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh key: %w", err)
	}

	knownHosts := c.KnownHostsFile
	if knownHosts == "" {
		knownHosts = "~/.ssh/known_hosts"
	}
	hostKeyCallback, err := knownhosts.New(utils.ExpandHome(knownHosts))
	if err != nil {
		return nil, fmt.Errorf("loading known hosts: %w", err)
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.DialTimeout,
	}, nil
}

// sessionStream joins a session's pipes into one io.ReadWriteCloser.
type sessionStream struct {
	io.Reader
	stdin   io.WriteCloser
	session *ssh.Session
	client  *ssh.Client
}

func startSession(client *ssh.Client, logger *slog.Logger) (*sessionStream, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: opening ssh session: %v", replication.ErrUnreachable, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("ssh stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("ssh stdout: %w", err)
	}
	session.Stderr = &stderrLog{logger: logger}

	if err := session.Start(RemoteCommand); err != nil {
		session.Close()
		return nil, fmt.Errorf("starting %q on peer: %w", RemoteCommand, err)
	}

	return &sessionStream{Reader: stdout, stdin: stdin, session: session, client: client}, nil
}

func (s *sessionStream) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *sessionStream) Close() error {
	_ = s.stdin.Close()
	_ = s.session.Close()
	return s.client.Close()
}

// stderrLog forwards the peer command's stderr to the logger.
type stderrLog struct {
	logger *slog.Logger
}

func (w *stderrLog) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		w.logger.Debug("peer stderr", "output", msg)
	}
	return len(p), nil
}

var _ replication.Remote = (*Remote)(nil)
