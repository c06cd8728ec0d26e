// Package httptransport implements replication.Remote against a peer's
// HTTP API using bearer-token authentication, over TLS when the peer URL
// is https.
package httptransport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/replication"
)

const defaultTimeout = 15 * time.Second

// Config holds configuration for the HTTP remote.
type Config struct {
	// URL is the peer API base URL (e.g., "https://peer:8443").
	URL string

	// Token is sent as a bearer token on every replication call.
	Token string

	// CAFile is an optional PEM bundle trusted for the peer's certificate.
	CAFile string

	// Timeout bounds each request. Defaults to 15s.
	Timeout time.Duration

	// Logger is the configured slog logger.
	Logger *slog.Logger
}

// Remote talks to a peer's /v1/replication API.
type Remote struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an HTTP remote.
func New(c Config) (*Remote, error) {
	if c.URL == "" {
		return nil, errors.New("peer URL is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing peer URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("peer URL %q must be http or https", c.URL)
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if c.CAFile != "" {
		pool, err := loadCAs(c.CAFile)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Remote{
		baseURL: strings.TrimRight(c.URL, "/"),
		token:   c.Token,
		httpClient: &http.Client{
			Timeout:   c.Timeout,
			Transport: transport,
		},
		logger: c.Logger.With("component", "http-remote"),
	}, nil
}

func loadCAs(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

func (r *Remote) FetchPending(ctx context.Context, excludeOrigin string, limit int) ([]memory.LogEntry, error) {
	q := url.Values{}
	q.Set("exclude_origin", excludeOrigin)
	q.Set("limit", strconv.Itoa(replication.Clamp(limit)))

	var resp replication.PendingResponse
	if err := r.do(ctx, http.MethodGet, "/v1/replication/pending?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// FetchRecord returns nil when the peer answers with a null record. Any
// non-200 status, 404 included, is an error.
func (r *Remote) FetchRecord(ctx context.Context, id string) (*memory.Record, error) {
	q := url.Values{}
	q.Set("id", id)

	var resp replication.RecordResponse
	if err := r.do(ctx, http.MethodGet, "/v1/replication/record?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Record, nil
}

func (r *Remote) Apply(ctx context.Context, op memory.Operation, rec *memory.Record) (replication.ApplyResult, error) {
	var resp replication.ApplyResult
	body := replication.ApplyRequest{Operation: op, Record: rec}
	if err := r.do(ctx, http.MethodPost, "/v1/replication/apply", body, &resp); err != nil {
		return replication.ApplyResult{}, err
	}
	return resp, nil
}

func (r *Remote) AckSynced(ctx context.Context, logIDs []int64) error {
	if len(logIDs) == 0 {
		return nil
	}
	return r.do(ctx, http.MethodPost, "/v1/replication/ack", replication.AckRequest{LogIDs: logIDs}, nil)
}

// Probe checks that the peer answers and accepts our token.
func (r *Remote) Probe(ctx context.Context) error {
	var resp replication.ProbeResponse
	if err := r.do(ctx, http.MethodGet, "/v1/replication/probe", nil, &resp); err != nil {
		return err
	}
	r.logger.Debug("peer probed", "peer_node", resp.NodeID)
	return nil
}

// Close releases idle connections.
func (r *Remote) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}

// do sends a request and decodes a JSON response into out.
func (r *Remote) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", replication.ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return replication.ErrUnauthorized
	case resp.StatusCode >= http.StatusInternalServerError:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", replication.ErrUnreachable, resp.StatusCode, strings.TrimSpace(string(msg)))
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("peer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

var _ replication.Remote = (*Remote)(nil)
