package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/replication"
)

// Client implements replication.Remote over a byte stream. Calls are
// serialized; a call abandoned because its context ended breaks the
// stream, and every later call fails with replication.ErrUnreachable.
type Client struct {
	mu     sync.Mutex
	conn   io.ReadWriteCloser
	enc    *json.Encoder
	reader *bufio.Reader
	nextID uint64
	broken error
}

// NewClient creates a client speaking to a server over conn.
func NewClient(conn io.ReadWriteCloser) *Client {
	return &Client{
		conn:   conn,
		enc:    json.NewEncoder(conn),
		reader: bufio.NewReaderSize(conn, 64*1024),
	}
}

// Open selects the database at path on the server and returns the peer's
// node id.
func (c *Client) Open(ctx context.Context, path string) (string, error) {
	var resp replication.ProbeResponse
	if err := c.call(ctx, MethodOpen, OpenParams{Path: path}, &resp); err != nil {
		return "", err
	}
	return resp.NodeID, nil
}

func (c *Client) FetchPending(ctx context.Context, excludeOrigin string, limit int) ([]memory.LogEntry, error) {
	var resp replication.PendingResponse
	params := FetchPendingParams{ExcludeOrigin: excludeOrigin, Limit: replication.Clamp(limit)}
	if err := c.call(ctx, MethodFetchPending, params, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) FetchRecord(ctx context.Context, id string) (*memory.Record, error) {
	var resp replication.RecordResponse
	if err := c.call(ctx, MethodFetchRecord, FetchRecordParams{ID: id}, &resp); err != nil {
		return nil, err
	}
	return resp.Record, nil
}

func (c *Client) Apply(ctx context.Context, op memory.Operation, rec *memory.Record) (replication.ApplyResult, error) {
	var resp replication.ApplyResult
	if err := c.call(ctx, MethodApply, replication.ApplyRequest{Operation: op, Record: rec}, &resp); err != nil {
		return replication.ApplyResult{}, err
	}
	return resp, nil
}

func (c *Client) AckSynced(ctx context.Context, logIDs []int64) error {
	if len(logIDs) == 0 {
		return nil
	}
	return c.call(ctx, MethodAckSynced, replication.AckRequest{LogIDs: logIDs}, nil)
}

func (c *Client) Probe(ctx context.Context) error {
	return c.call(ctx, MethodProbe, nil, nil)
}

// Close closes the underlying stream.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken == nil {
		c.broken = fmt.Errorf("%w: client closed", replication.ErrUnreachable)
	}
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return c.broken
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %v", replication.ErrUnreachable, method, err)
	}

	req := Request{ID: c.nextID + 1, Method: method}
	c.nextID++
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding %s params: %w", method, err)
		}
		req.Params = raw
	}

	done := make(chan struct{})
	var (
		resp  Response
		ioErr error
	)
	go func() {
		defer close(done)
		if err := c.enc.Encode(req); err != nil {
			ioErr = err
			return
		}
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			ioErr = err
			return
		}
		if err := json.Unmarshal(line, &resp); err != nil {
			ioErr = fmt.Errorf("decoding response: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		c.broken = fmt.Errorf("%w: %s abandoned: %v", replication.ErrUnreachable, method, ctx.Err())
		_ = c.conn.Close()
		<-done
		return c.broken
	case <-done:
	}

	if ioErr != nil {
		if errors.Is(ioErr, io.EOF) {
			ioErr = io.ErrUnexpectedEOF
		}
		c.broken = fmt.Errorf("%w: %s: %v", replication.ErrUnreachable, method, ioErr)
		_ = c.conn.Close()
		return c.broken
	}

	if resp.ID != req.ID {
		c.broken = fmt.Errorf("%w: response id %d does not match request %d", replication.ErrUnreachable, resp.ID, req.ID)
		_ = c.conn.Close()
		return c.broken
	}

	if resp.Error != nil {
		return resp.Error
	}

	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

var _ replication.Remote = (*Client)(nil)
