// Package direct implements replication.Remote against a store reachable
// in-process: a peer database on a shared filesystem, the serving side of
// the rpc and HTTP transports, or a second store in tests.
package direct

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/replication"
	"github.com/papercomputeco/memsync/pkg/storage/sqlite"
)

// Store is the subset of the SQLite store a direct remote needs.
type Store interface {
	Pending(ctx context.Context, excludeOrigin string, limit int) ([]memory.LogEntry, error)
	Lookup(ctx context.Context, id string) (*memory.Record, error)
	ApplyRemote(ctx context.Context, op memory.Operation, rec *memory.Record) (replication.ApplyResult, error)
	MarkSynced(ctx context.Context, logIDs []int64) error
	Ping(ctx context.Context) error
	NodeID() string
	Close() error
}

// Remote adapts a Store to replication.Remote.
type Remote struct {
	store Store
	owned bool
}

// New wraps a store the caller keeps ownership of; Close leaves it open.
func New(store Store) *Remote {
	return &Remote{store: store}
}

// Open opens the peer database at path with the identity recorded in it.
// The returned Remote owns the store and closes it on Close.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Remote, error) {
	store, err := sqlite.NewSQLiteDriver(ctx, sqlite.Config{Path: path, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("opening peer database %s: %w", path, err)
	}
	return &Remote{store: store, owned: true}, nil
}

// NodeID returns the identity of the wrapped store.
func (r *Remote) NodeID() string {
	return r.store.NodeID()
}

func (r *Remote) FetchPending(ctx context.Context, excludeOrigin string, limit int) ([]memory.LogEntry, error) {
	return r.store.Pending(ctx, excludeOrigin, replication.Clamp(limit))
}

func (r *Remote) FetchRecord(ctx context.Context, id string) (*memory.Record, error) {
	return r.store.Lookup(ctx, id)
}

func (r *Remote) Apply(ctx context.Context, op memory.Operation, rec *memory.Record) (replication.ApplyResult, error) {
	return r.store.ApplyRemote(ctx, op, rec)
}

func (r *Remote) AckSynced(ctx context.Context, logIDs []int64) error {
	return r.store.MarkSynced(ctx, logIDs)
}

func (r *Remote) Probe(ctx context.Context) error {
	return r.store.Ping(ctx)
}

func (r *Remote) Close() error {
	if r.owned {
		return r.store.Close()
	}
	return nil
}

var _ replication.Remote = (*Remote)(nil)
