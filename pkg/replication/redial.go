package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/papercomputeco/memsync/pkg/memory"
)

// DialFunc connects to the peer.
type DialFunc func(ctx context.Context) (Remote, error)

// Redialer is a Remote for session-oriented transports. It dials on first
// use and, after any call fails with ErrUnreachable, drops the session so
// the next call dials again.
type Redialer struct {
	dial   DialFunc
	logger *slog.Logger

	mu     sync.Mutex
	remote Remote
	closed bool
}

// NewRedialer creates a Redialer. Nothing is dialed until the first call.
func NewRedialer(dial DialFunc, logger *slog.Logger) *Redialer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Redialer{dial: dial, logger: logger}
}

func (r *Redialer) FetchPending(ctx context.Context, excludeOrigin string, limit int) ([]memory.LogEntry, error) {
	remote, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := remote.FetchPending(ctx, excludeOrigin, limit)
	return entries, r.check(remote, err)
}

func (r *Redialer) FetchRecord(ctx context.Context, id string) (*memory.Record, error) {
	remote, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := remote.FetchRecord(ctx, id)
	return rec, r.check(remote, err)
}

func (r *Redialer) Apply(ctx context.Context, op memory.Operation, rec *memory.Record) (ApplyResult, error) {
	remote, err := r.session(ctx)
	if err != nil {
		return ApplyResult{}, err
	}
	result, err := remote.Apply(ctx, op, rec)
	return result, r.check(remote, err)
}

func (r *Redialer) AckSynced(ctx context.Context, logIDs []int64) error {
	remote, err := r.session(ctx)
	if err != nil {
		return err
	}
	return r.check(remote, remote.AckSynced(ctx, logIDs))
}

func (r *Redialer) Probe(ctx context.Context) error {
	remote, err := r.session(ctx)
	if err != nil {
		return err
	}
	return r.check(remote, remote.Probe(ctx))
}

// Close closes the current session. Later calls fail.
func (r *Redialer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	if r.remote == nil {
		return nil
	}
	err := r.remote.Close()
	r.remote = nil
	return err
}

func (r *Redialer) session(ctx context.Context) (Remote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("%w: remote closed", ErrUnreachable)
	}
	if r.remote != nil {
		return r.remote, nil
	}

	remote, err := r.dial(ctx)
	if err != nil {
		if errors.Is(err, ErrUnreachable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	r.remote = remote
	return remote, nil
}

// check drops remote when err says the session is gone.
func (r *Redialer) check(remote Remote, err error) error {
	if !errors.Is(err, ErrUnreachable) {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.remote == remote {
		r.logger.Debug("peer session lost, will redial", "error", err)
		_ = remote.Close()
		r.remote = nil
	}
	return err
}

var _ Remote = (*Redialer)(nil)
