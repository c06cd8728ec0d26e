// Package replication defines the contract between the reconciliation
// daemon and a peer's copy of the memory store, and the last-write-wins
// policy both nodes use to settle concurrent edits.
package replication

import (
	"context"
	"errors"

	"github.com/papercomputeco/memsync/pkg/memory"
)

// MaxBatch caps the number of log entries exchanged per call.
const MaxBatch = 100

var (
	// ErrUnreachable wraps transport failures: refused connections,
	// timeouts, broken sessions. Callers treat it as transient.
	ErrUnreachable = errors.New("peer unreachable")

	// ErrUnauthorized is returned when the peer rejects our credentials.
	ErrUnauthorized = errors.New("peer rejected credentials")
)

// Remote reads and writes the peer's copy of the store. Implementations
// must pass every value as a parameter; nothing is ever formatted into a
// command line or query string.
type Remote interface {
	// FetchPending returns the peer's unsynced log entries whose origin is
	// not excludeOrigin, oldest first, at most limit (capped at MaxBatch).
	FetchPending(ctx context.Context, excludeOrigin string, limit int) ([]memory.LogEntry, error)

	// FetchRecord returns the peer's copy of a record including tombstones,
	// or nil when the peer has never seen it.
	FetchRecord(ctx context.Context, id string) (*memory.Record, error)

	// Apply writes rec on the peer if it wins last-write-wins there.
	// Re-applying the same mutation is a no-op that reports Applied false.
	Apply(ctx context.Context, op memory.Operation, rec *memory.Record) (ApplyResult, error)

	// AckSynced marks the peer's log entries as synced.
	AckSynced(ctx context.Context, logIDs []int64) error

	// Probe checks that the peer is reachable and its store is usable.
	Probe(ctx context.Context) error

	// Close releases the transport.
	Close() error
}

// ApplyResult reports how the receiving store settled an incoming record.
type ApplyResult struct {
	Applied bool `json:"applied"`

	// Version is what the receiver holds for the record after the call,
	// zero when it has no copy. A write that replaces a local copy always
	// lands above that copy's version, so Version can exceed the incoming
	// one; the sender adopts it to keep both sides equal.
	Version int64 `json:"version"`
}

// SameWrite reports whether a and b carry the same write, possibly at
// different versions.
func SameWrite(a, b *memory.Record) bool {
	return a != nil && b != nil && a.OriginID == b.OriginID && a.UpdatedAt.Equal(b.UpdatedAt)
}

// Clamp bounds a requested batch size to (0, MaxBatch].
func Clamp(limit int) int {
	if limit <= 0 || limit > MaxBatch {
		return MaxBatch
	}
	return limit
}
