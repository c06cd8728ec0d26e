// Package memory defines the knowledge records kept by memsync and the
// driver contract applications use to read and write them.
//
// A [Record] is the unit of replication. Every local write to a record is
// captured in an append-only mutation log ([LogEntry]) by the store itself,
// so applications use the [Driver] without being aware of replication.
//
// Drivers are pluggable via configuration:
//
//	[storage]
//	sqlite_path = "~/.memsync/memsync.db"
package memory

import (
	"context"
)

// Driver handles storage and retrieval of memory records.
type Driver interface {
	// Put inserts or updates a record keyed by its ID. An empty ID is
	// replaced with a generated one. Returns the record ID.
	Put(ctx context.Context, rec *Record) (string, error)

	// Get returns the live record with the given ID. Tombstoned records are
	// reported as NotFoundError.
	Get(ctx context.Context, id string) (*Record, error)

	// Delete tombstones a record. Returns false if the record did not exist
	// or was already deleted.
	Delete(ctx context.Context, id string) (bool, error)

	// List returns a page of live records matching the filter, most
	// recently updated first, along with the total number of matches.
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Record, int, error)

	// Search performs a case-insensitive substring match over title and
	// content, most recently updated first.
	Search(ctx context.Context, query string, limit int) ([]*Record, error)

	// Stats returns aggregate counts over the store.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases driver resources.
	Close() error
}
