package replication

import (
	"github.com/papercomputeco/memsync/pkg/memory"
)

// Outcome describes how a reconciliation step settled a record.
type Outcome string

const (
	// OutcomeApplied means the incoming record was written with no
	// competing local change.
	OutcomeApplied Outcome = "applied"

	// OutcomeStale means the receiving side already held the same or a
	// newer write.
	OutcomeStale Outcome = "stale"

	// OutcomeRemoteWins means both sides changed the record and the peer's
	// write was kept.
	OutcomeRemoteWins Outcome = "remote_wins"

	// OutcomeLocalWins means both sides changed the record and the local
	// write was kept.
	OutcomeLocalWins Outcome = "local_wins"
)

// Wins reports whether a beats b under last-write-wins: the later UpdatedAt
// wins and equal timestamps go to the lexicographically smaller OriginID.
// Two writes from one origin within the same millisecond are ordered by
// version. Identical (UpdatedAt, OriginID, Version) triples are the same
// write, so neither wins.
func Wins(a, b *memory.Record) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	case a.UpdatedAt.After(b.UpdatedAt):
		return true
	case a.UpdatedAt.Before(b.UpdatedAt):
		return false
	case a.OriginID != b.OriginID:
		return a.OriginID < b.OriginID
	default:
		return a.Version > b.Version
	}
}

// Resolve picks the surviving record between a local and a remote copy.
// Both nodes evaluate the same total order, so they agree on the winner
// without exchanging anything else.
func Resolve(local, remote *memory.Record) (*memory.Record, Outcome) {
	if Wins(remote, local) {
		return remote, OutcomeRemoteWins
	}
	return local, OutcomeLocalWins
}
