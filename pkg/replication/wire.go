package replication

import (
	"github.com/papercomputeco/memsync/pkg/memory"
)

// Request and response bodies shared by the peer HTTP API and the rpc
// transport.

// PendingResponse is the body returned for a pending-entries request.
type PendingResponse struct {
	Entries []memory.LogEntry `json:"entries"`
}

// RecordResponse is the body returned for a record request.
type RecordResponse struct {
	Record *memory.Record `json:"record"`
}

// ApplyRequest asks the peer to apply a mutation.
type ApplyRequest struct {
	Operation memory.Operation `json:"operation"`
	Record    *memory.Record   `json:"record"`
}

// AckRequest marks peer log entries as synced.
type AckRequest struct {
	LogIDs []int64 `json:"log_ids"`
}

// ProbeResponse identifies the peer.
type ProbeResponse struct {
	NodeID string `json:"node_id"`
}
