package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeRecordPushed is emitted after a local mutation reached the peer.
	EventTypeRecordPushed = "memsync.record.pushed"

	// EventTypeRecordPulled is emitted after a peer mutation was applied locally.
	EventTypeRecordPulled = "memsync.record.pulled"

	// EventTypeConflictResolved is emitted whenever both sides changed a
	// record and last-write-wins picked a survivor.
	EventTypeConflictResolved = "memsync.conflict.resolved"
)

// SyncEvent is a transport-neutral event payload describing one
// reconciliation step for a single record.
type SyncEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	NodeID        string    `json:"node_id"`
	PeerID        string    `json:"peer_id,omitempty"`
	RecordID      string    `json:"record_id"`
	Operation     string    `json:"operation"`
	Version       int64     `json:"version"`
	OriginID      string    `json:"origin_id"`
	Outcome       string    `json:"outcome"`
}

// NewSyncEvent builds an event of the given type stamped with a fresh id
// and the current time.
func NewSyncEvent(eventType, nodeID string) *SyncEvent {
	return &SyncEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		NodeID:        nodeID,
	}
}
