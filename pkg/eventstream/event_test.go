package eventstream_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memsync/pkg/eventstream"
)

var _ = Describe("Event", func() {
	It("marshals SyncEvent with expected top-level keys", func() {
		event := eventstream.NewSyncEvent(eventstream.EventTypeConflictResolved, "node-a")
		event.PeerID = "node-b"
		event.RecordID = "r1"
		event.Operation = "update"
		event.Version = 3
		event.OriginID = "node-b"
		event.Outcome = "remote_wins"

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		for _, key := range []string{
			"schema_version", "event_type", "event_id", "emitted_at", "node_id",
			"peer_id", "record_id", "operation", "version", "origin_id", "outcome",
		} {
			Expect(got).To(HaveKey(key))
		}
	})

	It("stamps new events with an id and time", func() {
		a := eventstream.NewSyncEvent(eventstream.EventTypeRecordPulled, "node-a")
		b := eventstream.NewSyncEvent(eventstream.EventTypeRecordPulled, "node-a")

		Expect(a.EventID).NotTo(BeEmpty())
		Expect(a.EventID).NotTo(Equal(b.EventID))
		Expect(a.EmittedAt).NotTo(BeZero())
		Expect(a.SchemaVersion).To(Equal(eventstream.SchemaVersionV1))
	})

	It("defines stable event constants", func() {
		Expect(eventstream.EventTypeRecordPushed).To(Equal("memsync.record.pushed"))
		Expect(eventstream.EventTypeRecordPulled).To(Equal("memsync.record.pulled"))
		Expect(eventstream.EventTypeConflictResolved).To(Equal("memsync.conflict.resolved"))
	})
})
