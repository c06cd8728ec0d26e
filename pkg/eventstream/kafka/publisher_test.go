package kafka

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/memsync/pkg/eventstream"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

var _ = Describe("Publisher", func() {
	It("validates its configuration", func() {
		_, err := NewPublisher(Config{Topic: "memsync"})
		Expect(err).To(HaveOccurred())

		_, err = NewPublisher(Config{Brokers: []string{"localhost:9092"}})
		Expect(err).To(HaveOccurred())

		p, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}, Topic: "memsync"})
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Close()).To(Succeed())
	})

	It("writes events keyed by record id", func() {
		w := &fakeWriter{}
		p := newPublisher(w, "")

		event := eventstream.NewSyncEvent(eventstream.EventTypeRecordPushed, "node-a")
		event.RecordID = "r1"
		Expect(p.Publish(context.Background(), event)).To(Succeed())

		Expect(w.msgs).To(HaveLen(1))
		Expect(string(w.msgs[0].Key)).To(Equal("r1"))
		Expect(w.msgs[0].Headers).To(ContainElement(kafkago.Header{Key: "source", Value: []byte("memsync")}))

		var decoded eventstream.SyncEvent
		Expect(json.Unmarshal(w.msgs[0].Value, &decoded)).To(Succeed())
		Expect(decoded.EventID).To(Equal(event.EventID))
	})

	It("wraps writer failures", func() {
		p := newPublisher(&fakeWriter{err: errors.New("no brokers")}, "node-a")
		err := p.Publish(context.Background(), eventstream.NewSyncEvent(eventstream.EventTypeRecordPulled, "node-a"))
		Expect(err).To(MatchError(ContainSubstring("no brokers")))
	})

	It("rejects nil events", func() {
		p := newPublisher(&fakeWriter{}, "")
		Expect(p.Publish(context.Background(), nil)).To(MatchError(eventstream.ErrNilSyncEvent))
	})

	It("closes the writer", func() {
		w := &fakeWriter{}
		Expect(newPublisher(w, "").Close()).To(Succeed())
		Expect(w.closed).To(BeTrue())
	})
})
