// Package kafka publishes sync events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/memsync/pkg/eventstream"
)

// Config configures the Kafka publisher.
type Config struct {
	// Brokers is the list of bootstrap broker addresses.
	Brokers []string

	// Topic receives every sync event.
	Topic string

	// ClientID is sent as the message source header. Defaults to "memsync".
	ClientID string
}

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes events to Kafka keyed by record id, so every event for a
// record lands on the same partition in order.
type Publisher struct {
	writer   messageWriter
	clientID string
}

// NewPublisher creates a Kafka publisher.
func NewPublisher(c Config) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if c.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}

	return newPublisher(w, c.ClientID), nil
}

func newPublisher(w messageWriter, clientID string) *Publisher {
	if clientID == "" {
		clientID = "memsync"
	}
	return &Publisher{writer: w, clientID: clientID}
}

// Publish serializes the event as JSON and writes it to the topic.
func (p *Publisher) Publish(ctx context.Context, event *eventstream.SyncEvent) error {
	if event == nil {
		return eventstream.ErrNilSyncEvent
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding sync event: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(event.RecordID),
		Value: payload,
		Time:  event.EmittedAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "source", Value: []byte(p.clientID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing sync event to kafka: %w", err)
	}

	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
