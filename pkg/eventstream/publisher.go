package eventstream

import "context"

// Publisher publishes sync events to an event stream backend.
type Publisher interface {
	Publish(ctx context.Context, event *SyncEvent) error
	Close() error
}
