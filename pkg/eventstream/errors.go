package eventstream

import "errors"

var (
	// ErrNilSyncEvent indicates a nil sync event payload was provided to a publisher.
	ErrNilSyncEvent = errors.New("nil sync event")

	// ErrQueueFull is returned by Pool.Publish when the event was dropped.
	ErrQueueFull = errors.New("event queue full")

	// ErrPoolClosed is returned by Pool.Publish after Close.
	ErrPoolClosed = errors.New("event pool closed")
)
