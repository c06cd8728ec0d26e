package eventstream

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

var (
	defaultNumWorkers     uint = 1
	defaultQueueSize      uint = 256
	defaultPublishTimeout      = 10 * time.Second
)

// PoolConfig is the configuration for an asynchronous publishing pool.
type PoolConfig struct {
	// Publisher is the backend events are handed to.
	Publisher Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered event channel (defaults to 256).
	QueueSize uint

	// PublishTimeout bounds each backend call (defaults to 10s).
	PublishTimeout time.Duration

	// Logger is the configured slog logger.
	Logger *slog.Logger
}

// Pool publishes events asynchronously so a slow or unavailable backend
// never stalls the reconciliation loop. Pool itself satisfies Publisher.
type Pool struct {
	config *PoolConfig
	queue  chan *SyncEvent
	wg     sync.WaitGroup
	logger *slog.Logger

	// mu guards closed and the send on queue against Close.
	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *PoolConfig) (*Pool, error) {
	if c.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}

	if c.PublishTimeout == 0 {
		c.PublishTimeout = defaultPublishTimeout
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	p := &Pool{
		config: c,
		queue:  make(chan *SyncEvent, c.QueueSize),
		logger: c.Logger.With("component", "eventstream"),
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}

	return p, nil
}

// Publish enqueues an event without blocking. When the queue is full the
// event is dropped and ErrQueueFull returned; after Close it returns
// ErrPoolClosed.
func (p *Pool) Publish(_ context.Context, event *SyncEvent) error {
	if event == nil {
		return ErrNilSyncEvent
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- event:
		return nil
	default:
		p.logger.Warn("event not queued, queue full, event dropped",
			"event_type", event.EventType,
			"record_id", event.RecordID,
		)
		return ErrQueueFull
	}
}

// Close stops accepting events, waits for queued events to drain and closes
// the backend publisher.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return p.config.Publisher.Close()
}

func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("publish worker started", "worker_id", id)

	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
		if err := p.config.Publisher.Publish(ctx, event); err != nil {
			p.logger.Error("event publish failed",
				"event_type", event.EventType,
				"record_id", event.RecordID,
				"error", err,
			)
		}
		cancel()
	}

	p.logger.Debug("publish worker stopped", "worker_id", id)
}
