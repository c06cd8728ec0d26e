// Package daemon runs the reconciliation loop that keeps a local memory
// store and its peer converged.
//
// Each cycle pushes local pending mutations to the peer, then pulls the
// peer's pending mutations and settles conflicts with last-write-wins. The
// loop sleeps for the configured interval between cycles and wakes early
// when Notify is called.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/papercomputeco/memsync/pkg/eventstream"
	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/replication"
	"github.com/papercomputeco/memsync/pkg/replication/schema"
)

const (
	defaultInterval     = 30 * time.Second
	defaultTimeout      = 15 * time.Second
	defaultCompactEvery = 60
	defaultMinWakeGap   = time.Second

	tracerName = "github.com/papercomputeco/memsync/pkg/replication/daemon"
)

// State is the daemon's position in its lifecycle.
type State string

const (
	StateInit    State = "init"
	StateReady   State = "ready"
	StatePush    State = "push"
	StatePull    State = "pull"
	StateSleep   State = "sleep"
	StateStopped State = "stopped"
)

// Store is the local side of replication.
type Store interface {
	Migrate(ctx context.Context) (*schema.Report, error)
	Pending(ctx context.Context, excludeOrigin string, limit int) ([]memory.LogEntry, error)
	PendingFor(ctx context.Context, recordID string) ([]memory.LogEntry, error)
	Lookup(ctx context.Context, id string) (*memory.Record, error)
	ApplyRemote(ctx context.Context, op memory.Operation, rec *memory.Record) (replication.ApplyResult, error)
	MarkSynced(ctx context.Context, logIDs []int64) error
	Compact(ctx context.Context, before time.Time) (int64, error)
	NodeID() string
}

// Config configures a Daemon.
type Config struct {
	// Store is the local record store.
	Store Store

	// Remote is the peer's copy of the store.
	Remote replication.Remote

	// PeerID labels the peer in logs and events. Optional.
	PeerID string

	// Interval is the target time between cycle starts.
	Interval time.Duration

	// BatchSize caps log entries per push or pull. Clamped to
	// replication.MaxBatch.
	BatchSize int

	// Timeout bounds every remote call.
	Timeout time.Duration

	// Retention is how long synced log entries are kept before compaction.
	// Zero disables compaction.
	Retention time.Duration

	// CompactEvery is the number of cycles between compactions.
	CompactEvery int

	// MinWakeGap is the shortest time between cycle starts when Notify
	// cuts a sleep short. Defaults to one second.
	MinWakeGap time.Duration

	// Backoff controls the peer probe retries during init. Defaults to an
	// exponential backoff capped at one minute.
	Backoff backoff.BackOff

	// Publisher receives replication events. Optional.
	Publisher eventstream.Publisher

	// OnCycle is called with the daemon status after every cycle. Optional.
	OnCycle func(Status)

	// Logger is the configured slog logger.
	Logger *slog.Logger
}

// Stats counts what the daemon has done since it started.
type Stats struct {
	Cycles    uint64    `json:"cycles"`
	Pushed    uint64    `json:"pushed"`
	Pulled    uint64    `json:"pulled"`
	Conflicts uint64    `json:"conflicts"`
	Failures  uint64    `json:"failures"`
	Compacted uint64    `json:"compacted"`
	LastCycle time.Time `json:"last_cycle,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Status is a point-in-time view of the daemon.
type Status struct {
	State State `json:"state"`
	Stats Stats `json:"stats"`
}

// CycleReport summarizes one push/pull cycle.
type CycleReport struct {
	Pushed    int
	Pulled    int
	Conflicts int
	Failed    int
	Compacted int64
}

// Daemon reconciles a local store with one peer.
type Daemon struct {
	store     Store
	remote    replication.Remote
	nodeID    string
	peerID    string
	interval  time.Duration
	batch     int
	timeout   time.Duration
	retention time.Duration
	every     int
	minWake   time.Duration
	backoff   backoff.BackOff
	publisher eventstream.Publisher
	onCycle   func(Status)
	logger    *slog.Logger
	tracer    trace.Tracer

	wake chan struct{}

	mu    sync.RWMutex
	state State
	stats Stats
}

// New creates a daemon. The store and remote must be set.
func New(c Config) (*Daemon, error) {
	if c.Store == nil {
		return nil, errors.New("store is required")
	}
	if c.Remote == nil {
		return nil, errors.New("remote is required")
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.CompactEvery <= 0 {
		c.CompactEvery = defaultCompactEvery
	}
	if c.MinWakeGap <= 0 {
		c.MinWakeGap = defaultMinWakeGap
	}
	if c.Backoff == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxInterval = time.Minute
		c.Backoff = b
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	logger := c.Logger.With("component", "daemon", "node", c.Store.NodeID())
	if c.PeerID != "" {
		logger = logger.With("peer", c.PeerID)
	}

	return &Daemon{
		store:     c.Store,
		remote:    c.Remote,
		nodeID:    c.Store.NodeID(),
		peerID:    c.PeerID,
		interval:  c.Interval,
		batch:     replication.Clamp(c.BatchSize),
		timeout:   c.Timeout,
		retention: c.Retention,
		every:     c.CompactEvery,
		minWake:   c.MinWakeGap,
		backoff:   c.Backoff,
		publisher: c.Publisher,
		onCycle:   c.OnCycle,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		wake:      make(chan struct{}, 1),
		state:     StateInit,
	}, nil
}

// Run migrates the local store, waits for the peer and reconciles until ctx
// is cancelled. A migration failure is returned immediately. Cancellation
// is not an error.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.setState(StateStopped)

	if err := d.Init(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	for {
		started := time.Now()
		if _, err := d.RunOnce(ctx); err != nil {
			d.logger.Warn("cycle finished with errors", "error", err)
		}

		if !d.sleep(ctx, started) {
			d.logger.Info("daemon stopped")
			return nil
		}
	}
}

// Init runs the migrator and blocks until the peer answers a probe.
func (d *Daemon) Init(ctx context.Context) error {
	d.setState(StateInit)

	report, err := d.store.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrating local store: %w", err)
	}
	if report.Changed() {
		d.logger.Info("local store migrated",
			"columns_added", report.ColumnsAdded,
			"log_created", report.LogCreated,
			"backfilled", report.Backfilled,
			"triggers_installed", report.TriggersInstalled,
		)
	}

	probe := func() (struct{}, error) {
		callCtx, cancel := d.callContext(ctx)
		defer cancel()
		return struct{}{}, d.remote.Probe(callCtx)
	}
	notify := func(err error, next time.Duration) {
		d.recordFailure(err)
		d.logger.Warn("peer not reachable, retrying", "error", err, "retry_in", next)
	}

	d.backoff.Reset()
	if _, err := backoff.Retry(ctx, probe,
		backoff.WithBackOff(d.backoff),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	); err != nil {
		return fmt.Errorf("waiting for peer: %w", err)
	}

	d.setState(StateReady)
	d.logger.Info("peer reachable, replication ready")
	return nil
}

// Notify wakes a sleeping daemon. Calls while a cycle is running coalesce
// into one early wake.
func (d *Daemon) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// State returns the current lifecycle state.
func (d *Daemon) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Stats returns the counters accumulated so far.
func (d *Daemon) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// Status returns the state and counters together.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Status{State: d.state, Stats: d.stats}
}

// sleep waits out the rest of the interval. It returns false when ctx is
// cancelled.
func (d *Daemon) sleep(ctx context.Context, started time.Time) bool {
	d.setState(StateSleep)

	wait := max(d.interval-time.Since(started), 0)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-d.wake:
			gap := d.minWake - time.Since(started)
			if gap <= 0 {
				return true
			}
			// Local writes made by the cycle itself land here too; hold off
			// until the minimum gap has passed.
			timer.Reset(min(gap, max(d.interval-time.Since(started), 0)))
		}
	}
}

// callContext derives the context for one remote call. It survives
// cancellation of ctx so an in-flight entry finishes, bounded by the
// configured timeout.
func (d *Daemon) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
}

func (d *Daemon) setState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
}

func (d *Daemon) recordFailure(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Failures++
	d.stats.LastError = err.Error()
}

func (d *Daemon) recordCycle(r *CycleReport, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Cycles++
	d.stats.Pushed += uint64(r.Pushed)
	d.stats.Pulled += uint64(r.Pulled)
	d.stats.Conflicts += uint64(r.Conflicts)
	d.stats.Failures += uint64(r.Failed)
	d.stats.Compacted += uint64(r.Compacted)
	d.stats.LastCycle = time.Now().UTC()
	if err != nil {
		d.stats.LastError = err.Error()
	} else {
		d.stats.LastError = ""
	}
}
