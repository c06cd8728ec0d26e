package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memsync/pkg/eventstream"
	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/replication"
	"github.com/papercomputeco/memsync/pkg/replication/daemon"
	"github.com/papercomputeco/memsync/pkg/replication/schema"
	"github.com/papercomputeco/memsync/pkg/replication/transport/direct"
	"github.com/papercomputeco/memsync/pkg/storage/sqlite"
)

// faultyRemote wraps a remote and injects failures.
type faultyRemote struct {
	replication.Remote

	mu            sync.Mutex
	down          bool
	applyErr      error
	probeFailures int
}

func (f *faultyRemote) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *faultyRemote) setApplyErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyErr = err
}

func (f *faultyRemote) check() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return replication.ErrUnreachable
	}
	return nil
}

func (f *faultyRemote) FetchPending(ctx context.Context, excludeOrigin string, limit int) ([]memory.LogEntry, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.Remote.FetchPending(ctx, excludeOrigin, limit)
}

func (f *faultyRemote) FetchRecord(ctx context.Context, id string) (*memory.Record, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.Remote.FetchRecord(ctx, id)
}

func (f *faultyRemote) Apply(ctx context.Context, op memory.Operation, rec *memory.Record) (replication.ApplyResult, error) {
	if err := f.check(); err != nil {
		return replication.ApplyResult{}, err
	}
	f.mu.Lock()
	applyErr := f.applyErr
	f.mu.Unlock()
	if applyErr != nil {
		return replication.ApplyResult{}, applyErr
	}
	return f.Remote.Apply(ctx, op, rec)
}

func (f *faultyRemote) AckSynced(ctx context.Context, logIDs []int64) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.Remote.AckSynced(ctx, logIDs)
}

func (f *faultyRemote) Probe(ctx context.Context) error {
	f.mu.Lock()
	if f.probeFailures > 0 {
		f.probeFailures--
		f.mu.Unlock()
		return replication.ErrUnreachable
	}
	f.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	return f.Remote.Probe(ctx)
}

// brokenStore fails migration.
type brokenStore struct {
	*sqlite.SQLiteDriver
}

func (b *brokenStore) Migrate(context.Context) (*schema.Report, error) {
	return nil, &schema.StepError{Step: schema.StepTriggers, Err: errors.New("disk I/O error")}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.SyncEvent
}

func (r *recordingPublisher) Publish(_ context.Context, e *eventstream.SyncEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) ofType(eventType string) []*eventstream.SyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*eventstream.SyncEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type countingNotifier struct {
	n atomic.Int64
}

func (c *countingNotifier) Notify() { c.n.Add(1) }

func openStore(ctx context.Context, nodeID string) *sqlite.SQLiteDriver {
	store, err := sqlite.NewSQLiteDriver(ctx, sqlite.Config{Path: ":memory:", NodeID: nodeID})
	Expect(err).NotTo(HaveOccurred())
	return store
}

func put(ctx context.Context, store *sqlite.SQLiteDriver, id, content string) {
	rec, err := store.Get(ctx, id)
	if memory.IsNotFound(err) {
		rec = &memory.Record{ID: id, Domain: "engineering", Title: "note " + id}
	} else {
		Expect(err).NotTo(HaveOccurred())
	}
	rec.Content = content
	_, err = store.Put(ctx, rec)
	Expect(err).NotTo(HaveOccurred())
}

func content(ctx context.Context, store *sqlite.SQLiteDriver, id string) string {
	rec, err := store.Lookup(ctx, id)
	Expect(err).NotTo(HaveOccurred())
	if rec == nil {
		return ""
	}
	return rec.Content
}

func pending(ctx context.Context, store *sqlite.SQLiteDriver, excludeOrigin string) []memory.LogEntry {
	entries, err := store.Pending(ctx, excludeOrigin, 0)
	Expect(err).NotTo(HaveOccurred())
	return entries
}

var _ = Describe("Daemon", func() {
	var (
		ctx    context.Context
		a, b   *sqlite.SQLiteDriver
		remote *faultyRemote
		events *recordingPublisher
	)

	newDaemon := func(c daemon.Config) *daemon.Daemon {
		if c.Store == nil {
			c.Store = a
		}
		if c.Remote == nil {
			c.Remote = remote
		}
		c.PeerID = "node-b"
		c.Timeout = 5 * time.Second
		c.Publisher = events
		d, err := daemon.New(c)
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	BeforeEach(func() {
		ctx = context.Background()
		a = openStore(ctx, "node-a")
		b = openStore(ctx, "node-b")
		remote = &faultyRemote{Remote: direct.New(b)}
		events = &recordingPublisher{}
	})

	AfterEach(func() {
		a.Close()
		b.Close()
	})

	Describe("New", func() {
		It("requires a store and a remote", func() {
			_, err := daemon.New(daemon.Config{Remote: remote})
			Expect(err).To(MatchError(ContainSubstring("store is required")))

			_, err = daemon.New(daemon.Config{Store: a})
			Expect(err).To(MatchError(ContainSubstring("remote is required")))
		})

		It("starts in the init state", func() {
			d := newDaemon(daemon.Config{})
			Expect(d.State()).To(Equal(daemon.StateInit))
		})
	})

	Describe("RunOnce", func() {
		It("converges both stores after one cycle", func() {
			put(ctx, a, "r1", "written on a")
			put(ctx, b, "r2", "written on b")

			d := newDaemon(daemon.Config{})
			report, err := d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Pushed).To(Equal(1))
			Expect(report.Pulled).To(Equal(1))
			Expect(report.Conflicts).To(BeZero())

			Expect(content(ctx, b, "r1")).To(Equal("written on a"))
			Expect(content(ctx, a, "r2")).To(Equal("written on b"))

			Expect(pending(ctx, a, "")).To(BeEmpty())
			Expect(pending(ctx, b, "")).To(BeEmpty())

			onB, err := b.Lookup(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(onB.OriginID).To(Equal("node-a"))
			Expect(onB.Version).To(Equal(int64(1)))

			Expect(events.ofType(eventstream.EventTypeRecordPushed)).To(HaveLen(1))
			Expect(events.ofType(eventstream.EventTypeRecordPulled)).To(HaveLen(1))
		})

		It("reports the status after each cycle", func() {
			put(ctx, a, "r1", "hooked")

			var seen []daemon.Status
			d := newDaemon(daemon.Config{OnCycle: func(s daemon.Status) { seen = append(seen, s) }})
			_, err := d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(seen).To(HaveLen(1))
			Expect(seen[0].Stats.Cycles).To(Equal(uint64(1)))
			Expect(seen[0].Stats.Pushed).To(Equal(uint64(1)))
			Expect(seen[0].Stats.LastCycle).NotTo(BeZero())
		})

		It("is a no-op once converged", func() {
			put(ctx, a, "r1", "once")
			d := newDaemon(daemon.Config{})
			_, err := d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())

			report, err := d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(*report).To(Equal(daemon.CycleReport{}))
			Expect(d.Stats().Cycles).To(Equal(uint64(2)))
			Expect(d.Stats().Pushed).To(Equal(uint64(1)))
		})

		It("sends the current state once when a record changed several times", func() {
			put(ctx, a, "r1", "v1")
			put(ctx, a, "r1", "v2")
			put(ctx, a, "r1", "v3")

			d := newDaemon(daemon.Config{})
			report, err := d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Pushed).To(Equal(1))
			Expect(pending(ctx, a, "")).To(BeEmpty())

			rec, err := b.Lookup(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Content).To(Equal("v3"))
			Expect(rec.Version).To(Equal(int64(3)))
		})

		It("propagates tombstones", func() {
			put(ctx, a, "r1", "doomed")
			d := newDaemon(daemon.Config{})
			_, err := d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())

			deleted, err := a.Delete(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeTrue())

			_, err = d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())

			_, err = b.Get(ctx, "r1")
			Expect(memory.IsNotFound(err)).To(BeTrue())

			rec, err := b.Lookup(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Deleted).To(BeTrue())
			Expect(rec.Version).To(Equal(int64(2)))
		})

		It("pulls tombstones made on the peer", func() {
			put(ctx, b, "r1", "doomed on b")
			d := newDaemon(daemon.Config{})
			_, err := d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())

			_, err = b.Delete(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			_, err = d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())

			_, err = a.Get(ctx, "r1")
			Expect(memory.IsNotFound(err)).To(BeTrue())
			Expect(pending(ctx, b, "node-a")).To(BeEmpty())
		})

		It("keeps the later write when both sides edit a record", func() {
			// Daemon runs on b against a.
			d := newDaemon(daemon.Config{Store: b, Remote: direct.New(a)})

			put(ctx, a, "r1", "original")
			_, err := d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(content(ctx, b, "r1")).To(Equal("original"))

			put(ctx, b, "r1", "edit on b")
			time.Sleep(5 * time.Millisecond)
			put(ctx, a, "r1", "edit on a")

			report, err := d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Conflicts).To(Equal(1))

			Expect(content(ctx, a, "r1")).To(Equal("edit on a"))
			Expect(content(ctx, b, "r1")).To(Equal("edit on a"))

			onA, err := a.Lookup(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			onB, err := b.Lookup(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(onB.Version).To(Equal(onA.Version))
			Expect(onB.UpdatedAt).To(Equal(onA.UpdatedAt))

			Expect(pending(ctx, b, "")).To(BeEmpty())
			Expect(pending(ctx, a, "node-b")).To(BeEmpty())

			conflicts := events.ofType(eventstream.EventTypeConflictResolved)
			Expect(conflicts).To(HaveLen(1))
			Expect(conflicts[0].Outcome).To(Equal(string(replication.OutcomeRemoteWins)))
			Expect(conflicts[0].RecordID).To(Equal("r1"))

			// The discarded edit is never retried.
			report, err = d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Pushed).To(BeZero())
			Expect(content(ctx, a, "r1")).To(Equal("edit on a"))
		})

		It("keeps the local write when it is newer than the peer's", func() {
			d := newDaemon(daemon.Config{})
			put(ctx, a, "r1", "original")
			_, err := d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())

			put(ctx, b, "r1", "edit on b")
			time.Sleep(5 * time.Millisecond)
			put(ctx, a, "r1", "edit on a")

			remote.setApplyErr(errors.New("apply refused"))
			report, err := d.RunOnce(ctx)
			Expect(err).To(MatchError(ContainSubstring("apply refused")))
			Expect(report.Conflicts).To(Equal(1))
			Expect(report.Failed).To(Equal(1))

			Expect(content(ctx, a, "r1")).To(Equal("edit on a"))
			Expect(pending(ctx, a, "")).To(HaveLen(1))
			Expect(pending(ctx, b, "node-a")).To(BeEmpty())

			remote.setApplyErr(nil)
			report, err = d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Pushed).To(Equal(1))
			Expect(content(ctx, b, "r1")).To(Equal("edit on a"))

			outcomes := []string{}
			for _, e := range events.ofType(eventstream.EventTypeConflictResolved) {
				outcomes = append(outcomes, e.Outcome)
			}
			Expect(outcomes).To(ConsistOf(string(replication.OutcomeLocalWins)))
		})

		Context("when the losing side made more writes than the winner", func() {
			var d *daemon.Daemon

			diverge := func() {
				put(ctx, a, "r1", "original")
				_, err := d.RunOnce(ctx)
				Expect(err).NotTo(HaveOccurred())

				put(ctx, b, "r1", "first edit on b")
				put(ctx, b, "r1", "second edit on b")
				time.Sleep(5 * time.Millisecond)
				put(ctx, a, "r1", "edit on a")
			}

			expectAgreement := func() {
				onA, err := a.Lookup(ctx, "r1")
				Expect(err).NotTo(HaveOccurred())
				onB, err := b.Lookup(ctx, "r1")
				Expect(err).NotTo(HaveOccurred())

				Expect(onA.Content).To(Equal("edit on a"))
				Expect(onB.Content).To(Equal("edit on a"))
				Expect(onA.OriginID).To(Equal("node-a"))
				Expect(onB.OriginID).To(Equal("node-a"))
				Expect(onA.Version).To(Equal(onB.Version))
				Expect(onA.Version).To(BeNumerically(">", int64(3)))

				Expect(pending(ctx, a, "")).To(BeEmpty())
				Expect(pending(ctx, b, "")).To(BeEmpty())
			}

			It("agrees on the version when the winner pushes", func() {
				d = newDaemon(daemon.Config{})
				diverge()

				report, err := d.RunOnce(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(report.Pushed).To(Equal(1))
				expectAgreement()

				report, err = d.RunOnce(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(*report).To(Equal(daemon.CycleReport{}))
				expectAgreement()
			})

			It("agrees on the version when the loser pulls", func() {
				d = newDaemon(daemon.Config{Store: b, Remote: direct.New(a)})
				diverge()

				report, err := d.RunOnce(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(report.Pulled).To(Equal(1))
				expectAgreement()

				report, err = d.RunOnce(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(*report).To(Equal(daemon.CycleReport{}))
				expectAgreement()
			})
		})

		It("keeps local mutations while the peer is unreachable", func() {
			put(ctx, a, "r1", "offline write")
			remote.setDown(true)

			d := newDaemon(daemon.Config{})
			report, err := d.RunOnce(ctx)
			Expect(errors.Is(err, replication.ErrUnreachable)).To(BeTrue())
			Expect(report.Failed).To(BeNumerically(">=", 1))
			Expect(pending(ctx, a, "")).To(HaveLen(1))
			Expect(d.Stats().LastError).NotTo(BeEmpty())

			remote.setDown(false)
			report, err = d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Pushed).To(Equal(1))
			Expect(content(ctx, b, "r1")).To(Equal("offline write"))
			Expect(d.Stats().LastError).To(BeEmpty())
		})

		It("does not start entries after cancellation", func() {
			put(ctx, a, "r1", "never sent")
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			d := newDaemon(daemon.Config{})
			report, _ := d.RunOnce(cancelled)
			Expect(report.Pushed).To(BeZero())
			Expect(pending(ctx, a, "")).To(HaveLen(1))
		})

		It("archives synced log entries past the retention window", func() {
			put(ctx, a, "r1", "archived")
			d := newDaemon(daemon.Config{Retention: time.Millisecond, CompactEvery: 1})
			_, err := d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())

			time.Sleep(10 * time.Millisecond)
			report, err := d.RunOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Compacted).To(BeNumerically(">", 0))

			stats, err := a.ReplicationStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Archived).To(BeNumerically(">", 0))
		})
	})

	Describe("Run", func() {
		It("waits for the peer then reconciles until cancelled", func() {
			remote.probeFailures = 2
			put(ctx, a, "r1", "from the loop")

			d := newDaemon(daemon.Config{
				Interval: 20 * time.Millisecond,
				Backoff:  backoff.NewConstantBackOff(5 * time.Millisecond),
			})

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- d.Run(runCtx) }()

			Eventually(func() string { return content(ctx, b, "r1") }).Should(Equal("from the loop"))
			Expect(d.Stats().Failures).To(BeNumerically(">=", 2))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
			Expect(d.State()).To(Equal(daemon.StateStopped))
		})

		It("returns migration failures", func() {
			d := newDaemon(daemon.Config{Store: &brokenStore{SQLiteDriver: a}})

			err := d.Run(ctx)
			Expect(err).To(MatchError(ContainSubstring("migrating local store")))
			var stepErr *schema.StepError
			Expect(errors.As(err, &stepErr)).To(BeTrue())
			Expect(d.State()).To(Equal(daemon.StateStopped))
		})

		It("stops cleanly while the peer is still unreachable", func() {
			remote.setDown(true)
			d := newDaemon(daemon.Config{Backoff: backoff.NewConstantBackOff(5 * time.Millisecond)})

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- d.Run(runCtx) }()

			Eventually(func() uint64 { return d.Stats().Failures }).Should(BeNumerically(">=", 1))
			Expect(d.State()).To(Equal(daemon.StateInit))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("wakes early on Notify", func() {
			d := newDaemon(daemon.Config{Interval: time.Hour, MinWakeGap: time.Millisecond})

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() { _ = d.Run(runCtx) }()

			Eventually(d.State).Should(Equal(daemon.StateSleep))

			put(ctx, a, "r1", "woken")
			d.Notify()

			Eventually(func() string { return content(ctx, b, "r1") }).Should(Equal("woken"))
			Expect(d.Stats().Cycles).To(BeNumerically(">=", 2))
		})
	})

	Describe("Watch", func() {
		It("notifies on writes to the database and its WAL", func() {
			dir := GinkgoT().TempDir()
			dbPath := filepath.Join(dir, "memsync.db")
			n := &countingNotifier{}

			watchCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- daemon.Watch(watchCtx, dbPath, n) }()

			Expect(os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600)).To(Succeed())
			Consistently(n.n.Load, 50*time.Millisecond).Should(BeZero())

			Eventually(func() int64 {
				Expect(os.WriteFile(dbPath+"-wal", []byte("wal"), 0o600)).To(Succeed())
				return n.n.Load()
			}).Should(BeNumerically(">", 0))

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})
