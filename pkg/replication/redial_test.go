package replication_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/replication"
)

// stubRemote fails its next call with failNext, then succeeds.
type stubRemote struct {
	failNext error
	closed   bool
}

func (s *stubRemote) err() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *stubRemote) FetchPending(context.Context, string, int) ([]memory.LogEntry, error) {
	return []memory.LogEntry{{LogID: 1}}, s.err()
}

func (s *stubRemote) FetchRecord(context.Context, string) (*memory.Record, error) {
	return nil, s.err()
}

func (s *stubRemote) Apply(_ context.Context, _ memory.Operation, rec *memory.Record) (replication.ApplyResult, error) {
	return replication.ApplyResult{Applied: true, Version: rec.Version}, s.err()
}

func (s *stubRemote) AckSynced(context.Context, []int64) error { return s.err() }
func (s *stubRemote) Probe(context.Context) error              { return s.err() }
func (s *stubRemote) Close() error                             { s.closed = true; return nil }

var _ = Describe("Redialer", func() {
	var (
		ctx     context.Context
		dials   int
		dialErr error
		last    *stubRemote
		r       *replication.Redialer
	)

	BeforeEach(func() {
		ctx = context.Background()
		dials = 0
		dialErr = nil
		r = replication.NewRedialer(func(context.Context) (replication.Remote, error) {
			dials++
			if dialErr != nil {
				return nil, dialErr
			}
			last = &stubRemote{}
			return last, nil
		}, nil)
	})

	It("dials lazily and reuses the session", func() {
		Expect(dials).To(BeZero())
		Expect(r.Probe(ctx)).To(Succeed())
		entries, err := r.FetchPending(ctx, "node-a", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(dials).To(Equal(1))
	})

	It("redials after the session is lost", func() {
		Expect(r.Probe(ctx)).To(Succeed())
		first := last
		first.failNext = fmt.Errorf("%w: broken pipe", replication.ErrUnreachable)

		Expect(r.AckSynced(ctx, []int64{1})).To(MatchError(replication.ErrUnreachable))
		Expect(first.closed).To(BeTrue())

		result, err := r.Apply(ctx, memory.OpInsert, &memory.Record{ID: "r1", Version: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Applied).To(BeTrue())
		Expect(dials).To(Equal(2))
	})

	It("keeps the session on application errors", func() {
		Expect(r.Probe(ctx)).To(Succeed())
		last.failNext = errors.New("bad record")

		_, err := r.FetchRecord(ctx, "r1")
		Expect(err).To(MatchError("bad record"))
		Expect(r.Probe(ctx)).To(Succeed())
		Expect(dials).To(Equal(1))
	})

	It("reports dial failures as unreachable", func() {
		dialErr = errors.New("host key mismatch")
		err := r.Probe(ctx)
		Expect(errors.Is(err, replication.ErrUnreachable)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("host key mismatch"))
	})

	It("fails after Close", func() {
		Expect(r.Probe(ctx)).To(Succeed())
		Expect(r.Close()).To(Succeed())
		Expect(last.closed).To(BeTrue())
		Expect(errors.Is(r.Probe(ctx), replication.ErrUnreachable)).To(BeTrue())
	})
})
