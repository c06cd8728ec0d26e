package replication_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/replication"
)

var _ = Describe("Conflict resolution", func() {
	var t0 time.Time

	rec := func(origin string, updated time.Time, content string) *memory.Record {
		return &memory.Record{ID: "r1", OriginID: origin, UpdatedAt: updated, Content: content}
	}

	BeforeEach(func() {
		t0 = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	})

	Describe("Wins", func() {
		It("prefers the later timestamp regardless of origin", func() {
			a := rec("node-z", t0.Add(time.Millisecond), "a")
			b := rec("node-a", t0, "b")
			Expect(replication.Wins(a, b)).To(BeTrue())
			Expect(replication.Wins(b, a)).To(BeFalse())
		})

		It("breaks ties on the smaller origin", func() {
			a := rec("node-a", t0, "a")
			b := rec("node-b", t0, "b")
			Expect(replication.Wins(a, b)).To(BeTrue())
			Expect(replication.Wins(b, a)).To(BeFalse())
		})

		It("orders same-millisecond writes from one origin by version", func() {
			a := rec("node-a", t0, "first")
			a.Version = 1
			b := rec("node-a", t0, "second")
			b.Version = 2
			Expect(replication.Wins(b, a)).To(BeTrue())
			Expect(replication.Wins(a, b)).To(BeFalse())
		})

		It("treats an identical write as no winner", func() {
			a := rec("node-a", t0, "a")
			Expect(replication.Wins(a, a.Clone())).To(BeFalse())
		})

		It("handles missing records", func() {
			a := rec("node-a", t0, "a")
			Expect(replication.Wins(a, nil)).To(BeTrue())
			Expect(replication.Wins(nil, a)).To(BeFalse())
		})
	})

	Describe("Resolve", func() {
		It("picks the same winner on both nodes", func() {
			onA := rec("node-a", t0, "written on a")
			onB := rec("node-b", t0, "written on b")

			winnerAtA, outcomeAtA := replication.Resolve(onA, onB)
			winnerAtB, outcomeAtB := replication.Resolve(onB, onA)

			Expect(winnerAtA).To(Equal(winnerAtB))
			Expect(winnerAtA.Content).To(Equal("written on a"))
			Expect(outcomeAtA).To(Equal(replication.OutcomeLocalWins))
			Expect(outcomeAtB).To(Equal(replication.OutcomeRemoteWins))
		})

		It("lets the later write win", func() {
			local := rec("node-b", t0, "older")
			remote := rec("node-a", t0.Add(time.Second), "newer")

			winner, outcome := replication.Resolve(local, remote)
			Expect(winner.Content).To(Equal("newer"))
			Expect(outcome).To(Equal(replication.OutcomeRemoteWins))
		})
	})

	Describe("Clamp", func() {
		It("bounds batch sizes", func() {
			Expect(replication.Clamp(0)).To(Equal(replication.MaxBatch))
			Expect(replication.Clamp(-5)).To(Equal(replication.MaxBatch))
			Expect(replication.Clamp(25)).To(Equal(25))
			Expect(replication.Clamp(1000)).To(Equal(replication.MaxBatch))
		})
	})
})
