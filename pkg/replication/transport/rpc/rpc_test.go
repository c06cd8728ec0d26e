package rpc_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/replication"
	"github.com/papercomputeco/memsync/pkg/replication/transport/direct"
	"github.com/papercomputeco/memsync/pkg/replication/transport/rpc"
	"github.com/papercomputeco/memsync/pkg/storage/sqlite"
)

var _ = Describe("Client and Server", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		dbPath  string
		client  *rpc.Client
		served  chan error
		srvConn net.Conn
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		dbPath = filepath.Join(GinkgoT().TempDir(), "peer.db")

		peer, err := sqlite.NewSQLiteDriver(ctx, sqlite.Config{Path: dbPath, NodeID: "node-b"})
		Expect(err).NotTo(HaveOccurred())
		_, err = peer.Put(ctx, &memory.Record{ID: "r1", Title: "on b", Tags: []string{"peer"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(peer.Close()).To(Succeed())

		server := rpc.NewServer(func(ctx context.Context, path string) (replication.Remote, error) {
			return direct.Open(ctx, path, nil)
		}, nil)

		var cliConn net.Conn
		cliConn, srvConn = net.Pipe()
		served = make(chan error, 1)
		go func() {
			served <- server.Serve(ctx, srvConn, srvConn)
		}()

		client = rpc.NewClient(cliConn)
	})

	AfterEach(func() {
		client.Close()
		srvConn.Close()
		cancel()
		Eventually(served).Should(Receive())
	})

	It("requires open before other calls", func() {
		err := client.Probe(ctx)
		var rpcErr *rpc.Error
		Expect(errors.As(err, &rpcErr)).To(BeTrue())
		Expect(rpcErr.Code).To(Equal(rpc.CodeNotOpen))
	})

	It("serves the full remote contract", func() {
		nodeID, err := client.Open(ctx, dbPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(nodeID).To(Equal("node-b"))
		Expect(client.Probe(ctx)).To(Succeed())

		entries, err := client.FetchPending(ctx, "node-a", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].RecordID).To(Equal("r1"))
		Expect(entries[0].Operation).To(Equal(memory.OpInsert))

		rec, err := client.FetchRecord(ctx, "r1")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Title).To(Equal("on b"))
		Expect(rec.Tags).To(Equal([]string{"peer"}))
		Expect(rec.OriginID).To(Equal("node-b"))

		missing, err := client.FetchRecord(ctx, "absent")
		Expect(err).NotTo(HaveOccurred())
		Expect(missing).To(BeNil())

		incoming := &memory.Record{ID: "r2", Title: "from a", OriginID: "node-a", Version: 1, UpdatedAt: memory.Now()}
		result, err := client.Apply(ctx, memory.OpInsert, incoming)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(replication.ApplyResult{Applied: true, Version: 1}))

		result, err = client.Apply(ctx, memory.OpInsert, incoming)
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(replication.ApplyResult{Applied: false, Version: 1}))

		Expect(client.AckSynced(ctx, []int64{entries[0].LogID})).To(Succeed())
		entries, err = client.FetchPending(ctx, "node-a", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})

	It("reports store errors without breaking the session", func() {
		_, err := client.Open(ctx, dbPath)
		Expect(err).NotTo(HaveOccurred())

		_, err = client.Apply(ctx, memory.Operation("merge"), &memory.Record{ID: "x", OriginID: "node-a"})
		var rpcErr *rpc.Error
		Expect(errors.As(err, &rpcErr)).To(BeTrue())
		Expect(rpcErr.Code).To(Equal(rpc.CodeInternal))

		Expect(client.Probe(ctx)).To(Succeed())
	})

	It("breaks the session when a call is abandoned", func() {
		mute, _ := net.Pipe()
		stuck := rpc.NewClient(mute)
		defer stuck.Close()

		stalled, stop := context.WithTimeout(ctx, 50*time.Millisecond)
		defer stop()

		err := stuck.Probe(stalled)
		Expect(err).To(MatchError(replication.ErrUnreachable))

		err = stuck.Probe(ctx)
		Expect(err).To(MatchError(replication.ErrUnreachable))
	})

	It("does not start calls on a finished context", func() {
		done, stop := context.WithCancel(ctx)
		stop()

		Expect(client.Probe(done)).To(MatchError(replication.ErrUnreachable))

		_, err := client.Open(ctx, dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	It("fails with ErrUnreachable when the peer goes away", func() {
		srvConn.Close()
		err := client.Probe(ctx)
		Expect(err).To(MatchError(replication.ErrUnreachable))
	})
})
