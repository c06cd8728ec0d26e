package peercmder_test

import (
	"context"
	"net"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	peercmder "github.com/papercomputeco/memsync/cmd/memsync/peer"
	"github.com/papercomputeco/memsync/pkg/logger"
	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/replication/transport/rpc"
	"github.com/papercomputeco/memsync/pkg/storage/sqlite"
)

var _ = Describe("NewPeerCmd", func() {
	It("is hidden and carries the stdio subcommand", func() {
		cmd := peercmder.NewPeerCmd()
		Expect(cmd.Hidden).To(BeTrue())

		sub, _, err := cmd.Find([]string{"stdio"})
		Expect(err).NotTo(HaveOccurred())
		Expect(sub.Name()).To(Equal("stdio"))
	})
})

var _ = Describe("Serve", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		dbPath string
		client *rpc.Client
		served chan error
		srv    net.Conn
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		dbPath = filepath.Join(GinkgoT().TempDir(), "peer.db")

		s, err := sqlite.NewSQLiteDriver(ctx, sqlite.Config{Path: dbPath, NodeID: "node-b"})
		Expect(err).NotTo(HaveOccurred())
		_, err = s.Put(ctx, &memory.Record{ID: "r1", Title: "on b"})
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Close()).To(Succeed())

		var cli net.Conn
		cli, srv = net.Pipe()
		served = make(chan error, 1)
		go func() {
			served <- peercmder.Serve(ctx, srv, srv, logger.Nop())
		}()
		client = rpc.NewClient(cli)
	})

	AfterEach(func() {
		client.Close()
		srv.Close()
		cancel()
		Eventually(served).Should(Receive())
	})

	It("serves an existing store", func() {
		nodeID, err := client.Open(ctx, dbPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(nodeID).To(Equal("node-b"))

		rec, err := client.FetchRecord(ctx, "r1")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Title).To(Equal("on b"))
	})

	It("refuses to create a missing store", func() {
		_, err := client.Open(ctx, filepath.Join(filepath.Dir(dbPath), "typo.db"))
		Expect(err).To(MatchError(ContainSubstring("typo.db")))
	})
})
