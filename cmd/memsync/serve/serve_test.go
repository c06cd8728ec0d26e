package servecmder_test

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	servecmder "github.com/papercomputeco/memsync/cmd/memsync/serve"
	"github.com/papercomputeco/memsync/pkg/config"
	"github.com/papercomputeco/memsync/pkg/dotdir"
	"github.com/papercomputeco/memsync/pkg/replication/daemon"
)

var _ = Describe("NewServeCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := servecmder.NewServeCmd()
		Expect(cmd.Use).To(Equal("serve"))
	})

	It("registers the listen flag with its default", func() {
		cmd := servecmder.NewServeCmd()
		f := cmd.Flags().Lookup("listen")
		Expect(f).NotTo(BeNil())
		Expect(f.DefValue).To(Equal(":8443"))
	})

	It("registers an optional JSON log file", func() {
		cmd := servecmder.NewServeCmd()
		f := cmd.Flags().Lookup("log-file")
		Expect(f).NotTo(BeNil())
		Expect(f.DefValue).To(BeEmpty())
	})

	It("refuses to start on an incomplete configuration", func() {
		root := &cobra.Command{Use: "memsync", SilenceUsage: true}
		root.PersistentFlags().String("config-dir", "", "")
		root.AddCommand(servecmder.NewServeCmd())
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs([]string{"serve", "--config-dir", GinkgoT().TempDir(), "--transport", "http"})

		err := root.Execute()
		Expect(err).To(MatchError(ContainSubstring("refusing to start")))
		Expect(err).To(MatchError(config.ErrInvalidSyncConfig))
	})

	It("refuses to start while another daemon holds the directory", func() {
		dir := GinkgoT().TempDir()
		lock, err := dotdir.NewManager().LockDaemon(dir)
		Expect(err).NotTo(HaveOccurred())
		defer lock.Release()

		root := &cobra.Command{Use: "memsync", SilenceUsage: true}
		root.PersistentFlags().String("config-dir", "", "")
		root.AddCommand(servecmder.NewServeCmd())
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs([]string{
			"serve", "--config-dir", dir,
			"--sqlite", filepath.Join(dir, "local.db"),
			"--node-id", "node-a",
			"--transport", "file",
			"--remote-sqlite", filepath.Join(dir, "remote.db"),
			"--poll-interval", "5",
		})

		Expect(root.Execute()).To(MatchError(dotdir.ErrDaemonRunning))
	})
})

var _ = Describe("Snapshot", func() {
	It("copies the daemon counters", func() {
		last := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
		sc := &config.SyncConfig{NodeID: "node-a", RemoteSQLitePath: "/mnt/peer.db"}

		snap := servecmder.Snapshot(sc, daemon.Status{
			State: daemon.StateSleep,
			Stats: daemon.Stats{Cycles: 4, Pushed: 2, Pulled: 1, Failures: 1, LastCycle: last, LastError: "boom"},
		})

		Expect(snap.NodeID).To(Equal("node-a"))
		Expect(snap.Peer).To(Equal("/mnt/peer.db"))
		Expect(snap.PID).To(Equal(os.Getpid()))
		Expect(snap.State).To(Equal(string(daemon.StateSleep)))
		Expect(snap.Cycles).To(Equal(uint64(4)))
		Expect(snap.LastCycle).To(Equal(last))
		Expect(snap.LastError).To(Equal("boom"))
	})
})
