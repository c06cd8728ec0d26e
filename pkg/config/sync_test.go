package config_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"

	"github.com/papercomputeco/memsync/pkg/config"
)

var _ = Describe("LoadSyncConfig", func() {
	var v *viper.Viper

	BeforeEach(func() {
		v = viper.New()
		v.Set("sync.node_id", "node-a")
		v.Set("storage.sqlite_path", "/data/a.db")
		v.Set("sync.transport", "http")
		v.Set("sync.peer", "https://node-b.lan:8443")
		v.Set("sync.token", "t0ken")
		v.Set("sync.poll_interval", 30)
	})

	It("loads a complete http configuration", func() {
		c, err := config.LoadSyncConfig(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.NodeID).To(Equal("node-a"))
		Expect(c.Transport).To(Equal(config.TransportHTTP))
		Expect(c.PollInterval).To(Equal(30 * time.Second))
		Expect(c.BatchSize).To(Equal(100))
		Expect(c.Timeout).To(Equal(15 * time.Second))
		Expect(c.LogRetention).To(BeZero())
		Expect(c.PeerLabel()).To(Equal("https://node-b.lan:8443"))
	})

	It("converts retention days and explicit bounds", func() {
		v.Set("sync.batch_size", 25)
		v.Set("sync.timeout", 120)
		v.Set("sync.log_retention_days", 2)

		c, err := config.LoadSyncConfig(v)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.BatchSize).To(Equal(25))
		Expect(c.Timeout).To(Equal(2 * time.Minute))
		Expect(c.LogRetention).To(Equal(48 * time.Hour))
	})

	It("fails fast with every problem at once", func() {
		_, err := config.LoadSyncConfig(viper.New())
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, config.ErrInvalidSyncConfig)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("sync.node_id is required"))
		Expect(err.Error()).To(ContainSubstring("storage.sqlite_path is required"))
		Expect(err.Error()).To(ContainSubstring("sync.poll_interval is required"))
		Expect(err.Error()).To(ContainSubstring("sync.transport is required"))
	})

	DescribeTable("poll interval bounds",
		func(seconds int, ok bool) {
			v.Set("sync.poll_interval", seconds)
			_, err := config.LoadSyncConfig(v)
			if ok {
				Expect(err).NotTo(HaveOccurred())
			} else {
				Expect(err).To(MatchError(ContainSubstring("sync.poll_interval must be between 1 and 300")))
			}
		},
		Entry("zero", 0, false),
		Entry("lower bound", 1, true),
		Entry("upper bound", 300, true),
		Entry("above upper bound", 301, false),
	)

	It("rejects an invalid node identity", func() {
		v.Set("sync.node_id", "node a; DROP TABLE")
		_, err := config.LoadSyncConfig(v)
		Expect(err).To(MatchError(ContainSubstring("sync.node_id")))
	})

	It("rejects out-of-range batch sizes and timeouts", func() {
		v.Set("sync.batch_size", 500)
		v.Set("sync.timeout", 600)
		_, err := config.LoadSyncConfig(v)
		Expect(err).To(MatchError(ContainSubstring("sync.batch_size must be between 1 and 100")))
		Expect(err).To(MatchError(ContainSubstring("sync.timeout must be between 1 and 120")))
	})

	It("rejects an unknown transport", func() {
		v.Set("sync.transport", "carrier-pigeon")
		_, err := config.LoadSyncConfig(v)
		Expect(err).To(MatchError(ContainSubstring(`unknown sync.transport "carrier-pigeon"`)))
	})

	Context("http transport", func() {
		It("requires a token", func() {
			v.Set("sync.token", "")
			_, err := config.LoadSyncConfig(v)
			Expect(err).To(MatchError(ContainSubstring("sync.token is required")))
		})

		It("requires an http(s) peer", func() {
			v.Set("sync.peer", "ssh://node-b")
			_, err := config.LoadSyncConfig(v)
			Expect(err).To(MatchError(ContainSubstring("must be an http(s) URL")))
		})

		It("requires a peer", func() {
			v.Set("sync.peer", "")
			_, err := config.LoadSyncConfig(v)
			Expect(err).To(MatchError(ContainSubstring("sync.peer is required")))
		})
	})

	Context("ssh transport", func() {
		BeforeEach(func() {
			v.Set("sync.transport", "ssh")
			v.Set("sync.peer", "ssh://ops@node-b.lan:22")
			v.Set("sync.ssh_key_file", "/keys/id_ed25519")
			v.Set("sync.ssh_known_hosts", "/keys/known_hosts")
			v.Set("sync.remote_sqlite_path", "/srv/memsync/b.db")
		})

		It("loads a complete ssh configuration", func() {
			c, err := config.LoadSyncConfig(v)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.RemoteSQLitePath).To(Equal("/srv/memsync/b.db"))
			Expect(c.SSHKeyFile).To(Equal("/keys/id_ed25519"))
		})

		It("requires the key, remote path and an ssh peer", func() {
			v.Set("sync.peer", "https://node-b")
			v.Set("sync.ssh_key_file", "")
			v.Set("sync.remote_sqlite_path", "")
			_, err := config.LoadSyncConfig(v)
			Expect(err).To(MatchError(ContainSubstring("must be an ssh:// address")))
			Expect(err).To(MatchError(ContainSubstring("sync.ssh_key_file is required")))
			Expect(err).To(MatchError(ContainSubstring("sync.remote_sqlite_path is required for the ssh transport")))
		})
	})

	Context("file transport", func() {
		BeforeEach(func() {
			v.Set("sync.transport", "file")
			v.Set("sync.peer", "")
			v.Set("sync.remote_sqlite_path", "/mnt/share/b.db")
		})

		It("needs only the remote path and labels the peer with it", func() {
			c, err := config.LoadSyncConfig(v)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.PeerLabel()).To(Equal("/mnt/share/b.db"))
		})

		It("refuses to replicate a database onto itself", func() {
			v.Set("sync.remote_sqlite_path", "/data/a.db")
			_, err := config.LoadSyncConfig(v)
			Expect(err).To(MatchError(ContainSubstring("must differ from storage.sqlite_path")))
		})
	})
})
