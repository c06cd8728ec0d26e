package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/memsync/pkg/config"
)

var _ = Describe("Configer", func() {
	var tmpDir string

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
	})

	writeConfig := func(data string) {
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())
	}

	Describe("LoadConfig", func() {
		It("returns defaults when no config file exists", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(Equal(config.NewDefaultConfig()))
		})

		It("leaves required sync keys without defaults", func() {
			d := config.NewDefaultConfig()
			Expect(d.Sync.NodeID).To(BeEmpty())
			Expect(d.Sync.Peer).To(BeEmpty())
			Expect(d.Sync.Transport).To(BeEmpty())
			Expect(d.Sync.PollInterval).To(BeZero())
			Expect(d.Storage.SQLitePath).To(BeEmpty())
		})

		It("loads every section", func() {
			writeConfig(`version = 0

[storage]
sqlite_path = "/var/lib/memsync/a.db"

[api]
listen = ":9443"
token = "s3cret"
mcp = true

[sync]
node_id = "laptop"
peer = "https://desk.lan:8443"
transport = "http"
poll_interval = 20
batch_size = 50
timeout = 5
log_retention_days = 7
token = "peer-token"
watch = false

[events]
kafka_brokers = "kafka:9092"
`)
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.SQLitePath).To(Equal("/var/lib/memsync/a.db"))
			Expect(cfg.API.Listen).To(Equal(":9443"))
			Expect(cfg.API.MCP).To(BeTrue())
			Expect(cfg.Sync.NodeID).To(Equal("laptop"))
			Expect(cfg.Sync.PollInterval).To(Equal(uint(20)))
			Expect(cfg.Sync.BatchSize).To(Equal(uint(50)))
			Expect(cfg.Sync.LogRetentionDays).To(Equal(uint(7)))
			Expect(cfg.Events.KafkaBrokers).To(Equal("kafka:9092"))
			Expect(cfg.Events.KafkaTopic).To(Equal(config.NewDefaultConfig().Events.KafkaTopic))
		})

		It("rejects an unsupported version", func() {
			writeConfig("version = 7\n")
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(MatchError(ContainSubstring("unsupported config version 7")))
		})

		It("rejects malformed TOML", func() {
			writeConfig("[sync\nnode_id = ")
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(MatchError(ContainSubstring("parsing config TOML")))
		})
	})

	Describe("SetConfigValue and GetConfigValue", func() {
		var c *config.Configer

		BeforeEach(func() {
			var err error
			c, err = config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
		})

		It("round-trips string, uint and bool keys through the file", func() {
			Expect(c.SetConfigValue("sync.peer", "ssh://ops@desk:22")).To(Succeed())
			Expect(c.SetConfigValue("sync.poll_interval", "45")).To(Succeed())
			Expect(c.SetConfigValue("api.mcp", "true")).To(Succeed())

			Expect(c.GetConfigValue("sync.peer")).To(Equal("ssh://ops@desk:22"))
			Expect(c.GetConfigValue("sync.poll_interval")).To(Equal("45"))
			Expect(c.GetConfigValue("api.mcp")).To(Equal("true"))

			info, err := os.Stat(filepath.Join(tmpDir, "config.toml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))
		})

		It("rejects unknown keys", func() {
			Expect(c.SetConfigValue("proxy.upstream", "x")).To(MatchError(ContainSubstring("unknown config key")))
			_, err := c.GetConfigValue("nope")
			Expect(err).To(MatchError(ContainSubstring("unknown config key")))
		})

		It("rejects values of the wrong type", func() {
			Expect(c.SetConfigValue("sync.batch_size", "many")).To(MatchError(ContainSubstring("invalid value for sync.batch_size")))
			Expect(c.SetConfigValue("sync.watch", "sometimes")).To(MatchError(ContainSubstring("invalid value for sync.watch")))
		})

		It("returns empty for an unset uint key", func() {
			Expect(c.GetConfigValue("sync.poll_interval")).To(BeEmpty())
		})
	})

	Describe("ListConfigValues", func() {
		It("masks secrets unless asked to reveal them", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SetConfigValue("sync.token", "hunter2")).To(Succeed())

			masked, err := c.ListConfigValues(false)
			Expect(err).NotTo(HaveOccurred())
			Expect(masked).To(ContainElement(config.KeyValue{Key: "sync.token", Value: "********"}))
			Expect(masked).To(ContainElement(config.KeyValue{Key: "api.token", Value: ""}))

			revealed, err := c.ListConfigValues(true)
			Expect(err).NotTo(HaveOccurred())
			Expect(revealed).To(ContainElement(config.KeyValue{Key: "sync.token", Value: "hunter2"}))
		})
	})

	Describe("ValidConfigKeys", func() {
		It("lists every key exactly once in section order", func() {
			keys := config.ValidConfigKeys()
			Expect(keys[0]).To(Equal("storage.sqlite_path"))
			Expect(keys).To(ContainElements("sync.node_id", "sync.poll_interval", "events.kafka_topic"))

			seen := map[string]bool{}
			for _, k := range keys {
				Expect(seen[k]).To(BeFalse(), k)
				seen[k] = true
				Expect(config.IsValidConfigKey(k)).To(BeTrue())
			}
		})
	})

	Describe("InitViper", func() {
		It("layers the file, the environment and changed flags", func() {
			writeConfig(`[sync]
node_id = "from-file"
peer = "https://file.lan"
`)
			GinkgoT().Setenv("MEMSYNC_SYNC_PEER", "https://env.lan")

			v, err := config.InitViper(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(v.GetString("sync.node_id")).To(Equal("from-file"))
			Expect(v.GetString("sync.peer")).To(Equal("https://env.lan"))
			Expect(v.GetString("api.listen")).To(Equal(":8443"))

			var nodeID string
			cmd := &cobra.Command{Use: "test"}
			config.AddStringFlag(cmd, config.Flags, config.FlagNodeID, &nodeID)
			Expect(cmd.Flags().Set("node-id", "from-flag")).To(Succeed())
			config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagNodeID})
			Expect(v.GetString("sync.node_id")).To(Equal("from-flag"))
		})

		It("does not let an untouched flag mark a required key as set", func() {
			v, err := config.InitViper(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			var poll uint
			cmd := &cobra.Command{Use: "test"}
			config.AddUintFlag(cmd, config.Flags, config.FlagPollInterval, &poll)
			config.BindRegisteredFlags(v, cmd, config.Flags, []string{config.FlagPollInterval})
			Expect(v.IsSet("sync.poll_interval")).To(BeFalse())
		})
	})

	Describe("flag registry", func() {
		It("takes defaults from the default config", func() {
			var listen string
			var batch uint
			cmd := &cobra.Command{Use: "test"}
			config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &listen)
			config.AddUintFlag(cmd, config.Flags, config.FlagBatchSize, &batch)

			Expect(cmd.Flags().Lookup("listen").DefValue).To(Equal(":8443"))
			Expect(cmd.Flags().Lookup("listen").Shorthand).To(Equal("l"))
			Expect(batch).To(Equal(uint(100)))
		})

		It("ignores unknown registry keys", func() {
			var s string
			cmd := &cobra.Command{Use: "test"}
			config.AddStringFlag(cmd, config.Flags, "nope", &s)
			Expect(cmd.Flags().HasFlags()).To(BeFalse())
		})
	})
})
