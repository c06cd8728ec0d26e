package configcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/memsync/cmd/memsync/config"
)

var _ = Describe("NewConfigCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := configcmder.NewConfigCmd()
		Expect(cmd.Use).To(Equal("config"))
	})

	It("has set, get, and list subcommands", func() {
		cmd := configcmder.NewConfigCmd()
		cmds := cmd.Commands()
		subcommands := make([]string, 0, len(cmds))
		for _, sub := range cmds {
			subcommands = append(subcommands, sub.Name())
		}
		Expect(subcommands).To(ContainElements("set", "get", "list"))
	})
})

var _ = Describe("Config command execution", func() {
	var (
		configDir string
		out       *bytes.Buffer
	)

	BeforeEach(func() {
		configDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	run := func(args ...string) error {
		cmd := configcmder.NewConfigCmd()
		cmd.PersistentFlags().String("config-dir", "", "")
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(append(args, "--config-dir", configDir))
		return cmd.Execute()
	}

	Describe("set subcommand", func() {
		It("writes the config file", func() {
			Expect(run("set", "sync.peer", "https://peer.local:8443")).To(Succeed())

			info, err := os.Stat(filepath.Join(configDir, "config.toml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))
		})

		It("masks secrets in its confirmation", func() {
			Expect(run("set", "sync.token", "s3cret")).To(Succeed())
			Expect(out.String()).NotTo(ContainSubstring("s3cret"))
		})

		It("rejects unknown keys", func() {
			Expect(run("set", "proxy.provider", "anthropic")).To(MatchError(ContainSubstring("unknown config key")))
		})

		It("rejects invalid uint values", func() {
			Expect(run("set", "sync.poll_interval", "soon")).To(HaveOccurred())
		})

		It("requires exactly two arguments", func() {
			Expect(run("set", "sync.peer")).To(HaveOccurred())
		})
	})

	Describe("get subcommand", func() {
		It("prints a previously set value", func() {
			Expect(run("set", "sync.node_id", "laptop")).To(Succeed())
			out.Reset()

			Expect(run("get", "sync.node_id")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("laptop"))
		})

		It("reports unset keys", func() {
			Expect(run("get", "sync.peer")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("<not set>"))
		})

		It("rejects unknown keys", func() {
			Expect(run("get", "invalid_key")).To(HaveOccurred())
		})
	})

	Describe("list subcommand", func() {
		It("masks tokens unless revealed", func() {
			Expect(run("set", "api.token", "hunter2")).To(Succeed())
			out.Reset()

			Expect(run("list")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("api.token"))
			Expect(out.String()).NotTo(ContainSubstring("hunter2"))

			out.Reset()
			Expect(run("list", "--reveal")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("hunter2"))
		})

		It("rejects any arguments", func() {
			Expect(run("list", "extra")).To(HaveOccurred())
		})
	})

	It("completes key names", func() {
		cmd := configcmder.NewConfigCmd()
		var get *cobra.Command
		for _, sub := range cmd.Commands() {
			if sub.Name() == "get" {
				get = sub
			}
		}
		Expect(get).NotTo(BeNil())

		keys, _ := get.ValidArgsFunction(get, nil, "")
		Expect(keys).To(ContainElement("sync.transport"))
	})
})
