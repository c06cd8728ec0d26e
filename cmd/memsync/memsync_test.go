package memsynccmder_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	memsynccmder "github.com/papercomputeco/memsync/cmd/memsync"
)

var _ = Describe("NewMemsyncCmd", func() {
	It("registers every subcommand", func() {
		cmd := memsynccmder.NewMemsyncCmd()
		names := []string{}
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements(
			"init", "config", "migrate", "serve", "sync", "status",
			"compact", "memory", "export", "peer", "version",
		))
	})

	It("carries the global flags", func() {
		cmd := memsynccmder.NewMemsyncCmd()
		Expect(cmd.PersistentFlags().Lookup("debug").Shorthand).To(Equal("d"))
		Expect(cmd.PersistentFlags().Lookup("log-json")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("config-dir")).NotTo(BeNil())
	})

	It("runs the ssh peer entrypoint", func() {
		cmd := memsynccmder.NewMemsyncCmd()
		cmd.SetIn(&bytes.Buffer{})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"peer", "stdio"})
		Expect(cmd.Execute()).To(Succeed())
	})
})
