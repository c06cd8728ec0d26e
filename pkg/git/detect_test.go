package git_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/memsync/pkg/git"
)

var _ = Describe("RepoName", func() {
	BeforeEach(func() {
		if _, err := exec.LookPath("git"); err != nil {
			Skip("git is not installed")
		}
	})

	It("returns the work tree name from a nested directory", func() {
		repo := filepath.Join(GinkgoT().TempDir(), "notes-repo")
		nested := filepath.Join(repo, "docs", "adr")
		Expect(os.MkdirAll(nested, 0o755)).To(Succeed())
		Expect(exec.Command("git", "init", "-q", repo).Run()).To(Succeed())

		name, err := git.RepoName(context.Background(), nested)
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("notes-repo"))
	})

	It("reports directories outside a repository", func() {
		dir := GinkgoT().TempDir()
		GinkgoT().Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))

		_, err := git.RepoName(context.Background(), dir)
		Expect(err).To(MatchError(git.ErrNotRepository))
	})
})
