package eventrouter_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gitvan/gitvan/internal/discovery"
	"github.com/gitvan/gitvan/internal/eventrouter"
	"github.com/gitvan/gitvan/internal/gitdriver"
	"github.com/gitvan/gitvan/internal/gvtypes"
	"github.com/gitvan/gitvan/internal/receiptstore"
)

func TestEventrouter(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "eventrouter")
}

func run(dir string, args ...string) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	Expect(cmd.Run()).To(Succeed())
}

func writeFile(dir, rel, content string) {
	path := filepath.Join(dir, rel)
	Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
	Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
}

var _ = Describe("Router", func() {
	var dir string
	var driver *gitdriver.Driver
	var built []string

	nativeBuild := gvtypes.InvocableFunc(func(ctx context.Context, payload map[string]any) (any, error) {
		file, _ := payload["file"].(string)
		built = append(built, file)
		return map[string]any{"built": file}, nil
	})

	BeforeEach(func() {
		built = nil
		var err error
		dir, err = os.MkdirTemp("", "gitvan-eventrouter-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(dir) })

		run(dir, "init", "-q")
		run(dir, "config", "user.email", "test@example.com")
		run(dir, "config", "user.name", "test")

		writeFile(dir, "jobs/build.yaml", "meta:\n  name: build\nrun:\n  native: build\n")
		writeFile(dir, "events/path/src__star__.yaml", "job: build\npattern: \"src/**\"\npayloadTemplate:\n  file: \"{{commit.id}}\"\n")

		writeFile(dir, "README.md", "hi")
		run(dir, "add", "-A")
		run(dir, "commit", "-q", "-m", "init")

		driver = gitdriver.New(dir)
	})

	buildRouter := func() (*eventrouter.Router, *receiptstore.Store) {
		scanner := discovery.NewScanner(dir, "jobs", "events", filepath.Join(dir, "logs"),
			map[string]gvtypes.Invocable{"build": nativeBuild})
		store := receiptstore.New(driver, "refs/notes/gitvan/results")
		return eventrouter.New(driver, scanner, store), store
	}

	It("matches a path event against a commit touching src/ (S1)", func() {
		writeFile(dir, "src/a.js", "console.log(1)")
		run(dir, "add", "-A")
		run(dir, "commit", "-q", "-m", "add src/a.js")
		head, err := driver.Head()
		Expect(err).NotTo(HaveOccurred())

		router, _ := buildRouter()
		pending, newWatermark, err := router.Tick(gvtypes.Worktree{Path: dir, Head: head, Branch: "main"}, "", 600, 50)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(1))
		Expect(pending[0].Invocation.JobID).To(Equal("build"))
		Expect(pending[0].Invocation.Fingerprint).To(HaveLen(16))
		Expect(newWatermark).To(Equal(head))
	})

	It("does not re-emit an invocation whose receipt already exists on the commit (S2)", func() {
		writeFile(dir, "src/a.js", "console.log(1)")
		run(dir, "add", "-A")
		run(dir, "commit", "-q", "-m", "add src/a.js")
		head, err := driver.Head()
		Expect(err).NotTo(HaveOccurred())

		router, store := buildRouter()
		wt := gvtypes.Worktree{Path: dir, Head: head, Branch: "main"}
		pending, _, err := router.Tick(wt, "", 600, 50)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(1))

		jobID := pending[0].Invocation.JobID
		Expect(store.Append(gvtypes.Receipt{
			ID: "r1", JobID: &jobID, Status: gvtypes.StatusSuccess,
			Commit: head, Branch: "main", Worktree: dir,
			StartedAt: "2024-01-15T10:30:00Z", Fingerprint: pending[0].Invocation.Fingerprint,
			Artifacts: []string{}, Meta: map[string]any{},
		})).To(Succeed())

		pending2, _, err := router.Tick(wt, "", 600, 50)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending2).To(BeEmpty())
	})

	It("matches a merge-only event only on the merge commit (S5)", func() {
		writeFile(dir, "events/merge.yaml", "type: merge\njob: build\n")
		run(dir, "add", "-A")
		run(dir, "commit", "-q", "-m", "add merge event")

		run(dir, "checkout", "-q", "-b", "feature")
		writeFile(dir, "feature.txt", "x")
		run(dir, "add", "-A")
		run(dir, "commit", "-q", "-m", "feature work")

		run(dir, "checkout", "-q", "main")
		run(dir, "merge", "--no-ff", "-q", "-m", "merge feature", "feature")

		head, err := driver.Head()
		Expect(err).NotTo(HaveOccurred())

		router, _ := buildRouter()
		pending, _, err := router.Tick(gvtypes.Worktree{Path: dir, Head: head, Branch: "main"}, "", 600, 50)
		Expect(err).NotTo(HaveOccurred())

		mergeCount := 0
		for _, p := range pending {
			if p.Invocation.EventID == "merge" {
				mergeCount++
				Expect(p.Invocation.Commit).To(Equal(head))
			}
		}
		Expect(mergeCount).To(Equal(1))
	})
})
