package jobrunner_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gitvan/gitvan/internal/canonical"
	"github.com/gitvan/gitvan/internal/config"
	"github.com/gitvan/gitvan/internal/gitdriver"
	"github.com/gitvan/gitvan/internal/gvcontext"
	"github.com/gitvan/gitvan/internal/gvtypes"
	"github.com/gitvan/gitvan/internal/jobrunner"
	"github.com/gitvan/gitvan/internal/lockmgr"
	"github.com/gitvan/gitvan/internal/receiptstore"
)

func TestJobrunner(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "jobrunner")
}

func run(dir string, args ...string) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	Expect(cmd.Run()).To(Succeed())
}

var _ = Describe("Runner", func() {
	var dir string
	var driver *gitdriver.Driver
	var head string
	var locks *lockmgr.Manager
	var store *receiptstore.Store
	var gv *gvcontext.Context

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "gitvan-jobrunner-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(dir) })

		run(dir, "init", "-q")
		run(dir, "config", "user.email", "test@example.com")
		run(dir, "config", "user.name", "test")
		Expect(os.WriteFile(dir+"/README.md", []byte("hi"), 0644)).To(Succeed())
		run(dir, "add", "-A")
		run(dir, "commit", "-q", "-m", "init")

		driver = gitdriver.New(dir)
		head, err = driver.Head()
		Expect(err).NotTo(HaveOccurred())

		locks = lockmgr.New(driver, "refs/gitvan/locks", nil)
		store = receiptstore.New(driver, "refs/notes/gitvan/results")
		gv = gvcontext.New(dir, &config.Config{})
	})

	invocation := func(payload map[string]any) gvtypes.Invocation {
		fp, err := canonical.InvocationFingerprint("build", head, dir, payload)
		Expect(err).NotTo(HaveOccurred())
		return gvtypes.Invocation{
			JobID:       "build",
			Commit:      head,
			Worktree:    dir,
			Branch:      "main",
			Payload:     payload,
			Fingerprint: fp,
		}
	}

	It("runs a successful job and appends a success receipt", func() {
		job := jobrunner.Job{
			ID:   "build",
			Name: "build",
			Run: gvtypes.InvocableFunc(func(ctx context.Context, payload map[string]any) (any, error) {
				return map[string]any{"built": true}, nil
			}),
		}
		inv := invocation(map[string]any{"file": "src/a.js"})
		runner := jobrunner.New(locks, store)

		receipt, err := runner.Run(context.Background(), gv, job, inv, "job-build-"+head, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(receipt.Status).To(Equal(gvtypes.StatusSuccess))
		Expect(receipt.Fingerprint).To(Equal(inv.Fingerprint))

		receipts, _, err := store.ReadCommitNote(head)
		Expect(err).NotTo(HaveOccurred())
		Expect(receipts).To(HaveLen(1))
		Expect(receipts[0].ID).To(Equal(receipt.ID))

		released, err := locks.Release("job-build-"+head, dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(released).To(BeFalse(), "runner should already have released the lock")
	})

	It("records an error receipt when the job fails", func() {
		job := jobrunner.Job{
			ID:   "build",
			Name: "build",
			Run: gvtypes.InvocableFunc(func(ctx context.Context, payload map[string]any) (any, error) {
				return nil, errors.New("boom")
			}),
		}
		inv := invocation(map[string]any{"file": "src/b.js"})
		runner := jobrunner.New(locks, store)

		receipt, err := runner.Run(context.Background(), gv, job, inv, "job-build-"+head, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(receipt.Status).To(Equal(gvtypes.StatusError))
		Expect(receipt.Error).NotTo(BeNil())
		Expect(*receipt.Error).To(ContainSubstring("boom"))
	})

	It("skips and records a lock-held receipt when the lock is already taken", func() {
		lockName := "job-build-" + head
		_, acquired, err := locks.Acquire(lockName, dir, head, "other-holder", time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(acquired).To(BeTrue())
		defer locks.Release(lockName, dir)

		job := jobrunner.Job{
			ID:   "build",
			Name: "build",
			Run: gvtypes.InvocableFunc(func(ctx context.Context, payload map[string]any) (any, error) {
				return map[string]any{"built": true}, nil
			}),
		}
		inv := invocation(map[string]any{"file": "src/c.js"})
		runner := jobrunner.New(locks, store)

		receipt, err := runner.Run(context.Background(), gv, job, inv, lockName, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(receipt.Status).To(Equal(gvtypes.StatusSkipped))
		Expect(receipt.Meta["reason"]).To(Equal("lock-held"))
	})
})
