package receiptstore_test

import (
	"os"
	"os/exec"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gitvan/gitvan/internal/canonical"
	"github.com/gitvan/gitvan/internal/gitdriver"
	"github.com/gitvan/gitvan/internal/gvtypes"
	"github.com/gitvan/gitvan/internal/receiptstore"
)

func TestReceiptstore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "receiptstore")
}

func run(dir string, args ...string) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	Expect(cmd.Run()).To(Succeed())
}

var _ = Describe("Store", func() {
	var dir string
	var driver *gitdriver.Driver
	var head string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "gitvan-receiptstore-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(dir) })

		run(dir, "init", "-q")
		run(dir, "config", "user.email", "test@example.com")
		run(dir, "config", "user.name", "test")
		Expect(os.WriteFile(dir+"/README.md", []byte("hi"), 0644)).To(Succeed())
		run(dir, "add", "-A")
		run(dir, "commit", "-q", "-m", "init")

		driver = gitdriver.New(dir)
		var err2 error
		head, err2 = driver.Head()
		Expect(err2).NotTo(HaveOccurred())
	})

	buildReceipt := func(commit string) gvtypes.Receipt {
		jobID := "build"
		payload := map[string]any{"file": "src/a.js"}
		fp, err := canonical.InvocationFingerprint(jobID, commit, dir, payload)
		Expect(err).NotTo(HaveOccurred())
		return gvtypes.Receipt{
			ID:          "r-1",
			JobID:       &jobID,
			Status:      gvtypes.StatusSuccess,
			Commit:      commit,
			Branch:      "main",
			Worktree:    dir,
			StartedAt:   "2024-01-15T10:30:00Z",
			DurationMs:  12,
			Result:      map[string]any{"built": "src/a.js"},
			Artifacts:   []string{},
			Fingerprint: fp,
			Meta:        map[string]any{"payload": payload},
		}
	}

	It("round-trips an appended receipt", func() {
		store := receiptstore.New(driver, "refs/notes/gitvan/results")
		r := buildReceipt(head)
		Expect(store.Append(r)).To(Succeed())

		receipts, skipped, err := store.ReadCommitNote(head)
		Expect(err).NotTo(HaveOccurred())
		Expect(skipped).To(Equal(0))
		Expect(receipts).To(HaveLen(1))
		Expect(receipts[0].ID).To(Equal("r-1"))
		Expect(receipts[0].Fingerprint).To(Equal(r.Fingerprint))
	})

	It("appends multiple receipts on the same commit", func() {
		store := receiptstore.New(driver, "refs/notes/gitvan/results")
		r1 := buildReceipt(head)
		r2 := buildReceipt(head)
		r2.ID = "r-2"
		Expect(store.Append(r1)).To(Succeed())
		Expect(store.Append(r2)).To(Succeed())

		receipts, _, err := store.ReadCommitNote(head)
		Expect(err).NotTo(HaveOccurred())
		Expect(receipts).To(HaveLen(2))
	})

	It("filters by jobId and status", func() {
		store := receiptstore.New(driver, "refs/notes/gitvan/results")
		r := buildReceipt(head)
		Expect(store.Append(r)).To(Succeed())

		found, err := store.List(head, receiptstore.Filter{JobID: "build", Status: gvtypes.StatusSuccess})
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(HaveLen(1))

		notFound, err := store.List(head, receiptstore.Filter{JobID: "other"})
		Expect(err).NotTo(HaveOccurred())
		Expect(notFound).To(BeEmpty())
	})

	It("verifies a receipt's fingerprint against its immutable fields", func() {
		r := buildReceipt(head)
		v, err := receiptstore.Verify(r)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Valid).To(BeTrue())

		r.Fingerprint = "0000000000000000"
		v, err = receiptstore.Verify(r)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Valid).To(BeFalse())
	})

	It("returns ErrNotFound for an unknown receipt id", func() {
		store := receiptstore.New(driver, "refs/notes/gitvan/results")
		_, err := store.Get(head, "missing")
		Expect(err).To(MatchError(receiptstore.ErrNotFound))
	})
})
