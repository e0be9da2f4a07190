package daemon_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gitvan/gitvan/internal/canonical"
	"github.com/gitvan/gitvan/internal/config"
	"github.com/gitvan/gitvan/internal/daemon"
	"github.com/gitvan/gitvan/internal/gitdriver"
	"github.com/gitvan/gitvan/internal/gvtypes"
	"github.com/gitvan/gitvan/internal/receiptstore"
)

func TestDaemon(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "daemon")
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

var _ = Describe("Daemon", func() {
	var dir string
	var cfg *config.Config
	var built []string

	nativeBuild := func() gvtypes.Invocable {
		return gvtypes.InvocableFunc(func(ctx context.Context, payload map[string]any) (any, error) {
			built = append(built, fmt.Sprintf("%v", payload["file"]))
			return map[string]any{"built": true}, nil
		})
	}

	BeforeEach(func() {
		built = nil
		var err error
		dir, err = os.MkdirTemp("", "gitvan-daemon-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(dir) })
		DeferCleanup(func() { os.Unsetenv("GITVAN_NOW") })

		run(dir, "init", "-q")
		run(dir, "config", "user.email", "test@example.com")
		run(dir, "config", "user.name", "test")

		writeFile(dir, "jobs/build.yaml", "meta:\n  name: build\nrun:\n  native: build\n")
		writeFile(dir, "events/path/src__star__.yaml", "job: build\npattern: \"src/**\"\npayloadTemplate:\n  file: \"{{commit.id}}\"\n")
		writeFile(dir, "README.md", "hi")
		run(dir, "add", "-A")
		run(dir, "commit", "-q", "-m", "init")

		cfg = config.Default()
		cfg.RootDir = dir
		cfg.Jobs.Dir = "jobs"
		cfg.Events.Directory = "events"
	})

	It("dispatches a new commit through the event router on a single tick", func() {
		writeFile(dir, "src/a.js", "x")
		run(dir, "add", "-A")
		run(dir, "commit", "-q", "-m", "add src/a.js")

		d := daemon.New(dir, cfg, map[string]gvtypes.Invocable{"build": nativeBuild()})
		Expect(d.RunOnce(context.Background())).To(Succeed())
		Expect(built).To(HaveLen(1))

		driver := gitdriver.New(dir)
		store := receiptstore.New(driver, cfg.Receipts.Ref)
		head, err := driver.Head()
		Expect(err).NotTo(HaveOccurred())
		receipts, _, err := store.ReadCommitNote(head)
		Expect(err).NotTo(HaveOccurred())
		Expect(receipts).To(HaveLen(1))
		Expect(receipts[0].Status).To(Equal(gvtypes.StatusSuccess))
	})

	It("produces zero new receipts re-running from the persisted watermark over a static repo", func() {
		writeFile(dir, "src/a.js", "x")
		run(dir, "add", "-A")
		run(dir, "commit", "-q", "-m", "add src/a.js")

		d := daemon.New(dir, cfg, map[string]gvtypes.Invocable{"build": nativeBuild()})
		Expect(d.RunOnce(context.Background())).To(Succeed())
		Expect(built).To(HaveLen(1))

		Expect(d.RunOnce(context.Background())).To(Succeed())
		Expect(built).To(HaveLen(1), "second tick over an unchanged repo must not re-dispatch")
	})

	It("emits exactly one catch-up fire for a cron job that missed several scheduled slots (S4)", func() {
		writeFile(dir, "jobs/tick.yaml", "meta:\n  name: tick\nrun:\n  native: tick\n")
		writeFile(dir, "schedules/tick.yaml", "id: tick-sched\ncron: \"*/5 * * * *\"\njobId: tick\ntimezone: UTC\n")
		run(dir, "add", "-A")
		run(dir, "commit", "-q", "-m", "add tick job")

		driver := gitdriver.New(dir)
		store := receiptstore.New(driver, cfg.Receipts.Ref)
		head, err := driver.Head()
		Expect(err).NotTo(HaveOccurred())

		jobID := "tick"
		payload := map[string]any{"scheduled": true, "cron": "*/5 * * * *", "scheduledAt": "2024-01-15T10:00:00Z"}
		fp, err := canonical.InvocationFingerprint(jobID, head, dir, payload)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.Append(gvtypes.Receipt{
			ID: "seed-1", JobID: &jobID, Status: gvtypes.StatusSuccess,
			Commit: head, Branch: "main", Worktree: dir,
			StartedAt: "2024-01-15T10:00:00Z", Fingerprint: fp,
			Artifacts: []string{}, Meta: map[string]any{"scheduled": true, "cron": "*/5 * * * *", "scheduledAt": "2024-01-15T10:00:00Z", "payload": payload},
		})).To(Succeed())

		var ticks []string
		tickInvocable := gvtypes.InvocableFunc(func(ctx context.Context, payload map[string]any) (any, error) {
			ticks = append(ticks, fmt.Sprintf("%v", payload["scheduledAt"]))
			return map[string]any{"ok": true}, nil
		})

		Expect(os.Setenv("GITVAN_NOW", "2024-01-15T10:23:00Z")).To(Succeed())
		d := daemon.New(dir, cfg, map[string]gvtypes.Invocable{"build": nativeBuild(), "tick": tickInvocable})
		Expect(d.RunOnce(context.Background())).To(Succeed())

		Expect(ticks).To(Equal([]string{"2024-01-15T10:20:00Z"}), "one catch-up fire at the most recent expected slot, not every missed slot")

		Expect(d.RunOnce(context.Background())).To(Succeed())
		Expect(ticks).To(HaveLen(1), "a second tick at the same clock reading must not re-fire the slot it already recorded")
	})
})
