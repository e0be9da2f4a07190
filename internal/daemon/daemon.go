// Package daemon drives the execution core's long-running loop (spec
// §4.8): per worktree, poll for new commits since a persisted watermark,
// run them through the event router, dispatch due cron sources, and gate
// every resulting invocation through the lock manager and job runner. It
// generalizes the teacher's RunOnceWithLogs topological-level parallel
// worker loop (internal/engine/engine.go) — "independent concerns at the
// same level run in parallel" becomes "independent worktrees run in
// parallel" — and cli.runDaemon's ticker+signal loop (internal/cli/run.go).
package daemon

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gitvan/gitvan/internal/config"
	"github.com/gitvan/gitvan/internal/discovery"
	"github.com/gitvan/gitvan/internal/eventrouter"
	"github.com/gitvan/gitvan/internal/gitdriver"
	"github.com/gitvan/gitvan/internal/gvcontext"
	"github.com/gitvan/gitvan/internal/gvlog"
	"github.com/gitvan/gitvan/internal/gvtypes"
	"github.com/gitvan/gitvan/internal/jobrunner"
	"github.com/gitvan/gitvan/internal/lockmgr"
	"github.com/gitvan/gitvan/internal/receiptstore"
)

// pendingInvocation is an invocation paired with its resolved Invocable and
// the job metadata the runner wants for receipts/context (spec §4.7 step 2).
type pendingInvocation struct {
	invocation gvtypes.Invocation
	run        gvtypes.Invocable
	jobID      string
	jobName    string
}

// Daemon ties every execution-core component to one repository's root
// directory and drives ticks across its worktrees.
type Daemon struct {
	driver       *gitdriver.Driver
	scanner      *discovery.Scanner
	store        *receiptstore.Store
	locks        *lockmgr.Manager
	runner       *jobrunner.Runner
	gv           *gvcontext.Context
	cfg          *config.Config
	schedulesDir string

	watermarkPrefix string
	startedAt       time.Time
}

// New builds a Daemon rooted at repoDir, wiring every component from cfg
// (spec §6's recognized option table).
func New(repoDir string, cfg *config.Config, native map[string]gvtypes.Invocable) *Daemon {
	driver := gitdriver.New(repoDir)
	scanner := discovery.NewScanner(repoDir, cfg.Jobs.Dir, cfg.Events.Directory, repoDir+"/.gitvan/logs", native)
	store := receiptstore.New(driver, cfg.Receipts.Ref)
	gv := gvcontext.New(repoDir, cfg)
	locks := lockmgr.New(driver, cfg.Locks.Ref, gv.Now)
	runner := jobrunner.New(locks, store)

	return &Daemon{
		driver:          driver,
		scanner:         scanner,
		store:           store,
		locks:           locks,
		runner:          runner,
		gv:              gv,
		cfg:             cfg,
		schedulesDir:    "schedules",
		watermarkPrefix: "refs/gitvan/watermarks",
		startedAt:       gv.Now(),
	}
}

// maxConcurrency is the minimum of worktree count, a configured cap and CPU
// count (spec §4.8: "maxConcurrency is the minimum of (worktree count,
// configured cap, CPU count)").
func maxConcurrency(worktreeCount, cap int) int {
	n := worktreeCount
	if cap > 0 && cap < n {
		n = cap
	}
	if cpu := runtime.NumCPU(); cpu < n {
		n = cpu
	}
	if n < 1 {
		n = 1
	}
	return n
}

// RunOnce drives exactly one tick across every worktree (spec §4.8 loop
// body, invoked once rather than under a ticker). It returns an error only
// when the worktrees cannot be listed; a failure inside one worktree's tick
// is logged and does not stop the other worktrees, and per-invocation
// failures never reach here (spec §4.7).
func (d *Daemon) RunOnce(ctx context.Context) error {
	worktrees, err := d.driver.ListWorktrees()
	if err != nil {
		return fmt.Errorf("listing worktrees: %w", err)
	}
	if len(worktrees) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency(len(worktrees), 0))

	for _, wt := range worktrees {
		wt := wt
		g.Go(func() error {
			if err := d.processWorktree(gctx, wt); err != nil {
				gvlog.LogError("processing worktree %s: %s", wt.Path, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// processWorktree implements one worktree's tick: new-commit event
// dispatch, cron dispatch, then watermark advancement (spec §4.6/§4.8).
// Locks, receipts and watermarks are shared repository-wide refs (spec §5:
// "coordination is entirely through atomic Git-ref creation"), so they go
// through the Daemon's single driver/store/runner rather than one per
// worktree; only definition discovery is genuinely worktree-local, since
// jobs/** and events/** are ordinary files that differ by checked-out
// branch.
func (d *Daemon) processWorktree(ctx context.Context, worktree gvtypes.Worktree) error {
	scanner := discovery.NewScanner(worktree.Path, d.cfg.Jobs.Dir, d.cfg.Events.Directory,
		worktree.Path+"/.gitvan/logs", d.scanner.Native)
	router := eventrouter.New(d.driver, scanner, d.store)

	watermark := readWatermark(d.driver, d.watermarkPrefix, worktree.Path)
	pending, newWatermark, err := router.Tick(worktree, watermark,
		int64(d.cfg.Daemon.Lookback.Duration().Seconds()), d.cfg.Daemon.MaxPerTick)
	if err != nil {
		return fmt.Errorf("event router tick: %w", err)
	}

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.execute(ctx, scanner, p.Invocation, p.Run)
	}

	if newWatermark != watermark {
		if err := writeWatermark(d.driver, d.watermarkPrefix, worktree.Path, newWatermark); err != nil {
			return fmt.Errorf("persisting watermark: %w", err)
		}
	}

	due, err := dueCronInvocations(scanner, d.store, d.schedulesDir, worktree, d.startedAt, d.gv.Now())
	if err != nil {
		return fmt.Errorf("cron dispatch: %w", err)
	}
	for _, p := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.executeJob(ctx, p)
	}
	return nil
}

// execute resolves job metadata for an event-dispatched invocation and runs
// it through the job runner.
func (d *Daemon) execute(ctx context.Context, scanner *discovery.Scanner, inv gvtypes.Invocation, run gvtypes.Invocable) {
	jobID := inv.JobID
	jobName := jobID
	if jobID != "" {
		jobs, _ := scanner.Jobs()
		for _, j := range jobs {
			if j.ID == jobID {
				jobName = j.Meta.Name
				break
			}
		}
	} else {
		jobID = "event:" + inv.EventID
	}
	d.executeJob(ctx, pendingInvocation{invocation: inv, run: run, jobID: jobID, jobName: jobName})
}

func (d *Daemon) executeJob(ctx context.Context, p pendingInvocation) {
	job := jobrunner.Job{ID: p.jobID, Name: p.jobName, Run: p.run}
	lockName := "job-" + p.jobID
	timeout := d.cfg.Locks.Timeout.Duration()

	receipt, err := d.runner.Run(ctx, d.gv, job, p.invocation, lockName, timeout)
	if err != nil {
		gvlog.LogError("running job %s on %s: %s", p.jobID, p.invocation.Commit, err)
		return
	}
	gvlog.LogInfo("job %s on %s: %s", p.jobID, p.invocation.Commit, receipt.Status)
}

// Loop runs RunOnce immediately, then on every tick of cfg.Daemon.PollMs,
// until ctx is cancelled (spec §4.8: "wake on tick interval OR external
// signal"). Cancellation lets the current tick's in-flight invocations
// finish their critical section (lock release, receipt write) before Loop
// returns, since processWorktree only checks ctx between invocations, not
// inside one (spec §4.8 Cancellation paragraph).
func (d *Daemon) Loop(ctx context.Context) error {
	interval := d.cfg.Daemon.PollMs.Duration()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fmt.Fprintf(os.Stderr, "gitvan daemon started (polling every %s)\n", interval)

	if err := d.RunOnce(ctx); err != nil {
		gvlog.LogError("tick: %s", err)
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "gitvan daemon stopped")
			return nil
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				gvlog.LogError("tick: %s", err)
			}
		}
	}
}
