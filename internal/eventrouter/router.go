package eventrouter

import (
	"fmt"
	"time"

	"github.com/gitvan/gitvan/internal/canonical"
	"github.com/gitvan/gitvan/internal/discovery"
	"github.com/gitvan/gitvan/internal/gitdriver"
	"github.com/gitvan/gitvan/internal/gvtypes"
	"github.com/gitvan/gitvan/internal/receiptstore"
)

func secondsToDuration(s int64) time.Duration { return time.Duration(s) * time.Second }

// Pending is an invocation paired with the Invocable that will run it,
// resolved either from the event's named job or its inline target (spec
// §3: "target is either {job: id, payloadTemplate?} or an inline
// invocable"). gvtypes.Invocation itself stays free of runtime-only values
// so it matches the data model in spec §3 exactly.
type Pending struct {
	Invocation gvtypes.Invocation
	Run        gvtypes.Invocable
}

// Router matches commit deltas on one worktree against event definitions.
type Router struct {
	driver   *gitdriver.Driver
	scanner  *discovery.Scanner
	store    *receiptstore.Store
	patterns *patternCache
}

// New builds a Router for one worktree's driver, sharing scanner (for event
// and job definitions) and store (for dedup lookups and, later, receipt
// writes by the job runner) across ticks.
func New(driver *gitdriver.Driver, scanner *discovery.Scanner, store *receiptstore.Store) *Router {
	return &Router{driver: driver, scanner: scanner, store: store, patterns: newPatternCache()}
}

// Tick implements the per-worktree protocol from spec §4.6: discover new
// commits since watermark, evaluate every event definition against each in
// ancestor-first order, and return the resulting invocations plus the
// watermark to advance to. maxPerTick caps invocations emitted in this call
// (spec §6: daemon.maxPerTick).
func (r *Router) Tick(worktree gvtypes.Worktree, watermark string, lookbackSeconds int64, maxPerTick int) ([]Pending, string, error) {
	newest, err := r.driver.RevList(watermark, worktree.Head, secondsToDuration(lookbackSeconds))
	if err != nil {
		return nil, watermark, fmt.Errorf("listing new commits: %w", err)
	}
	if len(newest) == 0 {
		return nil, worktree.Head, nil
	}

	// RevList returns newest-first; the router dispatches in ancestor-first
	// order (spec §4.6 step 3, ordering guarantees in §4.6/§5).
	commits := make([]string, len(newest))
	for i, c := range newest {
		commits[len(newest)-1-i] = c
	}

	events, defErrs := r.scanner.Events()
	_ = defErrs // definition errors are reported upstream by the daemon, not fatal here

	var pending []Pending
	for _, commitID := range commits {
		if len(pending) >= maxPerTick {
			break
		}

		meta, err := r.driver.CommitMeta(commitID)
		if err != nil {
			return pending, watermark, fmt.Errorf("reading commit %s: %w", commitID, err)
		}

		existing, _, err := r.store.ReadCommitNote(commitID)
		if err != nil {
			return pending, watermark, fmt.Errorf("reading receipts for %s: %w", commitID, err)
		}
		seen := make(map[string]bool, len(existing))
		for _, rc := range existing {
			seen[rc.Fingerprint] = true
		}

		for _, e := range events {
			if len(pending) >= maxPerTick {
				break
			}
			matched, err := r.patterns.evaluate(e.Predicate, meta, worktree)
			if err != nil {
				return pending, watermark, fmt.Errorf("evaluating predicate for event %s: %w", e.ID, err)
			}
			if !matched {
				continue
			}

			p, err := r.buildPending(e, meta, worktree)
			if err != nil {
				return pending, watermark, fmt.Errorf("building invocation for event %s: %w", e.ID, err)
			}
			if seen[p.Invocation.Fingerprint] {
				continue
			}
			pending = append(pending, p)
		}
	}

	return pending, worktree.Head, nil
}

func (r *Router) buildPending(e gvtypes.EventDef, meta gvtypes.CommitMeta, worktree gvtypes.Worktree) (Pending, error) {
	payload := interpolate(e.Target.PayloadTemplate, meta, worktree, nil)

	identity := e.Target.JobID
	var run gvtypes.Invocable
	if e.Target.JobID != "" {
		jobs, _ := r.scanner.Jobs()
		for _, j := range jobs {
			if j.ID == e.Target.JobID {
				run = j.Run
				break
			}
		}
		if run == nil {
			return Pending{}, fmt.Errorf("job %q not found", e.Target.JobID)
		}
	} else if e.Target.Inline != nil {
		identity = "event:" + e.ID
		run = e.Target.Inline
	} else {
		return Pending{}, fmt.Errorf("event has neither job nor inline target")
	}

	fp, err := canonical.InvocationFingerprint(identity, meta.ID, worktree.Path, payload)
	if err != nil {
		return Pending{}, err
	}

	inv := gvtypes.Invocation{
		EventID:     e.ID,
		JobID:       e.Target.JobID,
		Commit:      meta.ID,
		Worktree:    worktree.Path,
		Branch:      worktree.Branch,
		Payload:     payload,
		Fingerprint: fp,
	}
	return Pending{Invocation: inv, Run: run}, nil
}
