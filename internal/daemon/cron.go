package daemon

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gitvan/gitvan/internal/canonical"
	"github.com/gitvan/gitvan/internal/discovery"
	"github.com/gitvan/gitvan/internal/gvtypes"
	"github.com/gitvan/gitvan/internal/receiptstore"
)

// cronSource is one schedulable source of cron-dispatched invocations,
// unifying event definitions of kind "cron" with static schedules/*.yaml
// records (spec §6). Receipts are matched to a source by its jobID and
// eventID when looking lastFireTime up.
type cronSource struct {
	identity        string // label naming the source in error messages
	eventID         string // "" for a static schedule
	jobID           string
	expr            string
	tz              string
	payloadTemplate map[string]string
}

// cronSources collects every cron-kind event and enabled static schedule
// known to scanner.
func cronSources(scanner *discovery.Scanner, schedulesDir string) ([]cronSource, error) {
	var sources []cronSource

	events, _ := scanner.Events()
	for _, e := range events {
		if e.Predicate.Kind != gvtypes.PredicateCron {
			continue
		}
		sources = append(sources, cronSource{
			identity:        e.Target.JobID,
			eventID:         e.ID,
			jobID:           e.Target.JobID,
			expr:            e.Predicate.Expr,
			tz:              e.Predicate.TZ,
			payloadTemplate: e.Target.PayloadTemplate,
		})
	}

	schedules, _ := scanner.Schedules(schedulesDir)
	for _, s := range schedules {
		if !s.Enabled {
			continue
		}
		sources = append(sources, cronSource{
			identity: "schedule:" + s.ID,
			jobID:    s.JobID,
			expr:     s.Cron,
			tz:       s.Timezone,
		})
	}

	return sources, nil
}

// cronNext computes the earliest expected slot after 'after' per (expr,
// tz), honoring an IANA timezone name (spec §4.8: next(expr, tz,
// lastFireTime)).
func cronNext(expr, tz string, after time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	return sched.Next(after.In(loc)).UTC(), nil
}

// catchUpSlot walks forward from lastFireTime to the most recent expected
// slot that is still <= now, returning ok=false if no slot is due. Per spec
// §4.8: "Missed fires during downtime: one catch-up fire is emitted (not
// N); lastFireTime is advanced to the most recent expected slot <= now."
func catchUpSlot(expr, tz string, lastFireTime, now time.Time) (slot time.Time, ok bool, err error) {
	cursor := lastFireTime
	for {
		next, err := cronNext(expr, tz, cursor)
		if err != nil {
			return time.Time{}, false, err
		}
		if next.After(now) {
			break
		}
		slot = next
		ok = true
		cursor = next
	}
	return slot, ok, nil
}

// lastFireTime finds the most recently scheduled fire recorded in receipts
// for src; the receipt store is the only place this state lives (spec
// §4.8). A receipt belongs to src when its jobId and eventId equal src's;
// its slot is read from meta, or from the payload the job runner records
// under meta["payload"]. The latest slot of all matching receipts wins,
// since receipts on one commit are stored oldest first. A source with
// no prior receipt has never fired; the daemon's start time stands in for
// lastFireTime so only slots after daemon startup are eligible (no
// unbounded catch-up storm on first run against a long-lived cron source).
func lastFireTime(store *receiptstore.Store, head string, src cronSource, startedAt time.Time) time.Time {
	receipts, err := store.List(head, receiptstore.Filter{MaxCount: 200})
	if err != nil {
		return startedAt
	}
	latest, found := startedAt, false
	for _, r := range receipts {
		if r.JobIDOrEmpty() != src.jobID || r.EventIDOrEmpty() != src.eventID {
			continue
		}
		fields := r.Meta
		if scheduled, _ := fields["scheduled"].(bool); !scheduled {
			fields = r.PayloadFromMeta()
		}
		if scheduled, _ := fields["scheduled"].(bool); !scheduled {
			continue
		}
		at, _ := fields["scheduledAt"].(string)
		if parsed, err := time.Parse(time.RFC3339, at); err == nil && (!found || parsed.After(latest)) {
			latest, found = parsed, true
		}
	}
	return latest
}

// dueCronInvocations evaluates every cron source against worktree's current
// state and returns the invocations due to fire this tick, plus the
// Invocable resolved for each (spec §4.8 cron dispatch paragraph).
func dueCronInvocations(scanner *discovery.Scanner, store *receiptstore.Store, schedulesDir string, worktree gvtypes.Worktree, startedAt, now time.Time) ([]pendingInvocation, error) {
	sources, err := cronSources(scanner, schedulesDir)
	if err != nil {
		return nil, err
	}

	var due []pendingInvocation
	for _, src := range sources {
		if src.jobID == "" {
			continue
		}
		last := lastFireTime(store, worktree.Head, src, startedAt)
		slot, ok, err := catchUpSlot(src.expr, src.tz, last, now)
		if err != nil {
			return nil, fmt.Errorf("cron source %s: %w", src.identity, err)
		}
		if !ok {
			continue
		}

		jobs, _ := scanner.Jobs()
		var run gvtypes.Invocable
		var jobName string
		for _, j := range jobs {
			if j.ID == src.jobID {
				run = j.Run
				jobName = j.Meta.Name
				break
			}
		}
		if run == nil {
			continue
		}

		payload := map[string]any{"scheduled": true, "cron": src.expr, "scheduledAt": slot.Format(time.RFC3339)}
		for k, v := range src.payloadTemplate {
			payload[k] = v
		}

		fp, err := canonical.InvocationFingerprint(src.jobID, worktree.Head, worktree.Path, payload)
		if err != nil {
			return nil, err
		}

		inv := gvtypes.Invocation{
			EventID:     src.eventID,
			JobID:       src.jobID,
			Commit:      worktree.Head,
			Worktree:    worktree.Path,
			Branch:      worktree.Branch,
			Payload:     payload,
			Fingerprint: fp,
			ScheduledAt: &slot,
		}
		due = append(due, pendingInvocation{
			invocation: inv,
			run:        run,
			jobID:      src.jobID,
			jobName:    jobName,
		})
	}
	return due, nil
}
