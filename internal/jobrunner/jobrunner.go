// Package jobrunner executes a resolved invocation under gvcontext,
// gating it with the lock manager and delegating receipt construction and
// persistence to the receipt store (spec §4.7). It generalizes the
// teacher's processConcern status-transition writes (internal/engine/
// engine.go) and invokeAgent's subprocess invocation to the Go-closure-or-
// subprocess Invocable contract.
package jobrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gitvan/gitvan/internal/canonical"
	"github.com/gitvan/gitvan/internal/gvcontext"
	"github.com/gitvan/gitvan/internal/gvlog"
	"github.com/gitvan/gitvan/internal/gvtypes"
	"github.com/gitvan/gitvan/internal/lockmgr"
	"github.com/gitvan/gitvan/internal/receiptstore"
)

// Runner ties together lock acquisition, context extension, invocation and
// receipt persistence for one invocation at a time.
type Runner struct {
	locks *lockmgr.Manager
	store *receiptstore.Store
}

// New builds a Runner writing locks via locks and receipts via store.
func New(locks *lockmgr.Manager, store *receiptstore.Store) *Runner {
	return &Runner{locks: locks, store: store}
}

// Job identifies the invocable and descriptive metadata behind an
// invocation (spec §4.7 step 2: "{job:{id,name,tags}, ...}").
type Job struct {
	ID   string
	Name string
	Tags []string
	Run  gvtypes.Invocable
}

// Run executes inv's job under gv, gated by a lock named lockName (the
// caller's choice; typically "job-<jobId>-<commit>" per spec §4.7 step 1),
// and produces exactly one receipt (invariant 1, §8) once the lock call
// succeeds. If the lock manager itself fails, that error is returned and no
// receipt is written.
func (r *Runner) Run(parent context.Context, gv *gvcontext.Context, job Job, inv gvtypes.Invocation, lockName string, timeout time.Duration) (gvtypes.Receipt, error) {
	holderID := uuid.NewString()
	_, acquired, err := r.locks.Acquire(lockName, inv.Worktree, inv.Commit, holderID, timeout)
	if err != nil {
		return gvtypes.Receipt{}, fmt.Errorf("acquiring lock: %w", err)
	}
	if !acquired {
		receipt := r.buildReceipt(job, inv, gv.Now(), 0, gvtypes.StatusSkipped, nil, nil,
			map[string]any{"reason": "lock-held"})
		if err := r.store.Append(receipt); err != nil {
			return receipt, fmt.Errorf("writing skipped receipt: %w", err)
		}
		return receipt, nil
	}
	defer func() { _, _ = r.locks.Release(lockName, inv.Worktree) }()

	extended := gv.With(map[string]any{
		"job": map[string]any{"id": job.ID, "name": job.Name, "tags": job.Tags},
		"git": map[string]any{"head": inv.Commit, "branch": inv.Branch, "worktree": inv.Worktree},
		"payload": inv.Payload,
		"nowISO":  gv.Now().UTC().Format(time.RFC3339),
	})

	start := gv.Now()
	var result any
	var runErr error
	err = gvcontext.Run(parent, extended, func(ctx context.Context) error {
		result, runErr = job.Run.Invoke(ctx, inv.Payload)
		return nil
	})
	if err != nil {
		runErr = err
	}
	duration := gv.Now().Sub(start)

	status := gvtypes.StatusSuccess
	var errMsg *string
	meta := map[string]any{}
	if runErr != nil {
		status = gvtypes.StatusError
		msg := runErr.Error()
		errMsg = &msg
		gvlog.LogError("job %s failed on %s: %s", job.ID, inv.Commit, msg)
	}
	if !canonicalizable(result) {
		status = gvtypes.StatusError
		msg := "result is not canonicalizable"
		errMsg = &msg
		result = nil
	}

	receipt := r.buildReceipt(job, inv, start, duration.Milliseconds(), status, result, errMsg, meta)

	if err := r.store.Append(receipt); err != nil {
		return receipt, fmt.Errorf("writing receipt: %w", err)
	}
	return receipt, nil
}

func (r *Runner) buildReceipt(job Job, inv gvtypes.Invocation, startedAt time.Time, durationMs int64, status string, result any, errMsg *string, meta map[string]any) gvtypes.Receipt {
	var jobID *string
	if job.ID != "" {
		jobID = &job.ID
	}
	var eventID *string
	if inv.EventID != "" {
		eventID = &inv.EventID
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["payload"] = inv.Payload

	return gvtypes.Receipt{
		ID:          uuid.NewString(),
		JobID:       jobID,
		EventID:     eventID,
		Status:      status,
		Commit:      inv.Commit,
		Branch:      inv.Branch,
		Worktree:    inv.Worktree,
		StartedAt:   startedAt.UTC().Format(time.RFC3339),
		DurationMs:  durationMs,
		Result:      result,
		Error:       errMsg,
		Artifacts:   artifactsFrom(result),
		Fingerprint: inv.Fingerprint,
		Meta:        meta,
	}
}

// artifactsFrom extracts a logPath field from the invocable's result, when
// present (execjob.Result carries one), as the receipt's artifact list.
func artifactsFrom(result any) []string {
	m, ok := result.(map[string]any)
	if !ok {
		if asMap, err := toMap(result); err == nil {
			m = asMap
		} else {
			return []string{}
		}
	}
	if path, ok := m["logPath"].(string); ok && path != "" {
		return []string{path}
	}
	return []string{}
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// canonicalizable reports whether v is a tree of strings, numbers, bools,
// nil, lists and string-keyed maps (spec §9: "results must be
// canonicalizable") by round-tripping it through canonical.Bytes.
func canonicalizable(v any) bool {
	if v == nil {
		return true
	}
	_, err := canonical.Bytes(v)
	return err == nil
}
