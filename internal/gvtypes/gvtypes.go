// Package gvtypes holds the data shapes shared across the execution core:
// worktrees, commit metadata, job/event definitions, invocations, locks and
// receipts. Keeping them in one leaf package avoids import cycles between
// the git driver, discovery, event router, job runner and receipt store,
// which all need the same vocabulary.
package gvtypes

import (
	"context"
	"time"
)

// Worktree identifies one checkout sharing a repository's object database.
type Worktree struct {
	Path   string
	Head   string
	Branch string
	IsMain bool
}

// CommitMeta is the metadata the event router evaluates predicates against.
type CommitMeta struct {
	ID             string
	Parents        []string
	Author         string
	AuthorEmail    string
	Committer      string
	CommitterEmail string
	Message        string
	Timestamp      time.Time
	Branches       []string
	Tags           []string
	ChangedPaths   []string
}

// IsMerge reports whether the commit has more than one parent.
func (c CommitMeta) IsMerge() bool { return len(c.Parents) >= 2 }

// Invocable is the capability a job or inline event target exposes: given a
// payload and a standard context carrying the ambient gvcontext.Context, it
// produces a canonicalizable result or returns an error. Implementations may
// be native Go closures or adapters over a subprocess (see execjob).
type Invocable interface {
	Invoke(ctx context.Context, payload map[string]any) (any, error)
}

// InvocableFunc adapts a plain function to the Invocable interface.
type InvocableFunc func(ctx context.Context, payload map[string]any) (any, error)

// Invoke calls f.
func (f InvocableFunc) Invoke(ctx context.Context, payload map[string]any) (any, error) {
	return f(ctx, payload)
}

// JobMeta is the optional descriptive metadata attached to a job.
type JobMeta struct {
	Name string
	Desc string
	Tags []string
}

// JobDef is a loaded job definition.
type JobDef struct {
	ID          string
	Meta        JobMeta
	Cron        string
	Run         Invocable
	SourcePath  string
	ContentHash string
}

// PredicateKind tags the sum type describing when an event fires.
type PredicateKind string

const (
	PredicateCron    PredicateKind = "cron"
	PredicateBranch  PredicateKind = "branch"
	PredicatePath    PredicateKind = "path"
	PredicateTag     PredicateKind = "tag"
	PredicateMessage PredicateKind = "message"
	PredicateAuthor  PredicateKind = "author"
	PredicateMerge   PredicateKind = "merge"
	PredicateAny     PredicateKind = "any"
)

// Predicate is the tagged-sum value for event triggers. Exactly the fields
// relevant to Kind are populated; evaluate(Predicate, CommitMeta, Worktree)
// is the single dispatcher (see the eventrouter package's evaluate method).
type Predicate struct {
	Kind    PredicateKind
	Expr    string // cron
	TZ      string // cron
	Pattern string // branch, path, tag (glob)
	Regex   string // message, author
}

// Target is what an event dispatches to: a named job (with optional payload
// template) or an inline invocable supplied by the embedding application.
type Target struct {
	JobID           string
	PayloadTemplate map[string]string
	Inline          Invocable
}

// EventDef is a loaded event definition.
type EventDef struct {
	ID          string
	Name        string
	Description string
	Predicate   Predicate
	Target      Target
	SourcePath  string
	ContentHash string
}

// ScheduleDef is an optional static schedule record (schedules/*.yaml).
type ScheduleDef struct {
	ID       string
	Cron     string
	JobID    string
	Enabled  bool
	Timezone string
}

// Invocation is a deduplicated unit of work bound to a commit.
type Invocation struct {
	EventID     string // empty if not event-originated (e.g. direct dispatch)
	JobID       string
	Commit      string
	Worktree    string
	Branch      string
	Payload     map[string]any
	Fingerprint string
	ScheduledAt *time.Time // set for cron-dispatched invocations
}

// Lock is a held or formerly-held named lock.
type Lock struct {
	Name       string
	Ref        string
	HolderID   string
	AcquiredAt time.Time
	TimeoutMs  int64
	Meta       map[string]any
}

// Receipt status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Receipt is the immutable, append-only record of one completed invocation.
type Receipt struct {
	ID          string         `json:"id"`
	JobID       *string        `json:"jobId"`
	EventID     *string        `json:"eventId"`
	Status      string         `json:"status"`
	Commit      string         `json:"commit"`
	Branch      string         `json:"branch"`
	Worktree    string         `json:"worktree"`
	StartedAt   string         `json:"startedAt"`
	DurationMs  int64          `json:"durationMs"`
	Result      any            `json:"result"`
	Error       *string        `json:"error"`
	Artifacts   []string       `json:"artifacts"`
	Fingerprint string         `json:"fingerprint"`
	Meta        map[string]any `json:"meta"`
}

// JobIDOrEmpty and EventIDOrEmpty collapse the optional pointer fields to ""
// so callers recomputing a fingerprint don't need nil checks.
func (r Receipt) JobIDOrEmpty() string {
	if r.JobID == nil {
		return ""
	}
	return *r.JobID
}

func (r Receipt) EventIDOrEmpty() string {
	if r.EventID == nil {
		return ""
	}
	return *r.EventID
}

// PayloadFromMeta recovers the originating invocation's payload, which the
// job runner records under Meta["payload"] precisely so receipts stay
// independently verifiable against invariant 5 in spec §8 without needing to
// carry a separate payload field in the wire schema.
func (r Receipt) PayloadFromMeta() map[string]any {
	if r.Meta == nil {
		return nil
	}
	if p, ok := r.Meta["payload"].(map[string]any); ok {
		return p
	}
	return nil
}
