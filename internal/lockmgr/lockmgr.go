// Package lockmgr implements the atomic Git-ref lock protocol (spec §4.4):
// named locks backed by the atomic-create semantics of `git update-ref
// <ref> <value> ""`. It generalizes the teacher's single PID-file
// duplicate guard (internal/engine/runner.go's IsRunnerAlive/WritePID) from
// one hardcoded lock to named, TTL-reclaimable refs.
package lockmgr

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gitvan/gitvan/internal/canonical"
	"github.com/gitvan/gitvan/internal/gitdriver"
	"github.com/gitvan/gitvan/internal/gvtypes"
)

// Manager acquires and releases named locks in one repository.
type Manager struct {
	driver *gitdriver.Driver
	prefix string // locks.ref, e.g. "refs/gitvan/locks"
	now    func() time.Time
}

// New builds a Manager writing lock refs under prefix.
func New(driver *gitdriver.Driver, prefix string, now func() time.Time) *Manager {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{driver: driver, prefix: strings.TrimSuffix(prefix, "/"), now: now}
}

// refFor computes refs/gitvan/locks/<slug(name)>-<worktreeSlug>-<shortHash(name)>
// per spec §3.
func (m *Manager) refFor(name, worktree string) string {
	slug := slugify(name)
	wtSlug := slugify(worktree)
	sum := sha1.Sum([]byte(name))
	short := hex.EncodeToString(sum[:])[:8]
	return fmt.Sprintf("%s/%s-%s-%s", m.prefix, slug, wtSlug, short)
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		default:
			b.WriteByte('-')
		}
	}
	out := b.String()
	if out == "" {
		return "lock"
	}
	return out
}

// meta is the sidecar record (a blob under a parallel ref) holding
// acquisition time, resolving spec §9
// open question (c): the ref value alone ("a commit-ish, the HEAD at
// acquisition") carries no timestamp, so exact TTL reclamation needs it
// recorded somewhere the ref update doesn't already store it.
type meta struct {
	HolderID   string    `json:"holderId"`
	Worktree   string    `json:"worktree"`
	AcquiredAt time.Time `json:"acquiredAt"`
	TimeoutMs  int64     `json:"timeoutMs"`
}

// Acquire attempts to create the lock ref for name, scoped to worktree, at
// the given head commit. Acquisition is non-blocking: callers wanting to
// wait implement their own retry/backoff (spec §4.4).
func (m *Manager) Acquire(name, worktree, head, holderID string, timeout time.Duration) (gvtypes.Lock, bool, error) {
	ref := m.refFor(name, worktree)
	created, err := m.driver.UpdateRefCreateAtomic(ref, head)
	if err != nil {
		return gvtypes.Lock{}, false, fmt.Errorf("acquiring lock %q: %w", name, err)
	}
	if !created {
		return gvtypes.Lock{}, false, nil
	}

	now := m.now()
	lock := gvtypes.Lock{
		Name:       name,
		Ref:        ref,
		HolderID:   holderID,
		AcquiredAt: now,
		TimeoutMs:  timeout.Milliseconds(),
	}

	if err := m.writeMeta(ref, meta{HolderID: holderID, Worktree: worktree, AcquiredAt: now, TimeoutMs: timeout.Milliseconds()}); err != nil {
		// The ref is held regardless; without the sidecar blob CleanupStale
		// skips this lock, so only Release removes it. Not fatal to the
		// caller holding the lock.
		return lock, true, nil
	}
	return lock, true, nil
}

// writeMeta records acquisition metadata as a blob object, pointed at by a
// sidecar ref parallel to the lock ref (resolving spec §9 open question (c):
// the lock ref's own value must stay a valid commit id per invariant 2, so
// the timestamp needed for exact TTL reclamation lives alongside it instead).
func (m *Manager) writeMeta(ref string, md meta) error {
	data, err := canonical.Bytes(map[string]any{
		"holderId":   md.HolderID,
		"worktree":   md.Worktree,
		"acquiredAt": md.AcquiredAt.UTC().Format(time.RFC3339),
		"timeoutMs":  md.TimeoutMs,
	})
	if err != nil {
		return err
	}
	blob, err := m.driver.HashObjectStdin(string(data), true)
	if err != nil {
		return err
	}
	return m.driver.UpdateRefForce(metaRefFor(m.prefix, ref), blob)
}

func (m *Manager) readMeta(ref string) (meta, bool) {
	blob, err := m.driver.ShowRef(metaRefFor(m.prefix, ref))
	if err != nil {
		return meta{}, false
	}
	content, err := m.driver.CatFilePretty(blob)
	if err != nil {
		return meta{}, false
	}
	var md struct {
		HolderID   string `json:"holderId"`
		Worktree   string `json:"worktree"`
		AcquiredAt string `json:"acquiredAt"`
		TimeoutMs  int64  `json:"timeoutMs"`
	}
	if err := json.Unmarshal([]byte(content), &md); err != nil {
		return meta{}, false
	}
	ts, err := time.Parse(time.RFC3339, md.AcquiredAt)
	if err != nil {
		return meta{}, false
	}
	return meta{HolderID: md.HolderID, Worktree: md.Worktree, AcquiredAt: ts, TimeoutMs: md.TimeoutMs}, true
}

// metaRefFor derives the sidecar ref lock metadata lives under: the same
// suffix as the lock ref, under a sibling "-meta" prefix so it never
// collides with the lock namespace itself.
func metaRefFor(lockPrefix, ref string) string {
	return lockPrefix + "-meta/" + strings.TrimPrefix(ref, lockPrefix+"/")
}

// Release deletes the lock ref for name/worktree. Idempotent: releasing an
// unheld lock returns released=false with no side effects (spec §8).
func (m *Manager) Release(name, worktree string) (released bool, err error) {
	ref := m.refFor(name, worktree)
	if _, showErr := m.driver.ShowRef(ref); showErr != nil {
		return false, nil
	}
	if err := m.driver.UpdateRefDelete(ref); err != nil {
		return false, fmt.Errorf("releasing lock %q: %w", name, err)
	}
	_ = m.driver.UpdateRefDelete(metaRefFor(m.prefix, ref))
	return true, nil
}

// Stale is a lock ref found to be expired or orphaned during CleanupStale.
type Stale struct {
	Ref    string
	Reason string // "expired" or "orphaned"
}

// CleanupStale lists every lock ref under the manager's prefix and deletes
// those whose acquisition metadata is older than its recorded timeout, or
// whose worktree no longer appears in liveWorktrees (spec §4.4: "worktree
// disappearance is treated as orphan and collected"). liveWorktrees is
// keyed by worktree path, as returned by gitdriver.ListWorktrees.
func (m *Manager) CleanupStale(liveWorktrees map[string]bool) ([]Stale, error) {
	entries, err := m.driver.ForEachRef(m.prefix + "/*")
	if err != nil {
		return nil, fmt.Errorf("listing lock refs: %w", err)
	}

	var stale []Stale
	now := m.now()
	for _, e := range entries {
		md, ok := m.readMeta(e.Name)
		if !ok {
			// No metadata recorded: neither age nor worktree is known, so
			// the lock is not reclaimed here.
			continue
		}

		reason := ""
		switch {
		case !liveWorktrees[md.Worktree]:
			reason = "orphaned"
		case now.Sub(md.AcquiredAt) > time.Duration(md.TimeoutMs)*time.Millisecond:
			reason = "expired"
		}
		if reason == "" {
			continue
		}
		if err := m.driver.UpdateRefDelete(e.Name); err != nil {
			return stale, fmt.Errorf("deleting stale lock %s: %w", e.Name, err)
		}
		_ = m.driver.UpdateRefDelete(metaRefFor(m.prefix, e.Name))
		stale = append(stale, Stale{Ref: e.Name, Reason: reason})
	}
	return stale, nil
}
