// Package receiptstore persists and reads the append-only execution
// receipts written as Git notes (spec §4.5), generalizing the teacher's
// flat-file-per-station status cache (internal/engine's WriteStatus/
// ReadStatus JSON shape, grounded on repo.AddNote in internal/git/git.go)
// to notes-per-commit under a configurable ref.
package receiptstore

import (
	"encoding/json"
	"strings"

	"github.com/gitvan/gitvan/internal/canonical"
	"github.com/gitvan/gitvan/internal/gitdriver"
	"github.com/gitvan/gitvan/internal/gvtypes"
)

// Store reads and writes receipts under NotesRef.
type Store struct {
	driver   *gitdriver.Driver
	notesRef string
}

// New builds a Store writing/reading notes under notesRef (spec §6:
// receipts.ref, default refs/notes/gitvan/results).
func New(driver *gitdriver.Driver, notesRef string) *Store {
	return &Store{driver: driver, notesRef: notesRef}
}

// Append writes receipt as one more JSON line on its commit's note,
// appending (not overwriting) so multiple receipts can attach to the same
// commit (spec §4.5 step 3).
func (s *Store) Append(receipt gvtypes.Receipt) error {
	line, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	return s.driver.NoteAppend(s.notesRef, receipt.Commit, string(line))
}

// defaultGetLimit bounds Get's search depth (spec §4.5: "bounded search of
// default 1000 most recent receipts").
const defaultGetLimit = 1000

// ReadCommitNote parses every receipt line attached to commit's note,
// tolerating a truncated final line by skipping it (spec §9: "tolerate
// truncated final lines and skip with a counter").
func (s *Store) ReadCommitNote(commit string) ([]gvtypes.Receipt, int, error) {
	content, err := s.driver.NoteShow(s.notesRef, commit)
	if err != nil {
		if gitdriver.IsNotFound(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	var receipts []gvtypes.Receipt
	skipped := 0
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var r gvtypes.Receipt
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			skipped++
			continue
		}
		receipts = append(receipts, r)
	}
	return receipts, skipped, nil
}

// Filter selects receipts matching the given, optional criteria. A zero
// value for a field means "don't filter on it".
type Filter struct {
	JobID    string
	EventID  string
	Status   string
	Since    string // RFC3339; matches receipts with StartedAt >= Since
	Until    string // RFC3339; matches receipts with StartedAt <= Until
	MaxCount int    // 0 means defaultGetLimit
}

func (f Filter) matches(r gvtypes.Receipt) bool {
	if f.JobID != "" && r.JobIDOrEmpty() != f.JobID {
		return false
	}
	if f.EventID != "" && r.EventIDOrEmpty() != f.EventID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Since != "" && r.StartedAt < f.Since {
		return false
	}
	if f.Until != "" && r.StartedAt > f.Until {
		return false
	}
	return true
}

// List walks commits reachable from head (newest first, as returned by
// gitdriver.RevListAll with no count bound), reading each one's
// note and applying filter, stopping once MaxCount matches are collected
// (spec §4.5: "List order is newest-commit-first").
func (s *Store) List(head string, filter Filter) ([]gvtypes.Receipt, error) {
	limit := filter.MaxCount
	if limit == 0 {
		limit = defaultGetLimit
	}

	// RevListAll(head, 0) includes head itself: git rev-list <rev> lists the
	// commit and its ancestors, newest first, unbounded by any time window
	// (unlike RevList, which is tick-oriented and lookback-bounded).
	commits, err := s.driver.RevListAll(head, 0)
	if err != nil {
		return nil, err
	}

	var out []gvtypes.Receipt
	for _, c := range commits {
		receipts, _, err := s.ReadCommitNote(c)
		if err != nil {
			return nil, err
		}
		for _, r := range receipts {
			if !filter.matches(r) {
				continue
			}
			out = append(out, r)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// Get searches for a receipt by id within the bounded window (spec §4.5).
func (s *Store) Get(head, id string) (gvtypes.Receipt, error) {
	receipts, err := s.List(head, Filter{MaxCount: defaultGetLimit})
	if err != nil {
		return gvtypes.Receipt{}, err
	}
	for _, r := range receipts {
		if r.ID == id {
			return r, nil
		}
	}
	return gvtypes.Receipt{}, ErrNotFound
}

// Verification is the outcome of re-checking a receipt's fingerprint
// against its recomputed immutable fields.
type Verification struct {
	Valid    bool
	Expected string
}

// Verify recomputes fingerprint(canonical(r.immutableFields)) and compares
// it against r.Fingerprint (invariant 5, §8). The immutable fields are
// jobId, commit, worktree and the original payload, recovered from
// r.Meta["payload"] (see gvtypes.Receipt.PayloadFromMeta).
func Verify(r gvtypes.Receipt) (Verification, error) {
	expected, err := canonical.InvocationFingerprint(r.JobIDOrEmpty(), r.Commit, r.Worktree, r.PayloadFromMeta())
	if err != nil {
		return Verification{}, err
	}
	return Verification{Valid: expected == r.Fingerprint, Expected: expected}, nil
}
