package gitdriver

import (
	"strings"
)

// Add stages paths. An empty paths list stages everything ("-A"), matching
// the teacher's StageAll.
func (d *Driver) Add(paths ...string) error {
	args := []string{"add"}
	if len(paths) == 0 {
		args = append(args, "-A")
	} else {
		args = append(args, paths...)
	}
	_, err := d.git(args...)
	return err
}

// Commit creates a commit. --no-verify mirrors the teacher's Commit: GitVan
// commits are produced by the engine itself, not an interactive author, so
// pre-commit hooks have no one present to satisfy them.
func (d *Driver) Commit(message string) error {
	_, err := d.git("commit", "--no-verify", "-m", message)
	return err
}

// Tag creates a lightweight tag pointing at commit.
func (d *Driver) Tag(name, commit string) error {
	_, err := d.git("tag", "-f", name, commit)
	return err
}

// UpdateRefCreateAtomic implements the atomic-create lock protocol from
// spec §4.1/§4.4: "check-existence, attempt create, on failure re-check
// existence to disambiguate race from real error." Passing "" as the
// expected old value to `update-ref` tells git the ref must not already
// exist, so the create itself is atomic — no separate existence check is
// needed to win the race, only to classify a loss from a real error.
func (d *Driver) UpdateRefCreateAtomic(ref, value string) (bool, error) {
	_, err := d.git("update-ref", ref, value, "")
	if err == nil {
		return true, nil
	}

	// Create failed. Disambiguate: did someone else win (ref now exists),
	// or did git reject the update for an unrelated reason?
	if _, showErr := d.ShowRef(ref); showErr == nil {
		return false, nil
	}
	return false, err
}

// UpdateRefDelete deletes ref. Idempotent: deleting an absent ref is not an
// error (spec §4.4: "Release is idempotent").
func (d *Driver) UpdateRefDelete(ref string) error {
	_, err := d.git("update-ref", "-d", ref)
	if err != nil {
		if ge, ok := err.(*GitError); ok && looksLikeMissingRef(ge.Stderr) {
			return nil
		}
		return err
	}
	return nil
}

func looksLikeMissingRef(stderr string) bool {
	return strings.Contains(stderr, "unable to resolve") ||
		strings.Contains(stderr, "not a valid ref") ||
		strings.Contains(stderr, "cannot lock ref")
}

// UpdateRefForce points ref at value unconditionally, used to persist
// watermarks (refs/gitvan/watermarks/<worktreeSlug>).
func (d *Driver) UpdateRefForce(ref, value string) error {
	_, err := d.git("update-ref", ref, value)
	if ge, ok := err.(*GitError); ok && strings.Contains(ge.Stderr, "cannot lock ref") {
		ge.Wrapped = Conflict
	}
	return err
}

// NoteAdd writes (overwriting) the note on commit under notesRef.
func (d *Driver) NoteAdd(notesRef, commit, message string) error {
	_, err := d.git("notes", "--ref="+notesRef, "add", "-f", "-m", message, commit)
	return err
}

// NoteAppend appends message as an additional line to commit's note under
// notesRef, used by the receipt store so multiple receipts can attach to
// the same commit (spec §4.5).
func (d *Driver) NoteAppend(notesRef, commit, message string) error {
	_, err := d.git("notes", "--ref="+notesRef, "append", "-m", message, commit)
	return err
}

// NoteShow returns the full note content for commit under notesRef, or
// NotFound if no note exists.
func (d *Driver) NoteShow(notesRef, commit string) (string, error) {
	out, err := d.git("notes", "--ref="+notesRef, "show", commit)
	if err != nil {
		if ge, ok := err.(*GitError); ok && strings.Contains(ge.Stderr, "no note found") {
			ge.Wrapped = NotFound
		}
		return "", err
	}
	return out, nil
}

// HashObject writes (or merely hashes) the content at path, returning its
// object id.
func (d *Driver) HashObject(path string, write bool) (string, error) {
	args := []string{"hash-object"}
	if write {
		args = append(args, "-w")
	}
	args = append(args, path)
	return d.git(args...)
}

// HashObjectStdin hashes literal content without requiring a file on disk,
// used by the lock manager's sidecar metadata blobs.
func (d *Driver) HashObjectStdin(content string, write bool) (string, error) {
	args := []string{"hash-object", "--stdin"}
	if write {
		args = append(args, "-w")
	}
	stdout, stderr, err := d.runWithStdin(content, args...)
	if err != nil {
		return "", &GitError{Command: strings.Join(args, " "), Argv: args, ExitCode: exitCode(err), Stderr: stderr}
	}
	return stdout, nil
}

// WriteTree writes the current index as a tree object and returns its id.
func (d *Driver) WriteTree() (string, error) {
	return d.git("write-tree")
}

// CreateWorktree adds a linked worktree at path checked out to branch.
func (d *Driver) CreateWorktree(path, branch string) error {
	_, err := d.git("worktree", "add", path, branch)
	return err
}

// PruneWorktrees removes administrative files for worktrees whose
// directories have disappeared.
func (d *Driver) PruneWorktrees() error {
	_, err := d.git("worktree", "prune")
	return err
}
