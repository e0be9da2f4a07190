package gitdriver

import (
	"strconv"
	"strings"
	"time"

	"github.com/gitvan/gitvan/internal/gvtypes"
)

// lookbackDefault bounds RevList when no "since" commit is known, matching
// daemon.pollMs/lookback defaults in spec §6 (daemon.lookback, 600s).
const lookbackDefault = 600 * time.Second

// Head returns the current commit id. NotFound on a repository with no
// commits yet (spec §4.1: "head() -> current commit id; fails NotFound if
// repo has no commits").
func (d *Driver) Head() (string, error) {
	out, err := d.git("rev-parse", "HEAD")
	if err != nil {
		if ge, ok := err.(*GitError); ok && looksLikeNoCommits(ge.Stderr) {
			ge.Wrapped = NotFound
			return "", ge
		}
		return "", err
	}
	return out, nil
}

func looksLikeNoCommits(stderr string) bool {
	return strings.Contains(stderr, "unknown revision") ||
		strings.Contains(stderr, "ambiguous argument 'HEAD'") ||
		strings.Contains(stderr, "Needed a single revision")
}

// Branch returns the current branch name, or the sentinel "HEAD" when the
// worktree is in detached-HEAD state.
func (d *Driver) Branch() (string, error) {
	out, err := d.git("symbolic-ref", "--short", "-q", "HEAD")
	if err != nil {
		if ge, ok := err.(*GitError); ok && ge.ExitCode == 1 {
			// Not on a branch: detached HEAD.
			return "HEAD", nil
		}
		return "", err
	}
	return out, nil
}

// RepoRoot returns the absolute path to the repository's working tree root
// (for the main worktree) or the worktree's own root when run from a linked
// worktree.
func (d *Driver) RepoRoot() (string, error) {
	return d.git("rev-parse", "--show-toplevel")
}

// ListWorktrees parses `git worktree list --porcelain`. The first entry git
// reports is marked IsMain and every other entry is not; paths are not
// compared against RepoRoot.
func (d *Driver) ListWorktrees() ([]gvtypes.Worktree, error) {
	out, err := d.git("worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out) == "" {
		return nil, nil
	}

	var worktrees []gvtypes.Worktree
	var cur gvtypes.Worktree
	flush := func() {
		if cur.Path != "" {
			worktrees = append(worktrees, cur)
		}
		cur = gvtypes.Worktree{}
	}

	for _, line := range strings.Split(out, "\n") {
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			ref := strings.TrimPrefix(line, "branch ")
			cur.Branch = strings.TrimPrefix(ref, "refs/heads/")
		case line == "detached":
			cur.Branch = "HEAD"
		}
	}
	flush()

	if len(worktrees) > 0 {
		worktrees[0].IsMain = true
		for i := 1; i < len(worktrees); i++ {
			worktrees[i].IsMain = false
		}
	}
	return worktrees, nil
}

// RevList returns ancestors of until not reachable from since, newest-first.
// An empty since falls back to a bounded lookback window (spec §4.1/§6).
func (d *Driver) RevList(since, until string, lookback time.Duration) ([]string, error) {
	if lookback <= 0 {
		lookback = lookbackDefault
	}

	var out string
	var err error
	if since == "" {
		cutoff := time.Now().UTC().Add(-lookback).Format(time.RFC3339)
		out, err = d.git("rev-list", "--since="+cutoff, until)
	} else {
		out, err = d.git("rev-list", since+".."+until)
	}
	if err != nil {
		if ge, ok := err.(*GitError); ok && looksLikeNoCommits(ge.Stderr) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// RevListAll returns commits reachable from until, newest-first, with no
// time-window bound (unlike RevList, which is tick-oriented and falls back
// to a lookback window). maxCount <= 0 means unbounded; used by the receipt
// store's full-history reads (spec §4.5).
func (d *Driver) RevListAll(until string, maxCount int) ([]string, error) {
	args := []string{"rev-list"}
	if maxCount > 0 {
		args = append(args, "-n", strconv.Itoa(maxCount))
	}
	args = append(args, until)
	out, err := d.git(args...)
	if err != nil {
		if ge, ok := err.(*GitError); ok && looksLikeNoCommits(ge.Stderr) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// IsAncestor reports whether a is an ancestor of (or equal to) b. Never
// raises: any git failure (including "unrelated histories") is false.
func (d *Driver) IsAncestor(a, b string) bool {
	_, err := d.git("merge-base", "--is-ancestor", a, b)
	return err == nil
}

// commitFieldSep separates the NUL-delimited fields extracted by CommitMeta.
const commitFieldSep = "\x00"

// CommitMeta gathers commit metadata with one `git log` call, one call for
// changed paths (`diff-tree`, or `diff` against the first parent for a
// merge), one `tag --points-at` call and one `branch --contains` call. The
// result is not cached.
func (d *Driver) CommitMeta(id string) (gvtypes.CommitMeta, error) {
	format := strings.Join([]string{"%H", "%P", "%an", "%ae", "%cn", "%ce", "%cI", "%B"}, commitFieldSep)
	out, err := d.git("log", "-1", "--format="+format, id)
	if err != nil {
		if ge, ok := err.(*GitError); ok && looksLikeNoCommits(ge.Stderr) {
			ge.Wrapped = NotFound
			return gvtypes.CommitMeta{}, ge
		}
		return gvtypes.CommitMeta{}, err
	}

	parts := strings.SplitN(out, commitFieldSep, 8)
	for len(parts) < 8 {
		parts = append(parts, "")
	}

	ts, _ := time.Parse(time.RFC3339, parts[6])

	var parents []string
	if parts[1] != "" {
		parents = strings.Fields(parts[1])
	}

	meta := gvtypes.CommitMeta{
		ID:             parts[0],
		Parents:        parents,
		Author:         parts[2],
		AuthorEmail:    parts[3],
		Committer:      parts[4],
		CommitterEmail: parts[5],
		Timestamp:      ts.UTC(),
		Message:        strings.TrimRight(parts[7], "\n"),
	}

	changed, err := d.changedPaths(meta)
	if err != nil {
		return gvtypes.CommitMeta{}, err
	}
	meta.ChangedPaths = changed

	tags, err := d.TagsAt(id)
	if err != nil {
		return gvtypes.CommitMeta{}, err
	}
	meta.Tags = tags

	branches, err := d.BranchesContaining(id)
	if err != nil {
		return gvtypes.CommitMeta{}, err
	}
	meta.Branches = branches

	return meta, nil
}

// changedPaths computes the files touched by a commit. For merge commits it
// uses the diff relative to the first parent only (spec §8, "path predicate
// against a merge commit uses changed paths relative to the first parent").
func (d *Driver) changedPaths(meta gvtypes.CommitMeta) ([]string, error) {
	if len(meta.Parents) >= 2 {
		return d.DiffNames(meta.Parents[0], meta.ID)
	}
	return d.DiffTreeNames(meta.ID)
}

// DiffTreeNames lists paths changed by commit relative to its sole parent
// (or, for a root commit, relative to the empty tree).
func (d *Driver) DiffTreeNames(commit string) ([]string, error) {
	out, err := d.git("diff-tree", "--no-commit-id", "-r", "--name-only", commit)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// DiffNames lists paths changed between two commits.
func (d *Driver) DiffNames(a, b string) ([]string, error) {
	out, err := d.git("diff", "--name-only", a, b)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// TagsAt returns the tag names pointing directly at commit.
func (d *Driver) TagsAt(commit string) ([]string, error) {
	out, err := d.git("tag", "--points-at", commit)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// BranchesContaining returns local branch names whose history includes
// commit.
func (d *Driver) BranchesContaining(commit string) ([]string, error) {
	out, err := d.git("branch", "--contains", commit, "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// CatFilePretty returns the pretty-printed contents of a Git object.
func (d *Driver) CatFilePretty(id string) (string, error) {
	out, err := d.git("cat-file", "-p", id)
	if err != nil {
		if ge, ok := err.(*GitError); ok && strings.Contains(ge.Stderr, "Not a valid object name") {
			ge.Wrapped = NotFound
		}
		return "", err
	}
	return out, nil
}

// RefEntry is one row of `git for-each-ref`.
type RefEntry struct {
	Name   string
	Object string
}

// ForEachRef lists refs matching pattern (e.g. "refs/gitvan/locks/*").
func (d *Driver) ForEachRef(pattern string) ([]RefEntry, error) {
	out, err := d.git("for-each-ref", "--format=%(refname) %(objectname)", pattern)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var entries []RefEntry
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		entries = append(entries, RefEntry{Name: fields[0], Object: fields[1]})
	}
	return entries, nil
}

// ShowRef resolves a single ref to its object id. NotFound if absent.
func (d *Driver) ShowRef(ref string) (string, error) {
	out, err := d.git("show-ref", "--verify", "--hash", ref)
	if err != nil {
		if ge, ok := err.(*GitError); ok && ge.ExitCode == 1 {
			ge.Wrapped = NotFound
		}
		return "", err
	}
	return out, nil
}

// RevParseVerify resolves any revision expression, failing NotFound if it
// doesn't exist rather than a generic error.
func (d *Driver) RevParseVerify(rev string) (string, error) {
	out, err := d.git("rev-parse", "--verify", rev)
	if err != nil {
		if ge, ok := err.(*GitError); ok {
			ge.Wrapped = NotFound
		}
		return "", err
	}
	return out, nil
}

