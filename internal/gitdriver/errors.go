package gitdriver

import (
	"errors"
	"fmt"
)

// NotFound is returned (wrapped inside GitError or alone) when the
// requested object, ref or note does not exist. Callers use errors.Is.
var NotFound = errors.New("gitdriver: not found")

// Conflict is wrapped in the GitError of a forced ref update (UpdateRefForce)
// that failed because another writer held the ref's lock. UpdateRefCreateAtomic
// reports a lost create race as false instead. Callers treat it as "someone
// else won", never as a fatal error.
var Conflict = errors.New("gitdriver: ref update conflict")

// GitError wraps a failed git invocation with enough detail for the caller
// to classify it per the error taxonomy in spec §7 (transient, definition,
// invocation, operational, fatal).
type GitError struct {
	Command  string
	Argv     []string
	ExitCode int
	Stderr   string
	Wrapped  error // NotFound or Conflict when the failure maps to one of those
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s: exit %d: %s", e.Command, e.ExitCode, e.Stderr)
}

func (e *GitError) Unwrap() error { return e.Wrapped }

// IsNotFound reports whether err (or a wrapped GitError inside it) denotes a
// missing object/ref/note.
func IsNotFound(err error) bool { return errors.Is(err, NotFound) }

// IsConflict reports whether err denotes a lost ref-update race.
func IsConflict(err error) bool { return errors.Is(err, Conflict) }
