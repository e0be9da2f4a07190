package discovery

import "fmt"

// DefinitionError reports a job or event file that failed to parse or is
// missing a required field. Definition errors are collected and reported;
// they never abort a scan of the rest of the tree.
type DefinitionError struct {
	Path string
	Err  error
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *DefinitionError) Unwrap() error { return e.Err }
